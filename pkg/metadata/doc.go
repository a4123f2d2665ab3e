// Package metadata writes and reads the optional JSON sidecar stored beside
// each downloaded image ("<filename>.json").
package metadata
