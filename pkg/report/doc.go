// Package report persists the summary of a download run as JSON in the
// output directory.
//
// The report lists every image that failed, with its reason and attempt
// count, so a later run can be audited. Reruns are cheap because existing
// files are skipped; the report is overwritten at the end of each run.
//
// Usage:
//
//	mgr := report.NewManager(outputDir, log)
//	prev, err := mgr.Load() // nil, nil on first run
//	...
//	err = mgr.Save(&report.Report{Username: "alice", Status: "success"})
package report
