package civitai

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	// BaseURL is the public Civitai site
	BaseURL = "https://civitai.com"

	// ImagesEndpoint lists images, filterable by username
	ImagesEndpoint = "/api/v1/images"

	// DefaultPageLimit is the number of images requested per page
	DefaultPageLimit = 100

	// MaxPageLimit is the largest page size the API accepts
	MaxPageLimit = 200
)

// Query holds the listing parameters sent with every page request
type Query struct {
	Limit  int
	Sort   string
	Period string
	NSFW   string
}

// DefaultQuery returns newest-first, all-time, all ratings, 100 per page.
func DefaultQuery() Query {
	return Query{
		Limit:  DefaultPageLimit,
		Sort:   "Newest",
		Period: "AllTime",
		NSFW:   "X",
	}
}

// ImagesURL builds the listing URL for one page. An empty cursor requests
// the first page.
func ImagesURL(baseURL, username, cursor string, q Query) string {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	} else if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	params := url.Values{}
	params.Set("username", username)
	params.Set("limit", strconv.Itoa(limit))
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if q.Period != "" {
		params.Set("period", q.Period)
	}
	if q.NSFW != "" {
		params.Set("nsfw", q.NSFW)
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	return strings.TrimRight(baseURL, "/") + ImagesEndpoint + "?" + params.Encode()
}

// IsValidUsername reports whether username is plausible for the API
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 64 {
		return false
	}
	for _, char := range username {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '_' || char == '-') {
			return false
		}
	}
	return true
}

// SanitizeUsername accepts "@name", "name/" or a profile URL such as
// https://civitai.com/user/name/images and returns the bare username.
func SanitizeUsername(username string) string {
	username = strings.TrimSpace(username)
	if username == "" {
		return ""
	}

	if u, err := url.Parse(username); err == nil && u.Host != "" {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i := 0; i+1 < len(parts); i++ {
			if parts[i] == "user" {
				return parts[i+1]
			}
		}
		return ""
	}

	username = strings.TrimPrefix(username, "@")
	return strings.TrimRight(username, "/ ")
}
