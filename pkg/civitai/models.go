package civitai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"civitscraper/pkg/models"
)

// ImagesResponse is the body of GET /api/v1/images
type ImagesResponse struct {
	Items    []ImageItem  `json:"items"`
	Metadata PageMetadata `json:"metadata"`
}

// ImageItem is one entry of ImagesResponse.Items
type ImageItem struct {
	ID        json.RawMessage `json:"id"`
	URL       string          `json:"url"`
	Hash      string          `json:"hash"`
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	NSFWLevel json.RawMessage `json:"nsfwLevel"`
	CreatedAt string          `json:"createdAt"`
	PostID    *int64          `json:"postId"`
	Username  string          `json:"username"`
	Meta      json.RawMessage `json:"meta"`
}

// PageMetadata carries the pagination cursor
type PageMetadata struct {
	// NextCursor is a string or a number depending on the sort order,
	// absent, null, "" or 0 on the last page.
	NextCursor json.RawMessage `json:"nextCursor"`
	NextPage   string          `json:"nextPage"`
}

// Cursor returns the next cursor as a string, empty when there is none.
// A numeric zero ends pagination like a missing cursor does.
func (m PageMetadata) Cursor() (string, error) {
	cursor, err := scalarString(m.NextCursor)
	if err != nil {
		return "", err
	}
	raw := bytes.TrimSpace(m.NextCursor)
	if len(raw) > 0 && raw[0] != '"' {
		if f, err := strconv.ParseFloat(cursor, 64); err == nil && f == 0 {
			return "", nil
		}
	}
	return cursor, nil
}

// Rejected is an item that failed validation at the parse boundary.
type Rejected struct {
	ID     string
	URL    string
	Reason string
}

// Page is one validated page of a user's images
type Page struct {
	Records    []models.ImageRecord
	Rejected   []Rejected
	NextCursor string
}

// Len is the number of items the API listed on this page.
func (p *Page) Len() int {
	return len(p.Records) + len(p.Rejected)
}

// toPage validates every item and separates usable records from rejects.
func (r *ImagesResponse) toPage() (*Page, error) {
	cursor, err := r.Metadata.Cursor()
	if err != nil {
		return nil, fmt.Errorf("invalid nextCursor: %w", err)
	}

	page := &Page{NextCursor: cursor}
	for _, item := range r.Items {
		rec, err := item.toRecord()
		if err != nil {
			id, _ := scalarString(item.ID)
			page.Rejected = append(page.Rejected, Rejected{ID: id, URL: item.URL, Reason: err.Error()})
			continue
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

func (it ImageItem) toRecord() (models.ImageRecord, error) {
	id, err := scalarString(it.ID)
	if err != nil {
		return models.ImageRecord{}, fmt.Errorf("invalid id: %w", err)
	}
	rec, err := models.NewImageRecord(id, it.URL)
	if err != nil {
		return models.ImageRecord{}, err
	}

	rec.Width = it.Width
	rec.Height = it.Height
	rec.Hash = it.Hash
	rec.Username = it.Username
	rec.NSFWLevel, _ = scalarString(it.NSFWLevel)
	if it.PostID != nil {
		rec.PostID = *it.PostID
	}
	if it.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, it.CreatedAt); err == nil {
			rec.CreatedAt = t
		}
	}
	if len(it.Meta) > 0 && !bytes.Equal(it.Meta, []byte("null")) {
		rec.Meta = append(json.RawMessage(nil), it.Meta...)
	}
	return rec, nil
}

// scalarString renders a JSON string or number as a string. null and
// missing values become "".
func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("expected string or number, got %s", raw)
		}
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		return n.String(), nil
	}
}
