package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"civitscraper/pkg/models"
	"civitscraper/pkg/storage"
)

// Suffix is appended to the image path to name its sidecar file.
const Suffix = ".json"

// ImageMetadata is the sidecar written next to a downloaded image
type ImageMetadata struct {
	// Core identifiers
	ID       string `json:"id"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Username string `json:"username,omitempty"`
	PostID   int64  `json:"post_id,omitempty"`

	// Media properties
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Hash      string `json:"hash,omitempty"`
	NSFWLevel string `json:"nsfw_level,omitempty"`
	FileSize  int64  `json:"file_size,omitempty"`

	// Timestamps
	CreatedAt    time.Time `json:"created_at"`
	DownloadedAt time.Time `json:"downloaded_at"`

	// Generation parameters exactly as the API returned them
	Meta json.RawMessage `json:"meta,omitempty"`
}

// FromRecord converts an image record to ImageMetadata. FileSize is
// taken from rec.Size.
func FromRecord(rec models.ImageRecord) *ImageMetadata {
	meta := &ImageMetadata{
		ID:           rec.ID,
		URL:          rec.URL,
		Filename:     rec.Filename,
		Username:     rec.Username,
		PostID:       rec.PostID,
		Width:        rec.Width,
		Height:       rec.Height,
		Hash:         rec.Hash,
		NSFWLevel:    rec.NSFWLevel,
		FileSize:     rec.Size,
		CreatedAt:    rec.CreatedAt,
		DownloadedAt: time.Now().UTC(),
	}
	if len(rec.Meta) > 0 && string(rec.Meta) != "null" {
		meta.Meta = rec.Meta
	}
	return meta
}

// Save writes the metadata next to imagePath
func (m *ImageMetadata) Save(imagePath string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := storage.WriteFileAtomic(imagePath+Suffix, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	return nil
}

// Load reads the sidecar of imagePath
func Load(imagePath string) (*ImageMetadata, error) {
	data, err := os.ReadFile(imagePath + Suffix)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	var meta ImageMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &meta, nil
}

// Exists checks if a sidecar exists for imagePath
func Exists(imagePath string) bool {
	_, err := os.Stat(imagePath + Suffix)
	return err == nil
}
