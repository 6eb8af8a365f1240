package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies the file a catalog entry points at.
type Kind string

const (
	// KindVRM is the canonical avatar format.
	KindVRM Kind = "vrm"
	// KindArchive is a zip/7z/rar payload that held no canonical file.
	KindArchive Kind = "archive"
	// KindNeedsConversion marks alternate 3D formats awaiting the converter.
	KindNeedsConversion Kind = "needs_conversion"
	// KindUnknown is used when neither extension nor content identify the file.
	KindUnknown Kind = "unknown"
)

// Notes is the open key-value bag attached to every entry. It is stored as a
// nested JSON document and round-trips through export/import unchanged.
type Notes map[string]any

// Entry is one acquired artifact.
type Entry struct {
	ID             int64     `json:"id,omitempty"`
	Source         string    `json:"source"`
	SourceItemID   string    `json:"source_item_id"`
	DisplayName    string    `json:"display_name"`
	Artist         string    `json:"artist"`
	SourceURL      string    `json:"source_url"`
	License        string    `json:"license"`
	LicenseURL     string    `json:"license_url"`
	ThumbnailPath  string    `json:"thumbnail_path"`
	AcquiredAt     time.Time `json:"acquired_at"`
	FilePath       string    `json:"file_path"`
	FileKind       Kind      `json:"file_kind"`
	OriginalFormat string    `json:"original_format"`
	SizeBytes      int64     `json:"size_bytes"`
	Notes          Notes     `json:"notes"`
}

// AddResult reports the outcome of Add. Added is false when an entry with the
// same (source, source_item_id) already existed; the store is left unchanged.
type AddResult struct {
	ID    int64
	Added bool
}

// ListFilter narrows ListAll. Zero values match everything.
type ListFilter struct {
	Source string
	Kind   Kind
	Limit  int
}

// AttemptStatus represents the progress of one acquisition attempt.
type AttemptStatus string

const (
	StatusDownloaded AttemptStatus = "downloaded"
	StatusExtracted  AttemptStatus = "extracted"
	StatusConverted  AttemptStatus = "converted"
	StatusFailed     AttemptStatus = "failed"
)

var allStatuses = []AttemptStatus{StatusDownloaded, StatusExtracted, StatusConverted, StatusFailed}

// rank orders non-failed statuses; failed sits outside the ladder.
func (s AttemptStatus) rank() int {
	switch s {
	case StatusDownloaded:
		return 1
	case StatusExtracted:
		return 2
	case StatusConverted:
		return 3
	default:
		return 0
	}
}

// ParseStatus converts user input into an AttemptStatus.
func ParseStatus(value string) (AttemptStatus, error) {
	normalized := AttemptStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown attempt status %q", value)
}

// AllStatuses returns every attempt status in lifecycle order.
func AllStatuses() []AttemptStatus {
	return append([]AttemptStatus(nil), allStatuses...)
}

// Attempt tracks one download independent of the catalog entries it produced.
type Attempt struct {
	Source       string
	SourceItemID string
	SourceURL    string
	DownloadedAt time.Time
	UpdatedAt    time.Time
	RawPath      string
	Status       AttemptStatus
	Error        string
}

// Stats summarizes catalog and attempt contents.
type Stats struct {
	Total      int
	TotalBytes int64
	BySource   map[string]int
	ByKind     map[Kind]int
	Attempts   map[AttemptStatus]int
}
