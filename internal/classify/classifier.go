package classify

import "context"

// Result is the verdict for one file.
type Result struct {
	ShouldSkip bool     `json:"should_skip"`
	Confidence float64  `json:"confidence"`
	Category   string   `json:"category,omitempty"`
	Reason     string   `json:"reason"`
	Strategies []string `json:"strategies,omitempty"`
}

// Classifier decides whether a file should be skipped. thumbnailPath may be empty.
type Classifier interface {
	Classify(ctx context.Context, filePath, thumbnailPath string) (Result, error)
}
