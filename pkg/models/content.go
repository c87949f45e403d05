package models

import "time"

// ContentStatus is the lifecycle state of a collected content item.
type ContentStatus string

const (
	ContentStatusPending    ContentStatus = "pending"
	ContentStatusProcessing ContentStatus = "processing"
	ContentStatusReady      ContentStatus = "ready"
	ContentStatusAnalyzed   ContentStatus = "analyzed"
	ContentStatusFailed     ContentStatus = "failed"
)

// ContentItem is one discovered unit of content. The (SourceID, ExternalID)
// pair is unique, which is what makes ingestion idempotent.
//
// The three content layers fill progressively: RawPayload at collection time,
// ExtractedText by enrichment steps, AnalysisResult by analysis steps.
type ContentItem struct {
	ID         string `json:"id"          validate:"required"`
	SourceID   string `json:"source_id"   validate:"required"`
	ExternalID string `json:"external_id" validate:"required"`

	URL   string `json:"url"`
	Title string `json:"title"`

	RawPayload     map[string]any `json:"raw_payload,omitempty"`
	ExtractedText  string         `json:"extracted_text,omitempty"`
	AnalysisResult map[string]any `json:"analysis_result,omitempty"`

	Status ContentStatus `json:"status"`

	PublishedAt *time.Time `json:"published_at,omitempty"`
	CollectedAt time.Time  `json:"collected_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Terminal reports whether the item reached a final status.
func (c *ContentItem) Terminal() bool {
	switch c.Status {
	case ContentStatusReady, ContentStatusAnalyzed, ContentStatusFailed:
		return true
	default:
		return false
	}
}
