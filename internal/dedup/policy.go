// Package dedup classifies page content as unique, exact-duplicate,
// near-duplicate, similar, or canonical-redirect, and decides what to do with
// it. Candidate near-duplicates are found through MinHash-LSH bucketing so
// the corpus never needs pairwise comparison.
package dedup

// DuplicateType labels the dedup classification of a page.
type DuplicateType string

// Classification values.
const (
	TypeExact         DuplicateType = "exact"
	TypeNearDuplicate DuplicateType = "near_duplicate"
	TypeSimilar       DuplicateType = "similar"
	TypeCanonical     DuplicateType = "canonical"
)

// Action is what the crawler should do with a classified page.
type Action string

// Action values.
const (
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionMerge    Action = "merge"
	ActionRedirect Action = "redirect"
)

// Policy holds the similarity thresholds and per-class handling flags.
// Thresholds are configuration, not calibration constants baked into code.
type Policy struct {
	ExactThreshold         float64 `mapstructure:"exact_threshold"`
	NearDuplicateThreshold float64 `mapstructure:"near_duplicate_threshold"`
	SimilarThreshold       float64 `mapstructure:"similar_threshold"`
	RejectExact            bool    `mapstructure:"reject_exact"`
	RejectNearDuplicate    bool    `mapstructure:"reject_near_duplicate"`
	MergeSimilar           bool    `mapstructure:"merge_similar"`
}

// DefaultPolicy returns the default thresholds and flags.
func DefaultPolicy() Policy {
	return Policy{
		ExactThreshold:         0.95,
		NearDuplicateThreshold: 0.80,
		SimilarThreshold:       0.60,
		RejectExact:            true,
		RejectNearDuplicate:    true,
		MergeSimilar:           false,
	}
}

// Result is the outcome of a duplicate check.
type Result struct {
	IsDuplicate bool          `json:"is_duplicate"`
	Type        DuplicateType `json:"duplicate_type,omitempty"`
	Action      Action        `json:"action"`
	OriginalURL string        `json:"original_url,omitempty"`
	Similarity  float64       `json:"similarity_score,omitempty"`
}
