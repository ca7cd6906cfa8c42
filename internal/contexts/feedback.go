package contexts

import (
	"fmt"
	"time"
)

// FeedbackEvent is a single signal about how useful a retrieved context was.
// Events are consumed once by the evolution engine; only their effect on the
// context's confidence persists.
type FeedbackEvent struct {
	ContextID string    `json:"context_id"`
	Helpful   bool      `json:"helpful"`
	Used      bool      `json:"used"`
	Rating    *int      `json:"rating,omitempty"` // 1..5 when present
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the event fields.
func (e FeedbackEvent) Validate() error {
	if e.ContextID == "" {
		return fmt.Errorf("%w: context id required", ErrValidation)
	}
	if e.Rating != nil && (*e.Rating < 1 || *e.Rating > 5) {
		return fmt.Errorf("%w: rating %d outside 1..5", ErrValidation, *e.Rating)
	}
	return nil
}

// Signal maps the event to a target confidence in [0,1]. An explicit rating
// wins over the helpful flag; rating 1 maps to 0.0 and rating 5 to 1.0.
func (e FeedbackEvent) Signal() float64 {
	if e.Rating != nil {
		return float64(*e.Rating-1) / 4.0
	}
	if e.Helpful {
		return 1.0
	}
	return 0.0
}
