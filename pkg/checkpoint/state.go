// Package checkpoint persists harvest progress so an interrupted run resumes
// exactly where it left off.
package checkpoint

import (
	"context"
	"time"

	"github.com/cbrandt/winnow/pkg/segment"
)

// Mode selects the fetch strategy recorded in a checkpoint.
type Mode string

const (
	// ModeLinear paginates the whole collection with a single cursor.
	ModeLinear Mode = "linear"

	// ModeSegmented paginates prefix-scoped segments in a fixed order.
	ModeSegmented Mode = "segmented"
)

// HarvestState is the single source of truth for one collection's progress.
// Exactly one of NextOffset or (SegmentIndex, SegmentOffset) is meaningful,
// selected by Mode.
type HarvestState struct {
	Resource      string            `json:"resource"`
	Mode          Mode              `json:"mode"`
	NextOffset    int               `json:"next_offset"`
	Total         *int              `json:"total"`
	Segments      []segment.Segment `json:"segments,omitempty"`
	SegmentIndex  int               `json:"segment_index"`
	SegmentOffset int               `json:"segment_offset"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewState returns a fresh linear-mode state for a collection. Total stays
// nil until the first count query.
func NewState(resource string) *HarvestState {
	return &HarvestState{
		Resource: resource,
		Mode:     ModeLinear,
	}
}

// SetTotal records the last observed record count.
func (s *HarvestState) SetTotal(total int) {
	s.Total = &total
}

// Store provides durable storage for harvest checkpoints. Load returns nil
// without error when no checkpoint exists. Save must be atomic with respect
// to process crash: a crash loses at most the in-flight page, never corrupts
// previously recorded progress.
type Store interface {
	Load(ctx context.Context, resource string) (*HarvestState, error)
	Save(ctx context.Context, state *HarvestState) error
	Delete(ctx context.Context, resource string) error
}
