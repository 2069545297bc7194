package harvest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cbrandt/winnow/pkg/segment"
)

// Status is the per-collection outcome of a harvest run.
type Status string

const (
	// StatusCompleted means every reachable record was written.
	StatusCompleted Status = "completed"

	// StatusPartial means the run stopped with progress persisted; a later
	// run resumes from the checkpoint.
	StatusPartial Status = "partial"

	// StatusFailed means the run stopped before making any progress.
	StatusFailed Status = "failed"
)

// Result reports one collection's harvest run.
type Result struct {
	RunID      string
	Collection string
	Status     Status
	Records    int
	Pages      int
	Warnings   []segment.Warning
	Duration   time.Duration
	Err        error

	started   time.Time
	resumable bool
}

func newResult(collection string) Result {
	return Result{
		RunID:      uuid.NewString(),
		Collection: collection,
		started:    time.Now(),
	}
}

// markResumable records that a checkpoint exists for this collection, so a
// failure is reported as partial rather than failed outright.
func (r *Result) markResumable() {
	r.resumable = true
}

func (r *Result) addWarnings(warnings []segment.Warning) {
	r.Warnings = append(r.Warnings, warnings...)
	capacityWarningsTotal.Add(float64(len(warnings)))
}

func (r Result) complete() Result {
	r.Status = StatusCompleted
	r.Duration = time.Since(r.started)
	return r
}

func (r Result) fail(err error) Result {
	r.Err = err
	r.Duration = time.Since(r.started)
	if r.resumable || r.Pages > 0 {
		r.Status = StatusPartial
	} else {
		r.Status = StatusFailed
	}
	return r
}

// Summary renders a one-line human-readable outcome.
func (r Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s (%d records, %d pages, %s)",
		r.Collection, r.Status, r.Records, r.Pages, r.Duration.Round(time.Millisecond))
	if len(r.Warnings) > 0 {
		fmt.Fprintf(&b, ", %d capacity warnings", len(r.Warnings))
	}
	if r.Err != nil {
		fmt.Fprintf(&b, ": %v", r.Err)
	}
	return b.String()
}
