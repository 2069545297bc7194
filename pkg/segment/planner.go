// Package segment partitions a collection's query space into prefix-scoped
// segments small enough to paginate within the server's result window.
package segment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for segmentation planning.
var (
	segmentsPlannedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winnow_segments_planned_total",
		Help: "Total segments emitted by the planner",
	})

	segmentsCappedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winnow_segments_capped_total",
		Help: "Total segments capped at the window limit after reaching max depth",
	})
)

// Counter provides exact record counts for a prefix query. The HTTP client
// satisfies this through a thin adapter; tests supply a synthetic one.
type Counter interface {
	Count(ctx context.Context, query, filter string) (int, error)
}

// Segment is one prefix-scoped partition of a collection and its exact
// record count at planning time. Segments are immutable once planned.
type Segment struct {
	Prefix string `json:"prefix"`
	Total  int    `json:"total"`
}

// Warning records a segment that could not be split finely enough to fit the
// window. Records past the capped count are unreachable with the current
// alphabet and depth.
type Warning struct {
	Prefix string `json:"prefix"`
	Total  int    `json:"total"`
	Capped int    `json:"capped"`
}

func (w Warning) String() string {
	return fmt.Sprintf("segment %q holds %d records, capped at %d", w.Prefix, w.Total, w.Capped)
}

// Config holds planner configuration.
type Config struct {
	// Field is the searchable field segments are scoped by.
	Field string

	// Alphabet is the character set used to expand prefixes.
	Alphabet string

	// MaxDepth bounds the prefix length.
	MaxDepth int

	// WindowLimit is the maximum from+size the server accepts. Segments are
	// emitted once their count fits below it.
	WindowLimit int
}

// DefaultConfig returns a safe default planner configuration.
func DefaultConfig(field string) Config {
	return Config{
		Field:       field,
		Alphabet:    "abcdefghijklmnopqrstuvwxyz0123456789",
		MaxDepth:    4,
		WindowLimit: 10000,
	}
}

// Planner computes segment plans by querying exact counts per prefix.
type Planner struct {
	counter Counter
	config  Config
	logger  zerolog.Logger
}

// New creates a new planner.
func New(counter Counter, cfg Config) (*Planner, error) {
	if counter == nil {
		return nil, fmt.Errorf("counter is required")
	}
	if cfg.Field == "" {
		return nil, fmt.Errorf("segmentation field is required")
	}
	if len(cfg.Alphabet) == 0 {
		return nil, fmt.Errorf("alphabet must not be empty")
	}
	if cfg.MaxDepth < 1 {
		return nil, fmt.Errorf("max depth must be >= 1 (got %d)", cfg.MaxDepth)
	}
	if cfg.WindowLimit < 2 {
		return nil, fmt.Errorf("window limit must be >= 2 (got %d)", cfg.WindowLimit)
	}

	return &Planner{
		counter: counter,
		config:  cfg,
		logger:  log.With().Str("component", "planner").Logger(),
	}, nil
}

// PrefixQuery renders the search expression for one prefix on the configured
// field. An empty prefix matches the whole collection.
func (p *Planner) PrefixQuery(prefix string) string {
	if prefix == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s*", p.config.Field, prefix)
}

// item is one pending prefix in the expansion queue.
type item struct {
	prefix string
	total  int
	depth  int
}

// Plan partitions the collection scoped by filter into segments whose counts
// each fit below the window limit. Expansion is breadth-first over an
// explicit queue so depth and branching stay boundable without stack growth.
// The returned list is sorted lexicographically by prefix so segment indices
// stay stable across resumed runs.
func (p *Planner) Plan(ctx context.Context, filter string, total int) ([]Segment, []Warning, error) {
	start := time.Now()
	safeLimit := p.config.WindowLimit - 1

	queue := []item{{prefix: "", total: total, depth: 0}}
	var segments []Segment
	var warnings []Warning

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.total <= safeLimit {
			segments = append(segments, Segment{Prefix: current.prefix, Total: current.total})
			continue
		}

		if current.depth >= p.config.MaxDepth {
			// Cannot split further. Cap the segment and record the loss
			// instead of failing the whole plan.
			segments = append(segments, Segment{Prefix: current.prefix, Total: safeLimit})
			warnings = append(warnings, Warning{
				Prefix: current.prefix,
				Total:  current.total,
				Capped: safeLimit,
			})
			segmentsCappedTotal.Inc()
			p.logger.Warn().
				Str("prefix", current.prefix).
				Int("total", current.total).
				Int("capped", safeLimit).
				Msg("Segment exceeds window at max depth - capping")
			continue
		}

		for _, ch := range p.config.Alphabet {
			child := current.prefix + string(ch)

			count, err := p.counter.Count(ctx, p.PrefixQuery(child), filter)
			if err != nil {
				return nil, nil, fmt.Errorf("count prefix %q: %w", child, err)
			}
			if count == 0 {
				continue
			}

			queue = append(queue, item{prefix: child, total: count, depth: current.depth + 1})
		}
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Prefix < segments[j].Prefix
	})
	segmentsPlannedTotal.Add(float64(len(segments)))

	p.logger.Info().
		Int("segments", len(segments)).
		Int("capped", len(warnings)).
		Dur("duration", time.Since(start)).
		Msg("Segmentation plan complete")

	return segments, warnings, nil
}
