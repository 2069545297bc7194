// Package harvest drives the download of complete collections from the
// windowed search API, checkpointing after every page.
package harvest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cbrandt/winnow/pkg/checkpoint"
	"github.com/cbrandt/winnow/pkg/client"
	"github.com/cbrandt/winnow/pkg/registry"
	"github.com/cbrandt/winnow/pkg/segment"
	"github.com/cbrandt/winnow/pkg/sink"
)

// Prometheus metrics for harvest progress.
var (
	recordsHarvestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winnow_records_harvested_total",
		Help: "Total records written by collection",
	}, []string{"collection"})

	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winnow_pages_fetched_total",
		Help: "Total pages fetched by collection and mode",
	}, []string{"collection", "mode"})

	capacityWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winnow_capacity_warnings_total",
		Help: "Total capacity warnings (capped segments and early segment stops)",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winnow_harvest_runs_total",
		Help: "Total harvest runs by outcome",
	}, []string{"status"})
)

// Phase is the orchestrator state for one collection run.
type Phase string

const (
	PhaseUninitialized     Phase = "uninitialized"
	PhaseLinearFetching    Phase = "linear-fetching"
	PhasePlanning          Phase = "planning"
	PhaseSegmentedFetching Phase = "segmented-fetching"
	PhaseDone              Phase = "done"
)

// SearchClient is the slice of the HTTP client the harvester needs.
type SearchClient interface {
	Search(ctx context.Context, q client.SearchQuery) (*client.SearchPage, error)
	Count(ctx context.Context, query, filter string) (int, error)
}

// Config holds harvester configuration.
type Config struct {
	// OutputDir receives one NDJSON file per collection.
	OutputDir string

	// PageSize bounds the number of records requested per page.
	PageSize int

	// WindowLimit is the maximum from+size the server accepts.
	WindowLimit int

	// Field is the searchable field used for segmentation, unless a
	// collection overrides it.
	Field string

	// Alphabet is the prefix expansion character set.
	Alphabet string

	// MaxDepth bounds segmentation prefix length.
	MaxDepth int
}

// DefaultConfig returns a safe default harvester configuration.
func DefaultConfig(outputDir string) Config {
	return Config{
		OutputDir:   outputDir,
		PageSize:    1000,
		WindowLimit: 10000,
		Field:       "name",
		Alphabet:    "abcdefghijklmnopqrstuvwxyz0123456789",
		MaxDepth:    4,
	}
}

// Harvester downloads collections one at a time. It is sequential per
// collection: no two pages of the same collection are ever in flight at
// once, which keeps offset bookkeeping trivially correct.
type Harvester struct {
	api    SearchClient
	store  checkpoint.Store
	config Config
	logger zerolog.Logger
}

// New creates a harvester.
func New(api SearchClient, store checkpoint.Store, cfg Config) (*Harvester, error) {
	if api == nil {
		return nil, fmt.Errorf("search client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if cfg.PageSize < 1 {
		return nil, fmt.Errorf("page size must be >= 1 (got %d)", cfg.PageSize)
	}
	if cfg.WindowLimit < 2 {
		return nil, fmt.Errorf("window limit must be >= 2 (got %d)", cfg.WindowLimit)
	}
	if cfg.PageSize > cfg.WindowLimit {
		return nil, fmt.Errorf("page size %d exceeds window limit %d", cfg.PageSize, cfg.WindowLimit)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	return &Harvester{
		api:    api,
		store:  store,
		config: cfg,
		logger: log.With().Str("component", "harvester").Logger(),
	}, nil
}

// OutputPath returns the NDJSON output file for a collection.
func (h *Harvester) OutputPath(col registry.Collection) string {
	return filepath.Join(h.config.OutputDir, checkpoint.Slug(col.Name)+".ndjson")
}

// Reset discards the checkpoint and any previously written output for a
// collection so the next run starts fresh.
func (h *Harvester) Reset(ctx context.Context, col registry.Collection) error {
	if err := h.store.Delete(ctx, col.Name); err != nil {
		return err
	}
	if err := os.Remove(h.OutputPath(col)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete output: %w", err)
	}
	h.logger.Info().Str("collection", col.Name).Msg("Checkpoint and output reset")
	return nil
}

// Run harvests one collection to completion or to its first unrecoverable
// error, resuming from any persisted checkpoint.
func (h *Harvester) Run(ctx context.Context, col registry.Collection) Result {
	result := newResult(col.Name)
	logger := h.logger.With().
		Str("collection", col.Name).
		Str("run_id", result.RunID).
		Logger()

	state, err := h.store.Load(ctx, col.Name)
	if err != nil {
		return result.fail(fmt.Errorf("load checkpoint: %w", err))
	}

	phase := PhaseUninitialized
	if state == nil {
		state = checkpoint.NewState(col.Name)
	} else {
		phase = h.resumePhase(state)
		result.markResumable()
		logger.Info().
			Str("phase", string(phase)).
			Int("next_offset", state.NextOffset).
			Int("segment_index", state.SegmentIndex).
			Msg("Resuming from checkpoint")
	}

	total, err := h.api.Count(ctx, "", col.Filter)
	if err != nil {
		return result.fail(fmt.Errorf("initial count: %w", err))
	}
	state.SetTotal(total)
	logger.Info().Int("total", total).Msg("Collection size observed")

	// A collection can grow past the window between runs; a linear cursor
	// stays valid but the tail past the window would be unreachable.
	if state.Mode == checkpoint.ModeLinear && total > h.config.WindowLimit {
		phase = PhasePlanning
	} else if phase == PhaseUninitialized {
		phase = PhaseLinearFetching
	}

	if phase == PhasePlanning && len(state.Segments) == 0 {
		warnings, err := h.plan(ctx, col, state, total)
		if err != nil {
			return result.fail(fmt.Errorf("segmentation planning: %w", err))
		}
		result.addWarnings(warnings)
		if err := h.store.Save(ctx, state); err != nil {
			return result.fail(fmt.Errorf("persist plan: %w", err))
		}
	}
	if phase == PhasePlanning {
		phase = PhaseSegmentedFetching
	}

	out, err := sink.Open(h.OutputPath(col))
	if err != nil {
		return result.fail(err)
	}
	defer out.Close()

	switch phase {
	case PhaseLinearFetching:
		err = h.runLinear(ctx, logger, col, state, out, &result)
	case PhaseSegmentedFetching:
		err = h.runSegmented(ctx, logger, col, state, out, &result)
	default:
		err = fmt.Errorf("unexpected phase %q", phase)
	}
	if err != nil {
		return result.fail(err)
	}

	logger.Info().
		Str("phase", string(PhaseDone)).
		Int("records", result.Records).
		Int("pages", result.Pages).
		Int("warnings", len(result.Warnings)).
		Msg("Harvest complete")
	return result.complete()
}

// resumePhase maps a persisted state back to an orchestrator phase.
func (h *Harvester) resumePhase(state *checkpoint.HarvestState) Phase {
	if state.Mode == checkpoint.ModeSegmented {
		return PhaseSegmentedFetching
	}
	return PhaseLinearFetching
}

// plan computes the segment list once and records it on the state.
func (h *Harvester) plan(ctx context.Context, col registry.Collection, state *checkpoint.HarvestState, total int) ([]segment.Warning, error) {
	field := h.config.Field
	if col.Field != "" {
		field = col.Field
	}

	planner, err := segment.New(h.api, segment.Config{
		Field:       field,
		Alphabet:    h.config.Alphabet,
		MaxDepth:    h.config.MaxDepth,
		WindowLimit: h.config.WindowLimit,
	})
	if err != nil {
		return nil, err
	}

	segments, warnings, err := planner.Plan(ctx, col.Filter, total)
	if err != nil {
		return nil, err
	}

	state.Mode = checkpoint.ModeSegmented
	state.Segments = segments
	state.SegmentIndex = 0
	state.SegmentOffset = 0
	return warnings, nil
}

// runLinear paginates the whole collection with a single cursor.
func (h *Harvester) runLinear(ctx context.Context, logger zerolog.Logger, col registry.Collection, state *checkpoint.HarvestState, out *sink.Writer, result *Result) error {
	total := *state.Total

	for state.NextOffset < total {
		size := h.config.PageSize
		if remaining := total - state.NextOffset; remaining < size {
			size = remaining
		}
		if headroom := h.config.WindowLimit - state.NextOffset; headroom < size {
			size = headroom
		}
		if size <= 0 {
			break
		}

		page, err := h.api.Search(ctx, client.SearchQuery{
			Filter: col.Filter,
			From:   state.NextOffset,
			Size:   size,
		})
		if err != nil {
			return fmt.Errorf("linear page at offset %d: %w", state.NextOffset, err)
		}

		if err := h.writePage(out, page); err != nil {
			return err
		}
		state.NextOffset += len(page.Hits)
		if err := h.store.Save(ctx, state); err != nil {
			return fmt.Errorf("persist checkpoint: %w", err)
		}

		result.Records += len(page.Hits)
		result.Pages++
		pagesFetchedTotal.WithLabelValues(col.Name, string(checkpoint.ModeLinear)).Inc()
		recordsHarvestedTotal.WithLabelValues(col.Name).Add(float64(len(page.Hits)))

		// A short page before total means the server has no more matching
		// records: completion, not an error.
		if len(page.Hits) < size {
			logger.Info().
				Int("offset", state.NextOffset).
				Int("total", total).
				Msg("Short page before total - treating as completion")
			break
		}
	}

	return nil
}

// runSegmented paginates each planned segment in order.
func (h *Harvester) runSegmented(ctx context.Context, logger zerolog.Logger, col registry.Collection, state *checkpoint.HarvestState, out *sink.Writer, result *Result) error {
	field := h.config.Field
	if col.Field != "" {
		field = col.Field
	}

	for state.SegmentIndex < len(state.Segments) {
		seg := state.Segments[state.SegmentIndex]
		query := fmt.Sprintf("%s:%s*", field, seg.Prefix)

		for state.SegmentOffset < seg.Total {
			size := h.config.PageSize
			if remaining := seg.Total - state.SegmentOffset; remaining < size {
				size = remaining
			}
			// Never let from + size pass the window limit.
			if headroom := h.config.WindowLimit - state.SegmentOffset; headroom < size {
				size = headroom
			}
			if size <= 0 {
				break
			}

			page, err := h.api.Search(ctx, client.SearchQuery{
				Query:  query,
				Filter: col.Filter,
				From:   state.SegmentOffset,
				Size:   size,
			})
			if err != nil {
				if client.IsWindowExceeded(err) {
					// Recoverable degradation: give up on the rest of this
					// segment but keep the run going.
					logger.Warn().
						Str("prefix", seg.Prefix).
						Int("offset", state.SegmentOffset).
						Msg("Result window exceeded mid-segment - skipping rest of segment")
					result.addWarnings([]segment.Warning{{
						Prefix: seg.Prefix,
						Total:  seg.Total,
						Capped: state.SegmentOffset,
					}})
					break
				}
				return fmt.Errorf("segment %q page at offset %d: %w", seg.Prefix, state.SegmentOffset, err)
			}

			if err := h.writePage(out, page); err != nil {
				return err
			}
			state.SegmentOffset += len(page.Hits)
			if err := h.store.Save(ctx, state); err != nil {
				return fmt.Errorf("persist checkpoint: %w", err)
			}

			result.Records += len(page.Hits)
			result.Pages++
			pagesFetchedTotal.WithLabelValues(col.Name, string(checkpoint.ModeSegmented)).Inc()
			recordsHarvestedTotal.WithLabelValues(col.Name).Add(float64(len(page.Hits)))

			if len(page.Hits) == 0 {
				logger.Info().
					Str("prefix", seg.Prefix).
					Int("offset", state.SegmentOffset).
					Msg("Empty page before segment total - segment finished early")
				break
			}
		}

		state.SegmentIndex++
		state.SegmentOffset = 0
		if err := h.store.Save(ctx, state); err != nil {
			return fmt.Errorf("persist checkpoint: %w", err)
		}

		logger.Debug().
			Str("prefix", seg.Prefix).
			Int("segment_index", state.SegmentIndex).
			Int("segments", len(state.Segments)).
			Msg("Segment finished")
	}

	return nil
}

// writePage makes the page durable before the caller persists the cursor.
func (h *Harvester) writePage(out *sink.Writer, page *client.SearchPage) error {
	if err := out.Append(page.Hits); err != nil {
		return err
	}
	return out.Sync()
}

// RunAll harvests each requested collection in turn, continuing past
// individual failures. If restart is set, checkpoint and output are
// discarded before each run.
func (h *Harvester) RunAll(ctx context.Context, collections []registry.Collection, restart bool) []Result {
	results := make([]Result, 0, len(collections))
	for _, col := range collections {
		if restart {
			if err := h.Reset(ctx, col); err != nil {
				results = append(results, newResult(col.Name).fail(err))
				continue
			}
		}

		result := h.Run(ctx, col)
		runsTotal.WithLabelValues(string(result.Status)).Inc()
		results = append(results, result)

		if result.Err != nil {
			h.logger.Error().
				Err(result.Err).
				Str("collection", col.Name).
				Str("status", string(result.Status)).
				Msg("Harvest run failed - continuing with remaining collections")
		}
	}
	return results
}
