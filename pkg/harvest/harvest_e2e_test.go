package harvest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cbrandt/winnow/internal/testutil"
	"github.com/cbrandt/winnow/pkg/checkpoint"
	"github.com/cbrandt/winnow/pkg/client"
	"github.com/cbrandt/winnow/pkg/registry"
)

// End-to-end scenario over the HTTP client: collection "Demo" holds 25000
// records behind a 10000 window. The run must switch to segmented mode and
// download every record exactly once.
func TestHarvest_EndToEnd_SegmentedDemo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end harvest in short mode")
	}

	const window = 10000

	mock := testutil.NewMockSearch(window)
	defer mock.Close()

	var records []testutil.Record
	records = append(records, testutil.GenerateRecords("a", 9000)...)
	records = append(records, testutil.GenerateRecords("b", 9000)...)
	records = append(records, testutil.GenerateRecords("c", 7000)...)
	mock.SetCollection(`collection:"Demo"`, records)

	apiCfg := client.DefaultConfig(mock.URL())
	apiCfg.RateLimit = 0
	apiCfg.Retry.InitialBackoff = time.Millisecond
	api, err := client.New(apiCfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	store, err := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	h, err := New(api, store, Config{
		OutputDir:   t.TempDir(),
		PageSize:    1000,
		WindowLimit: window,
		Field:       "name",
		Alphabet:    "abc",
		MaxDepth:    2,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	col := registry.Collection{Name: "Demo", Filter: `collection:"Demo"`}
	ctx := context.Background()

	result := h.Run(ctx, col)
	if result.Err != nil {
		t.Fatalf("Run() error = %v", result.Err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", result.Status, StatusCompleted)
	}
	if result.Records != 25000 {
		t.Errorf("Records = %d, want 25000", result.Records)
	}

	state, err := store.Load(ctx, col.Name)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if state.Mode != checkpoint.ModeSegmented {
		t.Errorf("Mode = %q, want %q", state.Mode, checkpoint.ModeSegmented)
	}
	if len(state.Segments) < 3 {
		t.Errorf("got %d segments, want >= 3", len(state.Segments))
	}
	sum := 0
	for _, seg := range state.Segments {
		sum += seg.Total
	}
	if sum != 25000 {
		t.Errorf("segment totals sum to %d, want 25000", sum)
	}

	if got := countLines(t, h.OutputPath(col)); got != 25000 {
		t.Errorf("output has %d lines, want 25000", got)
	}
	ids := uniqueIDs(t, h.OutputPath(col))
	if len(ids) != 25000 {
		t.Errorf("distinct record IDs = %d, want 25000", len(ids))
	}
	for id, n := range ids {
		if n != 1 {
			t.Fatalf("record %s written %d times", id, n)
		}
	}

	// A second run over the finished checkpoint fetches nothing new.
	mock.Reset()
	again := h.Run(ctx, col)
	if again.Err != nil {
		t.Fatalf("re-Run() error = %v", again.Err)
	}
	if again.Records != 0 {
		t.Errorf("re-run Records = %d, want 0", again.Records)
	}
	if got := countLines(t, h.OutputPath(col)); got != 25000 {
		t.Errorf("output has %d lines after re-run, want 25000", got)
	}
}
