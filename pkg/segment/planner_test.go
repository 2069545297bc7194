package segment

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"
)

// fakeCounter serves exact counts per prefix query and records which queries
// were asked.
type fakeCounter struct {
	counts  map[string]int // keyed by prefix query expression
	queries []string
	err     error
}

func (f *fakeCounter) Count(_ context.Context, query, _ string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.queries = append(f.queries, query)
	return f.counts[query], nil
}

func newPlanner(t *testing.T, counter Counter, cfg Config) *Planner {
	t.Helper()
	p, err := New(counter, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	counter := &fakeCounter{}

	tests := []struct {
		name     string
		counter  Counter
		config   Config
		errorMsg string
	}{
		{
			name:    "valid",
			counter: counter,
			config:  DefaultConfig("name"),
		},
		{
			name:     "nil counter",
			counter:  nil,
			config:   DefaultConfig("name"),
			errorMsg: "counter is required",
		},
		{
			name:     "missing field",
			counter:  counter,
			config:   Config{Alphabet: "ab", MaxDepth: 2, WindowLimit: 100},
			errorMsg: "segmentation field is required",
		},
		{
			name:     "empty alphabet",
			counter:  counter,
			config:   Config{Field: "name", MaxDepth: 2, WindowLimit: 100},
			errorMsg: "alphabet must not be empty",
		},
		{
			name:     "zero depth",
			counter:  counter,
			config:   Config{Field: "name", Alphabet: "ab", WindowLimit: 100},
			errorMsg: "max depth must be >= 1 (got 0)",
		},
		{
			name:     "window too small",
			counter:  counter,
			config:   Config{Field: "name", Alphabet: "ab", MaxDepth: 2, WindowLimit: 1},
			errorMsg: "window limit must be >= 2 (got 1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.counter, tt.config)
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.errorMsg {
				t.Errorf("error = %v, want %q", err, tt.errorMsg)
			}
		})
	}
}

func TestPlan_SmallCollectionSingleSegment(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{}}
	p := newPlanner(t, counter, Config{Field: "name", Alphabet: "ab", MaxDepth: 3, WindowLimit: 100})

	segments, warnings, err := p.Plan(context.Background(), "", 99)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	want := []Segment{{Prefix: "", Total: 99}}
	if !reflect.DeepEqual(segments, want) {
		t.Errorf("segments = %v, want %v", segments, want)
	}
	if len(counter.queries) != 0 {
		t.Errorf("counter queried %v; a fitting root needs no expansion", counter.queries)
	}
}

func TestPlan_SplitsIntoFittingSegments(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{
		"name:a*": 90,
		"name:b*": 80,
		"name:c*": 60,
	}}
	p := newPlanner(t, counter, Config{Field: "name", Alphabet: "abc", MaxDepth: 3, WindowLimit: 100})

	segments, warnings, err := p.Plan(context.Background(), "", 230)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}

	want := []Segment{
		{Prefix: "a", Total: 90},
		{Prefix: "b", Total: 80},
		{Prefix: "c", Total: 60},
	}
	if !reflect.DeepEqual(segments, want) {
		t.Errorf("segments = %v, want %v", segments, want)
	}

	sum := 0
	for _, seg := range segments {
		sum += seg.Total
	}
	if sum != 230 {
		t.Errorf("segment totals sum to %d, want 230", sum)
	}
}

func TestPlan_RecursesIntoOversizedPrefixes(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{
		"name:a*":  150,
		"name:b*":  40,
		"name:aa*": 90,
		"name:ab*": 60,
	}}
	p := newPlanner(t, counter, Config{Field: "name", Alphabet: "ab", MaxDepth: 3, WindowLimit: 100})

	segments, warnings, err := p.Plan(context.Background(), "", 190)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}

	want := []Segment{
		{Prefix: "aa", Total: 90},
		{Prefix: "ab", Total: 60},
		{Prefix: "b", Total: 40},
	}
	if !reflect.DeepEqual(segments, want) {
		t.Errorf("segments = %v, want %v", segments, want)
	}
}

func TestPlan_SkipsZeroCountChildren(t *testing.T) {
	// "name:aa*" is absent from the counts: a zero-count child.
	counter := &fakeCounter{counts: map[string]int{
		"name:a*":   150,
		"name:b*":   40,
		"name:ab*":  150,
		"name:aba*": 80,
		"name:abb*": 70,
	}}
	p := newPlanner(t, counter, Config{Field: "name", Alphabet: "ab", MaxDepth: 3, WindowLimit: 100})

	segments, _, err := p.Plan(context.Background(), "", 190)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	for _, seg := range segments {
		if seg.Total == 0 {
			t.Errorf("zero-count segment %q emitted", seg.Prefix)
		}
	}

	// The planner must not recurse into the zero-count child.
	for _, q := range counter.queries {
		if q == "name:aaa*" || q == "name:aab*" {
			t.Errorf("planner recursed into zero-count prefix: queried %q", q)
		}
	}
}

func TestPlan_CapsAtMaxDepth(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{
		"name:a*": 500,
	}}
	p := newPlanner(t, counter, Config{Field: "name", Alphabet: "a", MaxDepth: 1, WindowLimit: 100})

	segments, warnings, err := p.Plan(context.Background(), "", 500)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	want := []Segment{{Prefix: "a", Total: 99}}
	if !reflect.DeepEqual(segments, want) {
		t.Errorf("segments = %v, want %v", segments, want)
	}

	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", warnings)
	}
	w := warnings[0]
	if w.Prefix != "a" || w.Total != 500 || w.Capped != 99 {
		t.Errorf("warning = %+v, want prefix a, total 500, capped 99", w)
	}
}

func TestPlan_DeterministicLexicographicOrder(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{
		"name:a*":  150,
		"name:b*":  10,
		"name:c*":  20,
		"name:aa*": 90,
		"name:ac*": 60,
	}}
	cfg := Config{Field: "name", Alphabet: "cba", MaxDepth: 2, WindowLimit: 100}

	p := newPlanner(t, counter, cfg)
	segments, _, err := p.Plan(context.Background(), "", 180)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	// Order must be lexicographic regardless of alphabet order, so segment
	// indices stay stable across resumed runs.
	if !sort.SliceIsSorted(segments, func(i, j int) bool {
		return segments[i].Prefix < segments[j].Prefix
	}) {
		t.Errorf("segments not in lexicographic order: %v", segments)
	}
}

func TestPlan_CounterErrorPropagates(t *testing.T) {
	wantErr := errors.New("boom")
	counter := &fakeCounter{err: wantErr}
	p := newPlanner(t, counter, Config{Field: "name", Alphabet: "ab", MaxDepth: 2, WindowLimit: 100})

	_, _, err := p.Plan(context.Background(), "", 500)
	if !errors.Is(err, wantErr) {
		t.Errorf("Plan() error = %v, want wrapped %v", err, wantErr)
	}
}

func TestPrefixQuery(t *testing.T) {
	p := newPlanner(t, &fakeCounter{}, DefaultConfig("name"))

	if got := p.PrefixQuery(""); got != "" {
		t.Errorf("PrefixQuery(\"\") = %q, want empty", got)
	}
	if got, want := p.PrefixQuery("ab"), "name:ab*"; got != want {
		t.Errorf("PrefixQuery(\"ab\") = %q, want %q", got, want)
	}
}

func TestWarning_String(t *testing.T) {
	w := Warning{Prefix: "zz", Total: 15000, Capped: 9999}
	want := fmt.Sprintf("segment %q holds %d records, capped at %d", "zz", 15000, 9999)
	if got := w.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
