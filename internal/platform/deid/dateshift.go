package deid

import (
	"math/rand"
	"sync"
	"time"
)

// dateLayouts are tried in order when parsing a date value. The matching
// layout is reused for rendering so the shifted value keeps the precision
// and shape it arrived with.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"2006/01/02",
	"2006-01",
	"2006",
}

// DateShiftRegistry assigns day offsets to subjects and applies them to
// dates. Under the per-subject strategy each subject gets one uniformly
// random offset in [-maxDays, maxDays], drawn lazily on first encounter and
// fixed for the registry's lifetime; the global offset, drawn once at
// construction, covers the global strategy and dates with no known subject.
//
// The lazy insert is guarded by a mutex: the registry is the one shared
// mutable piece of engine state, and two concurrent first encounters of a
// subject must not race to two different offsets.
type DateShiftRegistry struct {
	mu       sync.Mutex
	offsets  map[string]int
	rng      *rand.Rand
	global   int
	maxDays  int
	strategy ShiftStrategy
}

// NewDateShiftRegistry builds a registry drawing offsets from rng. Pass a
// seeded generator to make offsets reproducible in tests.
func NewDateShiftRegistry(strategy ShiftStrategy, maxDays int, rng *rand.Rand) *DateShiftRegistry {
	r := &DateShiftRegistry{
		offsets:  make(map[string]int),
		rng:      rng,
		maxDays:  maxDays,
		strategy: strategy,
	}
	r.global = r.draw()
	return r
}

func (r *DateShiftRegistry) draw() int {
	return r.rng.Intn(2*r.maxDays+1) - r.maxDays
}

// OffsetFor returns the day offset for a subject, creating it on first
// encounter. An empty subject id, or the global strategy, yields the
// registry-wide offset.
func (r *DateShiftRegistry) OffsetFor(subjectID string) int {
	if r.strategy == ShiftGlobal || subjectID == "" {
		return r.global
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	off, ok := r.offsets[subjectID]
	if !ok {
		off = r.draw()
		r.offsets[subjectID] = off
	}
	return off
}

// ShiftTime moves t by the subject's offset in days, preserving the clock.
func (r *DateShiftRegistry) ShiftTime(t time.Time, subjectID string) time.Time {
	return t.AddDate(0, 0, r.OffsetFor(subjectID))
}

// ShiftString parses value as a date or datetime, shifts it by the
// subject's offset, and renders it back in the layout it was parsed with.
// Unparseable values come back unchanged: a bad date is a data-quality
// problem, not a reason to abort a column or resource pass.
func (r *DateShiftRegistry) ShiftString(value, subjectID string) string {
	if value == "" {
		return value
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		return r.ShiftTime(t, subjectID).Format(layout)
	}
	return value
}

// SubjectCount reports how many subjects have registered offsets.
func (r *DateShiftRegistry) SubjectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.offsets)
}
