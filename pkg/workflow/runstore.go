package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Run is one recorded visual test run.
type Run struct {
	ID        string       `json:"id"`
	Component string       `json:"component"`
	URL       string       `json:"url"`
	Results   []TestResult `json:"results"`
	At        time.Time    `json:"at"`
}

// RunStore keeps the latest visual test run per component for the life of the
// process, so a later change request can report it. Nothing is persisted.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]Run
}

// NewRunStore returns an empty store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]Run)}
}

// Record stores results as the latest run for component and returns it.
func (s *RunStore) Record(component, url string, results []TestResult, at time.Time) Run {
	run := Run{
		ID:        uuid.NewString(),
		Component: component,
		URL:       url,
		Results:   append([]TestResult(nil), results...),
		At:        at,
	}
	s.mu.Lock()
	s.runs[component] = run
	s.mu.Unlock()
	return run
}

// Latest returns the most recent run for component.
func (s *RunStore) Latest(component string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[component]
	if ok {
		run.Results = append([]TestResult(nil), run.Results...)
	}
	return run, ok
}

// Len returns how many components have a recorded run.
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
