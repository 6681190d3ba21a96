// Package loop tracks the per-request state of the boost orchestration loop.
package loop

import "strings"

// DefaultMaxIterations bounds the loop when no override is configured.
const DefaultMaxIterations = 3

// State is owned by a single request and is not safe for concurrent use.
type State struct {
	Iteration       int
	MaxIterations   int
	Attempts        []string
	CurrentGuidance string
	CurrentAnalysis string

	guidanceSeen map[string]struct{}
	analysisSeen map[string]struct{}
}

// Snapshot is a read-only copy of the loop context passed to the boost prompt.
type Snapshot struct {
	Iteration       int
	MaxIterations   int
	Attempts        []string
	CurrentGuidance string
	CurrentAnalysis string
}

// New returns a fresh state. maxIterations <= 0 uses DefaultMaxIterations.
func New(maxIterations int) *State {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &State{
		MaxIterations: maxIterations,
		guidanceSeen:  make(map[string]struct{}),
		analysisSeen:  make(map[string]struct{}),
	}
}

// CanContinue reports whether another iteration is allowed.
func (s *State) CanContinue() bool {
	return s.Iteration < s.MaxIterations
}

// Advance moves to the next iteration and returns CanContinue.
func (s *State) Advance() bool {
	s.Iteration++
	return s.CanContinue()
}

// RecordAttempt appends a failure description.
func (s *State) RecordAttempt(description string) {
	s.Attempts = append(s.Attempts, description)
}

// RegisterGuidance stores the trimmed guidance and reports whether it is new
// for this loop. Blank input is never new.
func (s *State) RegisterGuidance(text string) bool {
	return register(&s.guidanceSeen, &s.CurrentGuidance, text)
}

// RegisterAnalysis is RegisterGuidance for analysis text.
func (s *State) RegisterAnalysis(text string) bool {
	return register(&s.analysisSeen, &s.CurrentAnalysis, text)
}

// HasSeenGuidance reports whether the trimmed text was registered before.
func (s *State) HasSeenGuidance(text string) bool {
	_, ok := s.guidanceSeen[strings.TrimSpace(text)]
	return ok
}

// Snapshot copies the current context. The boost client gets the copy so
// it never aliases the live attempt history.
func (s *State) Snapshot() Snapshot {
	attempts := make([]string, len(s.Attempts))
	copy(attempts, s.Attempts)
	return Snapshot{
		Iteration:       s.Iteration,
		MaxIterations:   s.MaxIterations,
		Attempts:        attempts,
		CurrentGuidance: s.CurrentGuidance,
		CurrentAnalysis: s.CurrentAnalysis,
	}
}

func register(seen *map[string]struct{}, current *string, text string) bool {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return false
	}
	if *seen == nil {
		*seen = make(map[string]struct{})
	}
	*current = normalized
	if _, ok := (*seen)[normalized]; ok {
		return false
	}
	(*seen)[normalized] = struct{}{}
	return true
}
