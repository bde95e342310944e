package provider

import (
	"context"
	"fmt"
	"sync"
)

// Scripted is a deterministic, in-memory LMProvider that replays a fixed
// sequence of responses. It drives the end-to-end scenarios in spec §8
// without any network dependency, grounded on the teacher's test-double
// style for Provider/Planner mocks.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

// NewScripted returns a Scripted provider that yields responses in order,
// one per Complete call. Calling Complete past the end of responses
// returns an error.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

func (s *Scripted) Complete(_ context.Context, _ []Message, _ *CompleteOptions) (*CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.responses) {
		return nil, fmt.Errorf("scripted provider exhausted after %d calls", s.calls)
	}
	text := s.responses[s.calls]
	s.calls++
	return &CompletionResult{Text: text}, nil
}

// Calls reports how many times Complete has been invoked, for assertions
// like "exactly 3 LM calls total".
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
