package system

import (
	"errors"
	"fmt"
	"sync"
)

// CleanupStack runs undo steps in reverse order of registration (LIFO).
// Deferring Execute makes the steps run on every return path.
type CleanupStack struct {
	mu    sync.Mutex
	steps []cleanupStep
}

type cleanupStep struct {
	name string
	fn   func() error
}

// NewCleanupStack creates a new cleanup stack
func NewCleanupStack() *CleanupStack {
	return &CleanupStack{}
}

// Add registers a named cleanup step
func (s *CleanupStack) Add(name string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, cleanupStep{name: name, fn: fn})
}

// Execute runs all steps newest first and empties the stack. Every step runs
// even if an earlier one fails.
func (s *CleanupStack) Execute() error {
	s.mu.Lock()
	steps := s.steps
	s.steps = nil
	s.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", steps[i].name, err))
		}
	}
	return errors.Join(errs...)
}

// Clear drops all steps without running them (call on success to keep results)
func (s *CleanupStack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = nil
}

// Len reports how many steps are pending
func (s *CleanupStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}
