package system

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanupStackRunsInReverse(t *testing.T) {
	var order []string
	s := NewCleanupStack()
	s.Add("first", func() error { order = append(order, "first"); return nil })
	s.Add("second", func() error { order = append(order, "second"); return errors.New("boom") })
	s.Add("third", func() error { order = append(order, "third"); return nil })
	assert.Equal(t, 3, s.Len())

	err := s.Execute()
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.EqualError(t, err, "second: boom")
	assert.Zero(t, s.Len())

	// A drained stack is a no-op.
	assert.NoError(t, s.Execute())
	assert.Len(t, order, 3)
}

func TestCleanupStackClear(t *testing.T) {
	ran := false
	s := NewCleanupStack()
	s.Add("undo", func() error { ran = true; return nil })
	s.Clear()

	assert.NoError(t, s.Execute())
	assert.False(t, ran)
}
