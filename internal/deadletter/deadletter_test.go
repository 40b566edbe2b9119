package deadletter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecord_AppendsUntilCapacity(t *testing.T) {
	q := New(3)
	q.Record("task-a", 1, errors.New("boom"))
	q.Record("task-b", 2, errors.New("boom"))

	entries := q.Entries()
	assert.Len(t, entries, 2)
	assert.Equal(t, "task-a", entries[0].Task)
	assert.Equal(t, "task-b", entries[1].Task)
	assert.Equal(t, "boom", entries[1].Error)
}

func TestRecord_OverwritesOldestPastCapacity(t *testing.T) {
	q := New(2)
	q.Record("task-1", nil, errors.New("e1"))
	q.Record("task-2", nil, errors.New("e2"))
	q.Record("task-3", nil, errors.New("e3"))

	entries := q.Entries()
	assert.Len(t, entries, 2)
	assert.Equal(t, "task-2", entries[0].Task)
	assert.Equal(t, "task-3", entries[1].Task)
}

func TestLen_ReflectsCurrentSize(t *testing.T) {
	q := New(5)
	assert.Equal(t, 0, q.Len())
	q.Record("t", nil, nil)
	assert.Equal(t, 1, q.Len())
}

func TestRecord_NilErrorLeavesErrorEmpty(t *testing.T) {
	q := New(1)
	q.Record("t", nil, nil)
	assert.Empty(t, q.Entries()[0].Error)
}
