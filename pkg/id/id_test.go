package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIsSortable(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewAt(at)
	b := NewAt(at)
	c := NewAt(at.Add(time.Second))

	assert.Len(t, a, 26)
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestSequence(t *testing.T) {
	t.Parallel()

	s := NewSequence("bt")
	assert.Equal(t, "bt-000001", s.Next())
	assert.Equal(t, "bt-000002", s.Next())

	other := NewSequence("bt")
	assert.Equal(t, "bt-000001", other.Next())
}
