package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFrozenAdvance(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFrozen(base)
	require.Equal(t, base, f.Now())
	f.Advance(90 * time.Second)
	require.Equal(t, base.Add(90*time.Second), f.Now())
}

func TestISORoundTrip(t *testing.T) {
	base := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	s := ISO(base)
	parsed, err := ParseISO(s)
	require.NoError(t, err)
	require.True(t, parsed.Equal(base))
}
