package idx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewGeneratesUniqueSortableIDs(t *testing.T) {
	t.Parallel()

	prev := New()
	for range 100 {
		next := New()
		require.NotEqual(t, prev, next)
		require.LessOrEqual(t, prev.String(), next.String(), "monotonic ULIDs should sort")
		prev = next
	}
}
