package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SortsWithinMillisecond(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	prev := ""
	for i := 0; i < 50; i++ {
		id, err := New(now)
		require.NoError(t, err)
		require.Len(t, id, 26)
		assert.True(t, Valid(id))
		if prev != "" {
			assert.Less(t, prev, id)
		}
		prev = id
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	assert.False(t, Valid(""))
	assert.False(t, Valid("not-a-ulid"))
}
