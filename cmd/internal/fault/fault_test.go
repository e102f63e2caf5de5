package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_UnwrapsToKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", Conflict("invite.AcceptLink", "quota_reached", "link exhausted"))

	require.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "quota_reached", CodeOf(err))
	assert.Equal(t, "link exhausted", MessageOf(err))
}

func TestE_DefaultCode(t *testing.T) {
	t.Parallel()

	err := NotFound("group.Get", "group")
	assert.Equal(t, "not_found", err.Code)
	assert.Equal(t, "group.Get: not_found: group not found", err.Error())
}

func TestCodeOf_PlainError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", CodeOf(errors.New("boom")))
	assert.Equal(t, "", MessageOf(nil))
}
