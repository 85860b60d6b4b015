package cnst

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorConstants(t *testing.T) {
	t.Run("messages", func(t *testing.T) {
		assert.Equal(t, "invalid arguments", ErrInvalidArgument.Error())
		assert.Equal(t, "invalid address", ErrInvalidAddress.Error())
		assert.Equal(t, "session not found", ErrSessionNotFound.Error())
	})

	t.Run("wrapping", func(t *testing.T) {
		err := fmt.Errorf("%w: bind port %q", ErrEngineCreate, "x")
		assert.True(t, errors.Is(err, ErrEngineCreate))
		assert.False(t, errors.Is(err, ErrNegotiationFailed))
	})
}
