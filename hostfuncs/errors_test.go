package hostfuncs

import (
	"errors"
	"fmt"
	"testing"

	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestException_Error(t *testing.T) {
	assert.Equal(t, "ErrorException: boom", (&Exception{Type: ErrorException, Message: "boom"}).Error())
	assert.Equal(t, "OverflowError", (&Exception{Type: OverflowError}).Error())
	assert.Equal(t, "InexactError: convert(u64, -1)", NewException(InexactError, "convert(%s, %d)", "u64", -1).Error())
}

func TestNewPanicException(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "oops", "panic: oops"},
		{"error", errors.New("bad"), "panic: bad"},
		{"other", 42, "panic: panic recovered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exc := NewPanicException(tt.value)
			assert.Equal(t, PanicException, exc.Type)
			assert.Equal(t, tt.want, exc.Message)
		})
	}
}

func TestAsException(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		_, ok := AsException(nil)
		assert.False(t, ok)
	})

	t.Run("dispatch stays outer", func(t *testing.T) {
		_, ok := AsException(fmt.Errorf("wrap: %w", &rserrors.DispatchError{Reason: rserrors.ReasonArity}))
		assert.False(t, ok)
	})

	t.Run("exception", func(t *testing.T) {
		exc, ok := AsException(fmt.Errorf("wrap: %w", &Exception{Type: ErrorException}))
		require.True(t, ok)
		assert.Equal(t, ErrorException, exc.Type)
	})

	t.Run("plain error becomes host error", func(t *testing.T) {
		exc, ok := AsException(errors.New("disk full"))
		require.True(t, ok)
		assert.Equal(t, HostError, exc.Type)
		assert.Equal(t, "disk full", exc.Message)
	})
}
