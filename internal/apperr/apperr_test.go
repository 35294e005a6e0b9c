package apperr

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain error", io.EOF, KindUnknown},
		{"new", New(KindNotFound, "student not found"), KindNotFound},
		{"wrapped", Wrap(io.ErrUnexpectedEOF, KindDecode, "read embedding"), KindDecode},
		{"fmt wrapped", fmt.Errorf("outer: %w", New(KindDevice, "cannot open camera")), KindDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWrapNil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Wrap(nil, KindIO, "noop"))
	assert.NoError(t, Wrapf(nil, KindIO, "noop %d", 1))
}

func TestMessageKeepsCause(t *testing.T) {
	t.Parallel()
	err := Wrap(io.ErrUnexpectedEOF, KindDecode, "load embedding S1")
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "load embedding S1: unexpected EOF", Message(err))
	assert.True(t, Is(err, KindDecode))
	assert.False(t, Is(nil, KindDecode))
}
