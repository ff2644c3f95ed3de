package buffer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brpc-go/brpc/buffer"
)

func TestStorePeekAndSkip(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	s := buffer.New()
	s.AppendSlice([]byte("hello "))
	s.AppendSlice([]byte("world"))
	a.Equal(11, s.ReadableBytes())

	b, err := s.Peek(5)
	require.NoError(t, err)
	a.Equal("hello", string(b))
	a.Equal(11, s.ReadableBytes(), "peek must not consume")

	_, err = s.Peek(100)
	a.ErrorIs(err, buffer.ErrNotEnoughData)

	require.NoError(t, s.Skip(6))
	a.Equal(5, s.ReadableBytes())

	b, err = s.Peek(5)
	require.NoError(t, err)
	a.Equal("world", string(b))
}

func TestReadRetainedSliceConsumesAndRefcounts(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	s := buffer.New()
	s.AppendSlice([]byte("abcdef"))

	sl, err := s.ReadRetainedSlice(3)
	require.NoError(t, err)
	a.Equal("abc", string(sl.Bytes()))
	a.Equal(3, s.ReadableBytes())

	clone := sl.Retain()
	sl.Release()
	a.Equal("abc", string(clone.Bytes()))
	clone.Release()

	a.PanicsWithValue("buffer: slice released more times than retained", func() {
		sl.Release()
	})
}

func TestRetainedSliceOverMultipleChunksDoesNotConsume(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	s := buffer.New()
	s.AppendSlice([]byte("123"))
	s.AppendSlice([]byte("456"))
	s.AppendSlice([]byte("789"))

	sl, err := s.RetainedSlice(2, 4)
	require.NoError(t, err)
	a.Equal("3456", string(sl.Bytes()))
	a.Equal(9, s.ReadableBytes(), "RetainedSlice must not consume")
	sl.Release()
}
