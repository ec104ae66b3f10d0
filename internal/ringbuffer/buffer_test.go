package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelcam/sentinelcam/internal/config"
)

func TestPutGetAdvance(t *testing.T) {
	b, err := New(2, 2, 3)
	require.NoError(t, err)
	defer b.Close()

	frame := make([]byte, b.FrameSize())
	for i := range frame {
		frame[i] = byte(i)
	}

	_, ok := b.Peek()
	assert.False(t, ok, "empty buffer returns EOF")

	idx, err := b.Put(frame)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 1, b.Count())

	head, ok := b.Peek()
	require.True(t, ok)
	assert.Equal(t, idx, head)
	assert.Equal(t, frame, b.Slot(head))

	b.Advance()
	assert.Equal(t, 0, b.Count())
	_, ok = b.Peek()
	assert.False(t, ok)
}

func TestPutFullReturnsErrFull(t *testing.T) {
	b, err := New(1, 1, 2)
	require.NoError(t, err)
	defer b.Close()

	frame := make([]byte, b.FrameSize())
	_, err = b.Put(frame)
	require.NoError(t, err)
	_, err = b.Put(frame)
	require.NoError(t, err)

	assert.True(t, b.IsFull())
	_, err = b.Put(frame)
	assert.ErrorIs(t, err, ErrFull)
}

func TestAdvanceOnEmptyIsNoop(t *testing.T) {
	b, err := New(1, 1, 2)
	require.NoError(t, err)
	defer b.Close()

	b.Advance()
	assert.Equal(t, 0, b.Count())
}

func TestSetUnsupportedSize(t *testing.T) {
	set, err := NewSet(config.RingModel{
		"small": {Width: 320, Height: 180, Length: 4},
	})
	require.NoError(t, err)
	defer set.Close()

	_, err = set.ForSize(999, 999)
	assert.ErrorIs(t, err, ErrUnsupportedSize)

	buf, err := set.ForSize(320, 180)
	require.NoError(t, err)
	assert.Equal(t, 4, buf.Length)
}
