// Package ringbuffer implements the shared-memory bounded frame queue that
// couples the job manager (producer) to a task-engine subprocess
// (consumer). Frame slots live in a MAP_SHARED mapping: Create/Attach back
// it with a named file that a separately exec'd engine process re-opens;
// New uses an anonymous mapping, which is shared only within one process.
package ringbuffer

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrFull is returned by Put when the buffer has no free slot.
var ErrFull = errors.New("ringbuffer: full")

// ErrUnsupportedSize signals that no preallocated buffer matches a
// requested (width, height).
var ErrUnsupportedSize = errors.New("ringbuffer: unsupported frame size")

// Buffer is a fixed-length sequence of pre-allocated frame slots sized to
// the (width, height, 3) BGR byte layout of one camera view. One producer
// and one consumer share it; both sides serialize their own access
// through the ring-wire control protocol (wire.go), so Buffer's own lock
// only protects the count/start/end bookkeeping from concurrent
// Put/Peek/Advance calls racing within a single process.
type Buffer struct {
	Width, Height, Length int

	frameSize int
	mem       []byte
	slots     [][]byte

	mu           sync.Mutex
	count, start, end int
}

// New allocates a Buffer of length slots, each sized width*height*3 bytes,
// backed by an anonymous shared memory mapping.
func New(width, height, length int) (*Buffer, error) {
	if width <= 0 || height <= 0 || length <= 0 {
		return nil, fmt.Errorf("ringbuffer: invalid dimensions %dx%dx%d", width, height, length)
	}
	frameSize := width * height * 3
	total := frameSize * length

	mem, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("ringbuffer: mmap %d bytes: %w", total, err)
	}

	slots := make([][]byte, length)
	for i := range slots {
		slots[i] = mem[i*frameSize : (i+1)*frameSize]
	}

	return &Buffer{
		Width: width, Height: height, Length: length,
		frameSize: frameSize, mem: mem, slots: slots,
	}, nil
}

// Create allocates a Buffer backed by a named, file-backed shared mapping
// at path: the job manager owns this memory's lifetime exclusively, and a
// spawned task engine re-attaches to the same path with Attach. Create
// truncates (and creates, if absent) the backing file to the required
// size.
func Create(path string, width, height, length int) (*Buffer, error) {
	if width <= 0 || height <= 0 || length <= 0 {
		return nil, fmt.Errorf("ringbuffer: invalid dimensions %dx%dx%d", width, height, length)
	}
	frameSize := width * height * 3
	total := frameSize * length

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ringbuffer: create backing file %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(total)); err != nil {
		return nil, fmt.Errorf("ringbuffer: truncate backing file %s: %w", path, err)
	}

	return mapFile(f, width, height, length, frameSize, total)
}

// Attach opens the shared mapping a job manager Create'd at path, for use
// by the task-engine subprocess that inherited its location. Dimensions
// must match what Create used.
func Attach(path string, width, height, length int) (*Buffer, error) {
	if width <= 0 || height <= 0 || length <= 0 {
		return nil, fmt.Errorf("ringbuffer: invalid dimensions %dx%dx%d", width, height, length)
	}
	frameSize := width * height * 3
	total := frameSize * length

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ringbuffer: attach backing file %s: %w", path, err)
	}
	defer f.Close()

	return mapFile(f, width, height, length, frameSize, total)
}

func mapFile(f *os.File, width, height, length, frameSize, total int) (*Buffer, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ringbuffer: mmap %s: %w", f.Name(), err)
	}

	slots := make([][]byte, length)
	for i := range slots {
		slots[i] = mem[i*frameSize : (i+1)*frameSize]
	}

	return &Buffer{
		Width: width, Height: height, Length: length,
		frameSize: frameSize, mem: mem, slots: slots,
	}, nil
}

// Close unmaps the underlying shared memory. The buffer must not be used
// afterwards by either side.
func (b *Buffer) Close() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return err
}

// FrameSize is the byte length of one slot (width*height*3).
func (b *Buffer) FrameSize() int { return b.frameSize }

// Count returns the number of occupied slots.
func (b *Buffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// IsFull reports whether the buffer has no free slot.
func (b *Buffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count == b.Length
}

// Put is the producer-side operation: copy frame into the slot at end,
// advance end, and increment count. The caller must not call Put while
// IsFull(); Put returns ErrFull rather than silently overwriting the slot
// the consumer may still be reading.
func (b *Buffer) Put(frame []byte) (bucket int, err error) {
	if len(frame) != b.frameSize {
		return -1, fmt.Errorf("ringbuffer: frame is %d bytes, want %d", len(frame), b.frameSize)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == b.Length {
		return -1, ErrFull
	}

	idx := b.end
	copy(b.slots[idx], frame)
	b.end = (b.end + 1) % b.Length
	b.count++
	return idx, nil
}

// Peek is the consumer-side get() operation: it returns the current head
// slot index without releasing it, or ok=false (EOF) when the buffer is
// empty. The producer MUST NOT write to this slot while count > 0.
func (b *Buffer) Peek() (bucket int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return -1, false
	}
	return b.start, true
}

// Advance is frame_complete(): it releases the head slot, advancing start
// and decrementing count. A no-op on an already-empty buffer.
func (b *Buffer) Advance() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return
	}
	b.start = (b.start + 1) % b.Length
	b.count--
}

// Slot returns the byte slice for bucket index idx. Valid only for the
// duration the slot is owned by the caller (the consumer, between Peek and
// Advance; the producer, during Put).
func (b *Buffer) Slot(idx int) []byte {
	return b.slots[idx]
}
