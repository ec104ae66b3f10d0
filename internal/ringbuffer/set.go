package ringbuffer

import (
	"fmt"
	"path/filepath"

	"github.com/sentinelcam/sentinelcam/internal/config"
)

// Set is the collection of pre-allocated buffers one task engine owns,
// declared by a ring_models entry in config.RingModel: {name -> (W,H,L)}.
// Multiple buffers of different (W,H) are pre-allocated per engine from
// this declarative model.
type Set struct {
	buffers map[string]*Buffer
}

// NewSet allocates one Buffer per entry of model.
func NewSet(model config.RingModel) (*Set, error) {
	s := &Set{buffers: make(map[string]*Buffer, len(model))}
	for name, dims := range model {
		buf, err := New(dims.Width, dims.Height, dims.Length)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("ringbuffer: allocate %q: %w", name, err)
		}
		s.buffers[name] = buf
	}
	return s, nil
}

// CreateSet is NewSet's cross-process variant: each buffer is backed by a
// named file under dir (one per ring_models entry) so a task-engine
// subprocess spawned after this call can re-attach to the same memory
// with AttachSet. The job manager owns this Set's lifetime exclusively.
func CreateSet(dir string, model config.RingModel) (*Set, error) {
	s := &Set{buffers: make(map[string]*Buffer, len(model))}
	for name, dims := range model {
		buf, err := Create(filepath.Join(dir, name+".ring"), dims.Width, dims.Height, dims.Length)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("ringbuffer: create %q: %w", name, err)
		}
		s.buffers[name] = buf
	}
	return s, nil
}

// AttachSet is the task-engine-side counterpart to CreateSet: it
// re-attaches to every buffer a job manager already created under dir.
func AttachSet(dir string, model config.RingModel) (*Set, error) {
	s := &Set{buffers: make(map[string]*Buffer, len(model))}
	for name, dims := range model {
		buf, err := Attach(filepath.Join(dir, name+".ring"), dims.Width, dims.Height, dims.Length)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("ringbuffer: attach %q: %w", name, err)
		}
		s.buffers[name] = buf
	}
	return s, nil
}

// ForSize returns the buffer matching (width, height), or
// ErrUnsupportedSize if the engine has none.
func (s *Set) ForSize(width, height int) (*Buffer, error) {
	for _, buf := range s.buffers {
		if buf.Width == width && buf.Height == height {
			return buf, nil
		}
	}
	return nil, ErrUnsupportedSize
}

// Close unmaps every buffer in the set.
func (s *Set) Close() error {
	var firstErr error
	for _, buf := range s.buffers {
		if err := buf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
