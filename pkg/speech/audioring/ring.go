// Package audioring keeps the most recent tapped microphone frames in a
// bounded byte ring. When full, the oldest frames are dropped.
package audioring

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/smallnest/ringbuffer"
)

var ErrFrameTooLarge = errors.New("audioring: frame too large for buffer")

// Ring is a bounded FIFO of frames.
type Ring interface {
	Push(frame Frame) error
	Latest() (Frame, bool)
	Len() int
	Drain(ch chan<- Frame) int
	Reset()
}

type rbRing struct {
	mu     sync.Mutex
	rb     *ringbuffer.RingBuffer
	frames int
	latest *Frame
}

func New(size int) Ring {
	return &rbRing{
		rb: ringbuffer.New(size).SetBlocking(false),
	}
}

// Push appends a frame, evicting the oldest ones until it fits.
func (r *rbRing) Push(frame Frame) error {
	data, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	required := len(frame.Data) + FrameOverhead
	if required > r.rb.Capacity() {
		return ErrFrameTooLarge
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.rb.Free() < required {
		if !r.discardOldest() {
			r.rb.Reset()
			r.frames = 0
			break
		}
	}

	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(data)))
	if _, err := r.rb.Write(size[:]); err != nil {
		return err
	}
	if _, err := r.rb.Write(data); err != nil {
		return err
	}
	r.frames++
	latest := frame
	latest.Data = append([]byte(nil), frame.Data...)
	r.latest = &latest
	return nil
}

func (r *rbRing) pop() (Frame, bool) {
	if r.rb.IsEmpty() {
		return Frame{}, false
	}
	var size [4]byte
	if n, err := r.rb.Read(size[:]); err != nil || n != 4 {
		return Frame{}, false
	}
	data := make([]byte, binary.LittleEndian.Uint32(size[:]))
	if n, err := r.rb.Read(data); err != nil || n != len(data) {
		return Frame{}, false
	}
	r.frames--

	var frame Frame
	if err := frame.UnmarshalBinary(data); err != nil {
		return Frame{}, false
	}
	return frame, true
}

func (r *rbRing) discardOldest() bool {
	_, ok := r.pop()
	return ok
}

// Latest returns the most recently pushed frame, even if it was drained since.
func (r *rbRing) Latest() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return Frame{}, false
	}
	return *r.latest, true
}

// Len is the number of frames currently held.
func (r *rbRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Drain moves buffered frames into ch until the ring is empty or ch would
// block. It returns how many frames were delivered.
func (r *rbRing) Drain(ch chan<- Frame) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for {
		if len(ch) == cap(ch) {
			return n
		}
		frame, ok := r.pop()
		if !ok {
			return n
		}
		ch <- frame
		n++
	}
}

func (r *rbRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rb.Reset()
	r.frames = 0
	r.latest = nil
}
