package websocket

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/xpanvictor/mimi/pkg/speech"
)

// remoteRecognizer drives the browser's recognizer over the socket. Results,
// end and error events come back as client messages and are applied by the
// read loop, never from inside Start or Stop.
type remoteRecognizer struct {
	send func(MessageType, interface{}) error

	mu      sync.Mutex
	running bool
}

func (r *remoteRecognizer) Start(_ context.Context, language string) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return speech.ErrAlreadyStarted
	}
	r.running = true
	r.mu.Unlock()

	if err := r.send(MessageTypeRecognizerStart, RecognizerStartMessage{Language: language}); err != nil {
		r.ended()
		return err
	}
	return nil
}

func (r *remoteRecognizer) Stop() error {
	r.ended()
	return r.send(MessageTypeRecognizerStop, nil)
}

// ended records that the browser's recognizer is no longer running.
func (r *remoteRecognizer) ended() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// pipeAudio is the microphone as seen from the server: binary frames from
// the client are written into the pipe the session's tap reads from.
type pipeAudio struct {
	mu     sync.Mutex
	denied bool
	w      *io.PipeWriter
}

func (p *pipeAudio) Open(_ context.Context) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.denied {
		return nil, speech.ErrPermissionDenied
	}
	if p.w != nil {
		p.w.Close()
	}
	r, w := io.Pipe()
	p.w = w
	return r, nil
}

// Write hands one client frame to the tap. Frames arriving while no tap is
// open are dropped.
func (p *pipeAudio) Write(frame []byte) error {
	p.mu.Lock()
	w := p.w
	p.mu.Unlock()
	if w == nil {
		return nil
	}

	if _, err := w.Write(frame); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			p.mu.Lock()
			if p.w == w {
				p.w = nil
			}
			p.mu.Unlock()
			return nil
		}
		return err
	}
	return nil
}

func (p *pipeAudio) SetPermission(granted bool) {
	p.mu.Lock()
	p.denied = !granted
	p.mu.Unlock()
}

func (p *pipeAudio) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w != nil {
		p.w.Close()
		p.w = nil
	}
}
