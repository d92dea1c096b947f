package speech

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/xpanvictor/mimi/pkg/Logger"
	"github.com/xpanvictor/mimi/pkg/speech/audioring"
)

// audioTap reads fixed-size PCM frames from the microphone for as long as
// the session listens. It runs beside the recognizer's own audio pipeline.
type audioTap struct {
	stream io.ReadCloser
	done   chan struct{}
}

// openTap must be called with s.mu held.
func (s *Session) openTap(ctx context.Context) error {
	stream, err := s.audio.Open(ctx)
	if err != nil {
		return err
	}
	t := &audioTap{stream: stream, done: make(chan struct{})}
	s.tap = t
	go pumpFrames(t, s.cfg, s.ring, s.logger)
	return nil
}

// closeTap releases the microphone. It does not wait for the pump, which
// exits once its read fails.
func (s *Session) closeTap() {
	if s.tap == nil {
		return
	}
	if err := s.tap.stream.Close(); err != nil {
		s.logger.Debugf("close microphone: %v", err)
	}
	s.tap = nil
}

func pumpFrames(t *audioTap, cfg Config, ring audioring.Ring, logger *Logger.Logger) {
	defer close(t.done)

	var seq uint64
	buf := make([]byte, cfg.FrameSize)
	for {
		n, err := io.ReadFull(t.stream, buf)
		if n > 0 && (err == nil || errors.Is(err, io.ErrUnexpectedEOF)) {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			seq++
			if ring != nil {
				if pushErr := ring.Push(audioring.Frame{
					Seq:        seq,
					Data:       frame,
					Timestamp:  time.Now(),
					SampleRate: cfg.SampleRate,
					Channels:   cfg.Channels,
				}); pushErr != nil {
					logger.Debugf("drop frame %d: %v", seq, pushErr)
				}
			}
			if cfg.OnAudioData != nil {
				cfg.OnAudioData(frame)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.ErrClosedPipe) {
				logger.Debugf("audio tap ended: %v", err)
			}
			return
		}
	}
}
