// Package speech turns a short-lived, auto-terminating platform recognizer
// into one continuous transcription stream, with an optional raw-audio tap.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/looplab/fsm"
	"github.com/xpanvictor/mimi/pkg/Logger"
	"github.com/xpanvictor/mimi/pkg/speech/audioring"
)

// Session is one logical listening interaction. It may span many underlying
// recognizer runs; the owner only ever sees one continuous transcript.
type Session struct {
	recognizer Recognizer
	audio      AudioSource
	cfg        Config
	logger     *Logger.Logger
	after      afterFunc

	mu        sync.Mutex
	machine   *fsm.FSM
	listening bool
	final     string
	interim   string
	errCode   string
	silent    bool

	ctx    context.Context
	cancel context.CancelFunc

	silence    timer
	silenceGen uint64

	ring audioring.Ring
	tap  *audioTap
}

// NewSession checks recognizer availability once. A nil recognizer makes the
// session permanently unsupported. The tap needs both an audio source and
// an OnAudioData consumer.
func NewSession(recognizer Recognizer, audio AudioSource, cfg Config, logger *Logger.Logger) *Session {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = defaultFrameSize
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = defaultRingCapacity
	}

	s := &Session{
		recognizer: recognizer,
		audio:      audio,
		cfg:        cfg,
		logger:     Logger.OrNop(logger).Named("speech"),
		after:      realAfterFunc,
	}
	s.machine = newMachine(func(from, to Phase) {
		s.logger.Debugf("session %s -> %s", from, to)
	})
	if s.tapEnabled() {
		s.ring = audioring.New(cfg.RingCapacity)
	}

	if cfg.AutoStart && recognizer != nil {
		if err := s.Start(context.Background()); err != nil {
			s.logger.Warnf("auto start failed: %v", err)
		}
	}
	return s
}

// Supported reports whether a recognizer is available.
func (s *Session) Supported() bool {
	return s.recognizer != nil
}

// Start begins listening. It is a no-op while already listening. Committed
// text from an earlier run is kept; use ResetTranscript to start fresh.
func (s *Session) Start(ctx context.Context) error {
	if s.recognizer == nil {
		return ErrUnsupported
	}

	var notify []func()
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.listening {
			return nil
		}
		s.errCode = ""
		s.ctx, s.cancel = context.WithCancel(ctx)

		if s.tapEnabled() {
			if err := s.openTap(s.ctx); err != nil {
				code := codeFor(err)
				s.cancel()
				s.errCode = code
				notify = append(notify, s.errorNotice(code))
				return fmt.Errorf("speech: open microphone: %w", err)
			}
		}

		if err := s.recognizer.Start(s.ctx, s.cfg.Language); err != nil && !errors.Is(err, ErrAlreadyStarted) {
			s.closeTap()
			s.cancel()
			s.errCode = codeFor(err)
			notify = append(notify, s.errorNotice(s.errCode))
			return fmt.Errorf("speech: start recognizer: %w", err)
		}

		s.listening = true
		s.transition(evStart)
		return nil
	}()

	run(notify)
	return err
}

// Stop ends listening. Intent is cleared before the recognizer is asked to
// stop, so its pending end event cannot trigger a restart.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.listening {
		return nil
	}
	s.listening = false
	s.transition(evStop)
	s.release()

	if err := s.recognizer.Stop(); err != nil {
		s.logger.Warnf("recognizer stop: %v", err)
		return fmt.Errorf("speech: stop recognizer: %w", err)
	}
	return nil
}

// ResetTranscript drops all committed and interim text.
func (s *Session) ResetTranscript() {
	s.mu.Lock()
	s.final = ""
	s.interim = ""
	s.silent = false
	s.disarmSilence()
	cb := s.cfg.OnTranscript
	s.mu.Unlock()

	if cb != nil {
		cb("")
	}
}

// Consume removes text the owner has handed off from the front of the
// transcript. Anything recognized after that text was read is kept. If the
// transcript no longer starts with text, it was reset meanwhile and nothing
// changes.
func (s *Session) Consume(text string) {
	if text == "" {
		return
	}

	s.mu.Lock()
	switch {
	case strings.HasPrefix(s.final, text):
		s.final = strings.TrimLeft(s.final[len(text):], " ")
	case strings.HasPrefix(text, s.final) && strings.HasPrefix(s.interim, text[len(s.final):]):
		s.interim = s.interim[len(text)-len(s.final):]
		s.final = ""
	default:
		s.mu.Unlock()
		return
	}
	if s.final == "" && strings.TrimSpace(s.interim) == "" {
		s.silent = false
		s.disarmSilence()
	}
	remaining := s.final + s.interim
	cb := s.cfg.OnTranscript
	s.mu.Unlock()

	if cb != nil {
		cb(remaining)
	}
}

// Close stops listening and drops buffered audio.
func (s *Session) Close() error {
	err := s.Stop()
	if s.ring != nil {
		s.ring.Reset()
	}
	return err
}

// Apply feeds one recognizer event into the session. It is the only way
// recognizer output reaches the session.
func (s *Session) Apply(ev Event) {
	var notify []func()

	s.mu.Lock()
	switch e := ev.(type) {
	case ResultEvent:
		notify = s.onResult(e)
	case EndEvent:
		s.onEnd()
	case ErrorEvent:
		notify = s.onError(e)
	case SilenceEvent:
		notify = s.onSilence()
	default:
		s.logger.Warnf("ignoring unknown event %T", ev)
	}
	s.mu.Unlock()

	run(notify)
}

func (s *Session) onResult(e ResultEvent) []func() {
	start := e.ResultIndex
	if start < 0 {
		start = 0
	}

	interim := ""
	heard := false
	for i := start; i < len(e.Results); i++ {
		seg := e.Results[i]
		if seg.IsFinal {
			if text := strings.TrimSpace(seg.Transcript); text != "" {
				s.final += text + " "
				heard = true
			}
			continue
		}
		if strings.TrimSpace(seg.Transcript) != "" {
			heard = true
		}
		interim += seg.Transcript
	}
	s.interim = interim

	if heard {
		s.silent = false
		if s.listening {
			s.armSilence()
		}
	}

	text := s.final + s.interim
	if cb := s.cfg.OnTranscript; cb != nil {
		return []func(){func() { cb(text) }}
	}
	return nil
}

func (s *Session) onEnd() {
	if !s.listening {
		return
	}
	// The platform ended the run on its own. Keep the caller's view intact.
	if err := s.recognizer.Start(s.ctx, s.cfg.Language); err != nil {
		if errors.Is(err, ErrAlreadyStarted) {
			return
		}
		s.logger.Errorf("recognizer restart failed, listening without recognition: %v", err)
		return
	}
	s.logger.Debugf("recognizer restarted")
}

func (s *Session) onError(e ErrorEvent) []func() {
	if e.Code == CodeNoSpeech {
		s.logger.Debugf("no speech detected, still listening")
		return nil
	}
	if !s.listening {
		s.logger.Debugf("recognizer error %q after stop ignored", e.Code)
		return nil
	}

	s.errCode = e.Code
	s.listening = false
	s.transition(evFail)
	s.release()
	if err := s.recognizer.Stop(); err != nil {
		s.logger.Debugf("recognizer stop after error: %v", err)
	}
	s.logger.Warnf("recognizer error %q, session stopped", e.Code)
	return []func(){s.errorNotice(e.Code)}
}

func (s *Session) onSilence() []func() {
	if !s.listening {
		return nil
	}
	s.silent = true
	text := s.final + s.interim
	if cb := s.cfg.OnSilence; cb != nil {
		return []func(){func() { cb(text) }}
	}
	return nil
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Phase:             Phase(s.machine.Current()),
		IsListening:       s.listening,
		Transcript:        s.final + s.interim,
		FinalTranscript:   s.final,
		InterimTranscript: s.interim,
		IsSupported:       s.recognizer != nil,
		Error:             s.errCode,
		SilenceObserved:   s.silent,
	}
	if s.ring != nil {
		if frame, ok := s.ring.Latest(); ok {
			st.AudioBuffer = frame.Data
		}
	}
	return st
}

// Transcript returns final+interim text.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final + s.interim
}

// Frames exposes the tapped audio ring, nil when the tap is disabled.
func (s *Session) Frames() audioring.Ring {
	return s.ring
}

func (s *Session) tapEnabled() bool {
	return s.audio != nil && s.cfg.OnAudioData != nil
}

func (s *Session) transition(event string) {
	if err := s.machine.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			s.logger.Warnf("phase %s rejected %s: %v", s.machine.Current(), event, err)
		}
	}
}

// release tears down everything held only while listening.
func (s *Session) release() {
	s.disarmSilence()
	s.closeTap()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) armSilence() {
	s.disarmSilence()
	s.silenceGen++
	gen := s.silenceGen
	s.silence = s.after(s.cfg.SilenceTimeout, func() { s.silenceElapsed(gen) })
}

// silenceElapsed runs on the timer goroutine. Timers re-armed or disarmed
// since they were created are ignored.
func (s *Session) silenceElapsed(gen uint64) {
	var notify []func()
	s.mu.Lock()
	if gen == s.silenceGen {
		notify = s.onSilence()
	}
	s.mu.Unlock()
	run(notify)
}

func (s *Session) disarmSilence() {
	if s.silence != nil {
		s.silence.Stop()
		s.silence = nil
	}
	s.silenceGen++
}

func (s *Session) errorNotice(code string) func() {
	cb := s.cfg.OnError
	return func() {
		if cb != nil {
			cb(code)
		}
	}
}

func codeFor(err error) string {
	if errors.Is(err, ErrPermissionDenied) {
		return CodeNotAllowed
	}
	return CodeAudioCapture
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
