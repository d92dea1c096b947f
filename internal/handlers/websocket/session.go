package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/mimi/internal/config"
	"github.com/xpanvictor/mimi/internal/domains/utterance"
	"github.com/xpanvictor/mimi/pkg/Logger"
	"github.com/xpanvictor/mimi/pkg/speech"
	"github.com/xpanvictor/mimi/pkg/speech/audioring"
)

const submitTimeout = 5 * time.Second

// wsConn is the part of *websocket.Conn a session writes through.
type wsConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session is one speech socket. It owns a speech.Session and acts as its
// owner: on silence it submits the transcript and starts a fresh one.
type Session struct {
	UserID      uuid.UUID
	SessionID   uuid.UUID
	Language    string
	Conn        wsConn
	ConnectedAt time.Time

	speech     *speech.Session
	recognizer *remoteRecognizer
	audio      *pipeAudio
	utterances utterance.UtteranceService
	logger     *Logger.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	frames   atomic.Uint64
	submitMu sync.Mutex

	lastActive time.Time
	IsActive   bool
	mutex      sync.RWMutex
}

// NewSession creates a new WebSocket session
func NewSession(
	userID uuid.UUID,
	language string,
	conn wsConn,
	cfg config.SpeechConfig,
	utterances utterance.UtteranceService,
	logger *Logger.Logger,
) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		UserID:      userID,
		SessionID:   uuid.New(),
		Language:    language,
		Conn:        conn,
		ConnectedAt: time.Now(),
		utterances:  utterances,
		audio:       &pipeAudio{},
		ctx:         ctx,
		cancel:      cancel,
		lastActive:  time.Now(),
		IsActive:    true,
	}
	s.logger = Logger.OrNop(logger).Named("ws").With("session", s.SessionID.String())
	s.recognizer = &remoteRecognizer{send: s.SendWebSocketMessage}
	s.speech = speech.NewSession(s.recognizer, s.audio, speech.Config{
		Language:       language,
		OnTranscript:   s.onTranscript,
		OnAudioData:    func([]byte) { s.frames.Add(1) },
		OnError:        s.onError,
		OnSilence:      s.onSilence,
		SilenceTimeout: cfg.SilenceTimeout,
		FrameSize:      cfg.FrameSize,
		RingCapacity:   cfg.RingCapacity,
		SampleRate:     16000,
		Channels:       1,
	}, s.logger)
	return s
}

func (s *Session) onTranscript(text string) {
	if err := s.SendWebSocketMessage(MessageTypeTranscript, TextMessage{Text: text}); err != nil {
		s.logger.Debugf("send transcript: %v", err)
	}
}

func (s *Session) onError(code string) {
	if err := s.SendWebSocketMessage(MessageTypeError, ErrorMessage{Code: code}); err != nil {
		s.logger.Debugf("send error: %v", err)
	}
}

// onSilence submits what was said so far. Submits run one at a time and
// only the submitted text leaves the transcript, so speech recognized while
// a submit is in flight waits for the next one. A failed submit keeps the
// transcript.
func (s *Session) onSilence(text string) {
	if err := s.SendWebSocketMessage(MessageTypeSilence, TextMessage{Text: text}); err != nil {
		s.logger.Debugf("send silence: %v", err)
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	// An earlier submit may have consumed part of text already.
	text = s.speech.Transcript()

	ctx, cancel := context.WithTimeout(s.ctx, submitTimeout)
	defer cancel()

	u, err := s.utterances.Submit(ctx, s.UserID, s.SessionID, s.Language, text)
	if err != nil {
		if errors.Is(err, utterance.ErrEmptyUtterance) {
			return
		}
		s.logger.Errorf("submit utterance: %v", err)
		s.SendError(codeSubmitFailed, "Failed to submit utterance")
		return
	}

	s.speech.Consume(text)
	if err := s.SendWebSocketMessage(MessageTypeSubmitted, SubmittedMessage{
		ID:   u.ID.String(),
		Text: u.Text,
	}); err != nil {
		s.logger.Debugf("send submitted: %v", err)
	}
}

// SendWebSocketMessage sends a message to the WebSocket client
func (s *Session) SendWebSocketMessage(msgType MessageType, data interface{}) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.IsActive {
		return fmt.Errorf("session not active")
	}

	return s.Conn.WriteJSON(WSMessage{
		Type:      msgType,
		Data:      data,
		SessionID: s.SessionID.String(),
		Timestamp: time.Now(),
	})
}

// SendError sends an error message to the client
func (s *Session) SendError(code, message string) error {
	return s.SendWebSocketMessage(MessageTypeError, ErrorMessage{
		Code:    code,
		Message: message,
	})
}

// SendState pushes a snapshot of the speech session.
func (s *Session) SendState() error {
	return s.SendWebSocketMessage(MessageTypeState, s.speech.State())
}

// UpdateLastActive updates the last activity timestamp
func (s *Session) UpdateLastActive() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActive = time.Now()
}

// LastActive returns the last activity timestamp
func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

// IsExpired checks if the session has expired based on inactivity
func (s *Session) IsExpired(timeout time.Duration) bool {
	return time.Since(s.LastActive()) > timeout
}

// IsAlive checks if the session is active
func (s *Session) IsAlive() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.IsActive
}

// Frames is the number of audio frames tapped so far.
func (s *Session) Frames() uint64 {
	return s.frames.Load()
}

// BufferedFrames is how many tapped frames wait in the ring.
func (s *Session) BufferedFrames() int {
	if ring := s.speech.Frames(); ring != nil {
		return ring.Len()
	}
	return 0
}

// DrainAudio removes up to limit buffered frames, oldest first. limit <= 0
// drains everything.
func (s *Session) DrainAudio(limit int) []audioring.Frame {
	ring := s.speech.Frames()
	if ring == nil {
		return nil
	}
	n := ring.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil
	}

	ch := make(chan audioring.Frame, n)
	ring.Drain(ch)
	close(ch)

	frames := make([]audioring.Frame, 0, n)
	for frame := range ch {
		frames = append(frames, frame)
	}
	return frames
}

// Close stops listening and closes the connection. Safe to call twice.
func (s *Session) Close() error {
	s.mutex.Lock()
	if !s.IsActive {
		s.mutex.Unlock()
		return nil
	}
	s.IsActive = false
	s.mutex.Unlock()

	if err := s.speech.Close(); err != nil {
		s.logger.Debugf("close speech session: %v", err)
	}
	s.audio.Close()
	s.cancel()
	return s.Conn.Close()
}
