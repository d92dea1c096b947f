package speech

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrUnsupported means no recognizer is available. It is permanent.
	ErrUnsupported = errors.New("speech: recognition not supported")
	// ErrAlreadyStarted is what a recognizer reports when asked to start
	// while it is still running.
	ErrAlreadyStarted = errors.New("speech: recognizer already started")
	// ErrPermissionDenied is what an AudioSource reports when microphone
	// access was refused.
	ErrPermissionDenied = errors.New("speech: microphone permission denied")
)

// Recognizer error codes, as reported by the platform recognizer.
const (
	CodeNoSpeech     = "no-speech"
	CodeNotAllowed   = "not-allowed"
	CodeAudioCapture = "audio-capture"
	CodeNetwork      = "network"
	CodeAborted      = "aborted"
)

// DefaultSilenceTimeout is how long the session waits after the last
// recognized text before it reports silence.
const DefaultSilenceTimeout = 2 * time.Second

const (
	defaultFrameSize    = 4096
	defaultRingCapacity = 64 * 1024
)

// Recognizer is the short-lived platform speech recognizer. It ends on its
// own after a platform-defined time and reports results, end and errors
// back through Session.Apply. Implementations must not call Apply from
// inside Start or Stop.
type Recognizer interface {
	Start(ctx context.Context, language string) error
	Stop() error
}

// AudioSource opens the microphone for the raw-audio tap. Closing the
// returned stream releases the device.
type AudioSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Phase is the externally visible session state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseListening Phase = "listening"
	PhaseStopped   Phase = "stopped"
	PhaseErrored   Phase = "errored"
)

// Segment is one recognition result. Final segments are never revised.
type Segment struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"isFinal"`
}

// Event is something the platform recognizer reported.
type Event interface {
	isEvent()
}

// ResultEvent carries the recognizer's result list. Only entries from
// ResultIndex onwards are new.
type ResultEvent struct {
	ResultIndex int       `json:"resultIndex"`
	Results     []Segment `json:"results"`
}

// EndEvent reports that the recognizer stopped, for any reason.
type EndEvent struct{}

// ErrorEvent reports a recognizer error code.
type ErrorEvent struct {
	Code string `json:"code"`
}

// SilenceEvent reports that no new text arrived for the silence timeout.
type SilenceEvent struct{}

func (ResultEvent) isEvent()  {}
func (EndEvent) isEvent()     {}
func (ErrorEvent) isEvent()   {}
func (SilenceEvent) isEvent() {}

// Config is supplied by the session owner.
type Config struct {
	Language  string
	AutoStart bool
	// OnTranscript receives final+interim text after every result event.
	OnTranscript func(text string)
	// OnAudioData receives each raw PCM frame while the tap is open.
	OnAudioData func(frame []byte)
	// OnError receives fatal recognizer error codes.
	OnError func(code string)
	// OnSilence receives the transcript when the silence timeout elapses.
	OnSilence      func(text string)
	SilenceTimeout time.Duration
	FrameSize      int
	RingCapacity   int
	SampleRate     int32
	Channels       int16
}

// State is a snapshot of the session, returned by value.
type State struct {
	Phase             Phase  `json:"phase"`
	IsListening       bool   `json:"isListening"`
	Transcript        string `json:"transcript"`
	FinalTranscript   string `json:"finalTranscript"`
	InterimTranscript string `json:"interimTranscript"`
	IsSupported       bool   `json:"isSupported"`
	Error             string `json:"error,omitempty"`
	AudioBuffer       []byte `json:"-"`
	SilenceObserved   bool   `json:"silenceObserved"`
}

// timer is the part of *time.Timer the session needs.
type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}
