package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xpanvictor/mimi/internal/auth"
	"github.com/xpanvictor/mimi/internal/config"
	"github.com/xpanvictor/mimi/internal/domains/utterance"
	"github.com/xpanvictor/mimi/pkg/speech"
)

type received struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	SessionID string          `json:"sessionId"`
}

type harness struct {
	server     *httptest.Server
	handler    *WebSocketHandler
	authority  *auth.Authority
	utterances utterance.UtteranceService
	userID     uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, utterance.NewUtteranceService(utterance.NewMemoryRepository(), nil))
}

func newHarnessWith(t *testing.T, utterances utterance.UtteranceService) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authority, err := auth.NewAuthority("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Settings{
		Speech: config.SpeechConfig{
			Language:       "en-US",
			SilenceTimeout: 50 * time.Millisecond,
			FrameSize:      4,
			RingCapacity:   1024,
		},
	}
	handler := NewWebSocketHandler(nil, cfg, utterances, authority)

	r := gin.New()
	handler.RegisterRoutes(r)
	server := httptest.NewServer(r)

	h := &harness{
		server:     server,
		handler:    handler,
		authority:  authority,
		utterances: utterances,
		userID:     uuid.New(),
	}
	t.Cleanup(func() {
		handler.Close()
		server.Close()
	})
	return h
}

func (h *harness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	token, err := h.authority.Issue(h.userID, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/speech?token=" + token + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// expect reads until a message of the wanted type arrives.
func expect(t *testing.T, conn *websocket.Conn, want MessageType) received {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg received
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func expectState(t *testing.T, conn *websocket.Conn, phase speech.Phase) speech.State {
	t.Helper()
	for {
		msg := expect(t, conn, MessageTypeState)
		var st speech.State
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			t.Fatalf("bad state payload: %v", err)
		}
		if st.Phase == phase {
			return st
		}
	}
}

func TestSpeechRoundTrip(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "&lang=en-GB")

	expectState(t, conn, speech.PhaseIdle)

	send(t, conn, `{"type":"start"}`)
	msg := expect(t, conn, MessageTypeRecognizerStart)
	var start RecognizerStartMessage
	_ = json.Unmarshal(msg.Data, &start)
	if start.Language != "en-GB" {
		t.Fatalf("expected en-GB recognizer, got %q", start.Language)
	}
	expectState(t, conn, speech.PhaseListening)

	send(t, conn, `{"type":"result","data":{"resultIndex":0,"results":[{"transcript":"hello","isFinal":true}]}}`)
	msg = expect(t, conn, MessageTypeTranscript)
	var tm TextMessage
	_ = json.Unmarshal(msg.Data, &tm)
	if tm.Text != "hello " {
		t.Fatalf("unexpected transcript %q", tm.Text)
	}

	expect(t, conn, MessageTypeSilence)
	msg = expect(t, conn, MessageTypeSubmitted)
	var sm SubmittedMessage
	_ = json.Unmarshal(msg.Data, &sm)
	if sm.Text != "hello" {
		t.Fatalf("unexpected submitted text %q", sm.Text)
	}

	sessionID := uuid.MustParse(msg.SessionID)
	stored, err := h.utterances.ListSession(context.Background(), h.userID, sessionID, 10)
	if err != nil || len(stored) != 1 || stored[0].Text != "hello" || stored[0].Language != "en-GB" {
		t.Fatalf("utterance not stored: %+v %v", stored, err)
	}

	send(t, conn, `{"type":"end"}`)
	expect(t, conn, MessageTypeRecognizerStart)

	send(t, conn, `{"type":"stop"}`)
	expect(t, conn, MessageTypeRecognizerStop)
	st := expectState(t, conn, speech.PhaseStopped)
	if st.IsListening || st.Transcript != "" {
		t.Errorf("unexpected state after stop %+v", st)
	}
}

// slowUtterances holds the first Submit until release is closed.
type slowUtterances struct {
	utterance.UtteranceService
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowUtterances) Submit(ctx context.Context, userID, sessionID uuid.UUID, language, text string) (*utterance.Utterance, error) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.UtteranceService.Submit(ctx, userID, sessionID, language, text)
}

func TestSpeechDuringSubmitIsKept(t *testing.T) {
	slow := &slowUtterances{
		UtteranceService: utterance.NewUtteranceService(utterance.NewMemoryRepository(), nil),
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	h := newHarnessWith(t, slow)
	conn := h.dial(t, "")

	send(t, conn, `{"type":"start"}`)
	expectState(t, conn, speech.PhaseListening)

	send(t, conn, `{"type":"result","data":{"resultIndex":0,"results":[{"transcript":"hello","isFinal":true}]}}`)
	select {
	case <-slow.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("silence never triggered a submit")
	}

	send(t, conn, `{"type":"result","data":{"resultIndex":0,"results":[{"transcript":"world","isFinal":true}]}}`)
	for {
		msg := expect(t, conn, MessageTypeTranscript)
		var tm TextMessage
		_ = json.Unmarshal(msg.Data, &tm)
		if tm.Text == "hello world " {
			break
		}
	}
	close(slow.release)

	var texts []string
	var sessionID uuid.UUID
	for len(texts) < 2 {
		msg := expect(t, conn, MessageTypeSubmitted)
		var sm SubmittedMessage
		_ = json.Unmarshal(msg.Data, &sm)
		texts = append(texts, sm.Text)
		sessionID = uuid.MustParse(msg.SessionID)
	}
	if texts[0] != "hello" || texts[1] != "world" {
		t.Fatalf("expected both parts submitted once each, got %q", texts)
	}

	stored, err := slow.ListSession(context.Background(), h.userID, sessionID, 10)
	if err != nil || len(stored) != 2 {
		t.Fatalf("expected two stored utterances, got %+v %v", stored, err)
	}
}

func TestDrainAudio(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "")

	send(t, conn, `{"type":"start"}`)
	expectState(t, conn, speech.PhaseListening)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatal(err)
	}

	var session *Session
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sessions := h.handler.connectionManager.GetUserSessions(h.userID); len(sessions) == 1 && sessions[0].BufferedFrames() == 2 {
			session = sessions[0]
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if session == nil {
		t.Fatal("tapped frames never reached the ring")
	}

	token, _ := h.authority.Issue(h.userID, time.Minute)
	url := h.server.URL + "/ws/sessions/" + session.SessionID.String() + "/audio?max=1"
	get := func(target, token string) *http.Response {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := get(url, token)
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, []byte{1, 2, 3, 4}) {
		t.Fatalf("expected oldest frame, got %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Audio-Frames") != "1" || resp.Header.Get("X-Audio-Sample-Rate") != "16000" {
		t.Errorf("unexpected headers %v", resp.Header)
	}
	if session.BufferedFrames() != 1 {
		t.Errorf("drained frame should leave the ring, %d left", session.BufferedFrames())
	}

	resp = get(strings.TrimSuffix(url, "?max=1"), token)
	body, _ = io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, []byte{5, 6, 7, 8}) {
		t.Fatalf("expected remaining frame, got %d %v", resp.StatusCode, body)
	}

	if resp = get(url, token); resp.StatusCode != http.StatusNoContent {
		t.Errorf("empty ring should be 204, got %d", resp.StatusCode)
	}

	strangerToken, _ := h.authority.Issue(uuid.New(), time.Minute)
	if resp = get(url, strangerToken); resp.StatusCode != http.StatusNotFound {
		t.Errorf("other users' sessions must be hidden, got %d", resp.StatusCode)
	}
	if resp = get(url, "bogus"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without a valid token, got %d", resp.StatusCode)
	}
}

func TestRecognizerErrors(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "")

	send(t, conn, `{"type":"start"}`)
	expectState(t, conn, speech.PhaseListening)

	send(t, conn, `{"type":"error","data":{"code":"no-speech"}}`)
	send(t, conn, `{"type":"error","data":{"code":"network"}}`)
	expect(t, conn, MessageTypeRecognizerStop)
	msg := expect(t, conn, MessageTypeError)
	var em ErrorMessage
	_ = json.Unmarshal(msg.Data, &em)
	if em.Code != speech.CodeNetwork {
		t.Fatalf("expected network error, got %+v", em)
	}
	st := expectState(t, conn, speech.PhaseErrored)
	if st.Error != speech.CodeNetwork {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestPermissionDeniedReported(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "")

	send(t, conn, `{"type":"permission","data":{"granted":false}}`)
	send(t, conn, `{"type":"start"}`)

	msg := expect(t, conn, MessageTypeError)
	var em ErrorMessage
	_ = json.Unmarshal(msg.Data, &em)
	if em.Code != speech.CodeNotAllowed {
		t.Fatalf("expected not-allowed, got %+v", em)
	}
	st := expectState(t, conn, speech.PhaseIdle)
	if st.IsListening || st.Error != speech.CodeNotAllowed {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestAudioFramesReachTap(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "")

	send(t, conn, `{"type":"start"}`)
	expectState(t, conn, speech.PhaseListening)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sessions := h.handler.connectionManager.GetUserSessions(h.userID)
		if len(sessions) == 1 && sessions[0].Frames() >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("audio frames never reached the tap")
}

func TestUnknownMessage(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "")

	send(t, conn, `{"type":"bogus"}`)
	msg := expect(t, conn, MessageTypeError)
	var em ErrorMessage
	_ = json.Unmarshal(msg.Data, &em)
	if em.Code != codeUnknownMessage {
		t.Fatalf("unexpected error %+v", em)
	}

	send(t, conn, `not json`)
	msg = expect(t, conn, MessageTypeError)
	_ = json.Unmarshal(msg.Data, &em)
	if em.Code != codeInvalidMessage {
		t.Fatalf("unexpected error %+v", em)
	}
}

func TestRejectsMissingToken(t *testing.T) {
	h := newHarness(t)

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/speech"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected bad handshake, got %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestStatsListsSessions(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "")
	expectState(t, conn, speech.PhaseIdle)

	resp, err := http.Get(h.server.URL + "/ws/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Data struct {
			ActiveSessions int `json:"active_sessions"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Data.ActiveSessions != 1 {
		t.Fatalf("expected one session, got %d", body.Data.ActiveSessions)
	}
}

func TestRemoteRecognizerSingleRun(t *testing.T) {
	var sent []MessageType
	r := &remoteRecognizer{send: func(mt MessageType, _ interface{}) error {
		sent = append(sent, mt)
		return nil
	}}

	if err := r.Start(context.Background(), "en-US"); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(context.Background(), "en-US"); !errors.Is(err, speech.ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	r.ended()
	if err := r.Start(context.Background(), "en-US"); err != nil {
		t.Fatalf("start after end: %v", err)
	}
	_ = r.Stop()

	want := []MessageType{MessageTypeRecognizerStart, MessageTypeRecognizerStart, MessageTypeRecognizerStop}
	if len(sent) != len(want) {
		t.Fatalf("unexpected commands %v", sent)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Fatalf("unexpected commands %v", sent)
		}
	}
}

func TestPipeAudioDropsWithoutTap(t *testing.T) {
	p := &pipeAudio{}
	if err := p.Write([]byte{1}); err != nil {
		t.Fatalf("write without tap should drop, got %v", err)
	}

	stream, err := p.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	stream.Close()
	if err := p.Write([]byte{1}); err != nil {
		t.Fatalf("write after tap closed should drop, got %v", err)
	}

	p.SetPermission(false)
	if _, err := p.Open(context.Background()); !errors.Is(err, speech.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}
