package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xpanvictor/mimi/internal/auth"
	"github.com/xpanvictor/mimi/internal/config"
	"github.com/xpanvictor/mimi/internal/domains/utterance"
	"github.com/xpanvictor/mimi/pkg/Logger"
	"github.com/xpanvictor/mimi/pkg/speech"
)

// WebSocketHandler bridges the browser's speech recognizer to a server-side
// speech session.
type WebSocketHandler struct {
	logger            *Logger.Logger
	config            *config.Settings
	utterances        utterance.UtteranceService
	tokens            auth.Validator
	connectionManager *ConnectionManager
	upgrader          websocket.Upgrader
}

func NewWebSocketHandler(
	logger *Logger.Logger,
	cfg *config.Settings,
	utterances utterance.UtteranceService,
	tokens auth.Validator,
) *WebSocketHandler {
	logger = Logger.OrNop(logger)
	return &WebSocketHandler{
		logger:            logger,
		config:            cfg,
		utterances:        utterances,
		tokens:            tokens,
		connectionManager: NewConnectionManager(logger, 30*time.Minute),
		upgrader: websocket.Upgrader{
			CheckOrigin:     sameOrigin(cfg.Server.Origin),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// sameOrigin allows clients without an Origin header (native, tests) and
// browsers on the configured origin.
func sameOrigin(allowed string) func(r *http.Request) bool {
	allowed = strings.TrimRight(allowed, "/")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed == "" || strings.EqualFold(strings.TrimRight(origin, "/"), allowed)
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router gin.IRouter) {
	ws := router.Group("/ws")
	{
		ws.GET("/speech", h.HandleSpeechWebSocket)
		ws.GET("/stats", h.HandleStats)
		ws.GET("/sessions/:id/audio", h.HandleDrainAudio)
	}
}

// authenticate reads the token from ?token= or the Authorization header.
// It writes the 401 itself.
func (h *WebSocketHandler) authenticate(c *gin.Context) (uuid.UUID, bool) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Debugf("WebSocket token validation failed: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid user ID in token"})
		return uuid.Nil, false
	}
	return userID, true
}

// HandleSpeechWebSocket serves /ws/speech?lang=<code>&token=<jwt>.
func (h *WebSocketHandler) HandleSpeechWebSocket(c *gin.Context) {
	userID, ok := h.authenticate(c)
	if !ok {
		return
	}

	language := c.DefaultQuery("lang", h.config.Speech.Language)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	session := NewSession(userID, language, conn, h.config.Speech, h.utterances, h.logger)
	h.connectionManager.RegisterConnection(session)
	defer h.connectionManager.UnregisterConnection(session.SessionID)
	h.logger.Debugf("%d speech sessions live", h.connectionManager.GetSessionCount())

	if err := session.SendState(); err != nil {
		h.logger.Debugf("send initial state: %v", err)
		return
	}
	h.handleConnection(session, conn)
}

// HandleStats provides connection statistics
func (h *WebSocketHandler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data":   h.connectionManager.GetStats(),
	})
}

// HandleDrainAudio hands the tapped frames of one of the caller's sessions
// to a secondary consumer as raw PCM. Drained frames are gone from the ring.
// GET /ws/sessions/:id/audio?max=<frames>
func (h *WebSocketHandler) HandleDrainAudio(c *gin.Context) {
	userID, ok := h.authenticate(c)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session ID"})
		return
	}
	limit := 0
	if raw := c.Query("max"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid max"})
			return
		}
	}

	session, exists := h.connectionManager.GetSession(sessionID)
	if !exists || session.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	frames := session.DrainAudio(limit)
	if len(frames) == 0 {
		c.Status(http.StatusNoContent)
		return
	}

	var pcm bytes.Buffer
	for _, frame := range frames {
		pcm.Write(frame.Data)
	}
	c.Header("X-Audio-Frames", strconv.Itoa(len(frames)))
	c.Header("X-Audio-First-Seq", strconv.FormatUint(frames[0].Seq, 10))
	c.Header("X-Audio-Sample-Rate", strconv.Itoa(int(frames[0].SampleRate)))
	c.Header("X-Audio-Channels", strconv.Itoa(int(frames[0].Channels)))
	c.Data(http.StatusOK, "application/octet-stream", pcm.Bytes())
}

func (h *WebSocketHandler) handleConnection(session *Session, conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Errorf("WebSocket read error: %v", err)
			} else {
				h.logger.Infof("WebSocket connection closed for session %s", session.SessionID)
			}
			return
		}

		session.UpdateLastActive()

		switch messageType {
		case websocket.TextMessage:
			h.handleTextMessage(session, data)
		case websocket.BinaryMessage:
			if err := session.audio.Write(data); err != nil {
				h.logger.Warnf("audio frame dropped: %v", err)
			}
		}
	}
}

// handleTextMessage applies one client message to the session.
func (h *WebSocketHandler) handleTextMessage(session *Session, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debugf("Failed to unmarshal WebSocket message: %v", err)
		session.SendError(codeInvalidMessage, "Invalid message format")
		return
	}

	switch msg.Type {
	case MessageTypeStart:
		if err := session.speech.Start(session.ctx); err != nil {
			// Microphone failures already reached the client as an error code.
			h.logger.Warnf("start listening: %v", err)
		}
		session.SendState()

	case MessageTypeStop:
		if err := session.speech.Stop(); err != nil {
			h.logger.Debugf("stop listening: %v", err)
		}
		session.SendState()

	case MessageTypeReset:
		session.speech.ResetTranscript()
		session.SendState()

	case MessageTypeResult:
		var ev speech.ResultEvent
		if !h.decode(session, msg, &ev) {
			return
		}
		session.speech.Apply(ev)

	case MessageTypeEnd:
		session.recognizer.ended()
		session.speech.Apply(speech.EndEvent{})

	case MessageTypeError:
		var em ErrorMessage
		if !h.decode(session, msg, &em) {
			return
		}
		session.speech.Apply(speech.ErrorEvent{Code: em.Code})
		if em.Code != speech.CodeNoSpeech {
			session.SendState()
		}

	case MessageTypePermission:
		var pm PermissionMessage
		if !h.decode(session, msg, &pm) {
			return
		}
		session.audio.SetPermission(pm.Granted)

	case MessageTypeAck:

	default:
		h.logger.Debugf("Unknown message type: %s", msg.Type)
		session.SendError(codeUnknownMessage, fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

func (h *WebSocketHandler) decode(session *Session, msg inboundMessage, v interface{}) bool {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		session.SendError(codeInvalidMessage, fmt.Sprintf("Invalid %s payload", msg.Type))
		return false
	}
	return true
}

// Close shuts down the WebSocket handler
func (h *WebSocketHandler) Close() error {
	return h.connectionManager.Close()
}
