package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/mimi/pkg/Logger"
)

// ConnectionManager tracks live speech sockets. A user may hold several.
type ConnectionManager struct {
	logger         *Logger.Logger
	sessions       map[uuid.UUID]*Session
	mutex          sync.RWMutex
	stopCleanup    chan struct{}
	closeOnce      sync.Once
	sessionTimeout time.Duration
}

// NewConnectionManager starts the idle-session sweeper.
func NewConnectionManager(logger *Logger.Logger, sessionTimeout time.Duration) *ConnectionManager {
	if sessionTimeout <= 0 {
		sessionTimeout = 30 * time.Minute
	}
	cm := &ConnectionManager{
		logger:         Logger.OrNop(logger),
		sessions:       make(map[uuid.UUID]*Session),
		stopCleanup:    make(chan struct{}),
		sessionTimeout: sessionTimeout,
	}
	go cm.cleanupLoop(sessionTimeout / 6)
	return cm
}

func (cm *ConnectionManager) RegisterConnection(session *Session) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.sessions[session.SessionID] = session
	cm.logger.Infof("Registered speech session %s for user %s", session.SessionID, session.UserID)
}

// UnregisterConnection removes and closes a session.
func (cm *ConnectionManager) UnregisterConnection(sessionID uuid.UUID) {
	cm.mutex.Lock()
	session, exists := cm.sessions[sessionID]
	delete(cm.sessions, sessionID)
	cm.mutex.Unlock()

	if !exists {
		return
	}
	cm.logger.Infof("Unregistering speech session %s for user %s", sessionID, session.UserID)
	if err := session.Close(); err != nil {
		cm.logger.Debugf("Error closing session %s: %v", sessionID, err)
	}
}

// GetSession looks up a live session by id.
func (cm *ConnectionManager) GetSession(sessionID uuid.UUID) (*Session, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	session, exists := cm.sessions[sessionID]
	return session, exists
}

// GetUserSessions returns every live session of one user.
func (cm *ConnectionManager) GetUserSessions(userID uuid.UUID) []*Session {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var out []*Session
	for _, session := range cm.sessions {
		if session.UserID == userID {
			out = append(out, session)
		}
	}
	return out
}

// GetSessionCount returns the number of live sessions.
func (cm *ConnectionManager) GetSessionCount() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return len(cm.sessions)
}

func (cm *ConnectionManager) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.cleanupExpiredSessions()
		case <-cm.stopCleanup:
			return
		}
	}
}

// cleanupExpiredSessions closes sessions idle for longer than the timeout.
// Sessions are closed outside the lock; their read loops then unregister.
func (cm *ConnectionManager) cleanupExpiredSessions() {
	cm.mutex.Lock()
	var expired []*Session
	for id, session := range cm.sessions {
		if session.IsExpired(cm.sessionTimeout) {
			expired = append(expired, session)
			delete(cm.sessions, id)
		}
	}
	cm.mutex.Unlock()

	for _, session := range expired {
		cm.logger.Infof("Cleaning up idle speech session %s", session.SessionID)
		session.Close()
	}
	if len(expired) > 0 {
		cm.logger.Infof("Cleaned up %d idle sessions", len(expired))
	}
}

// Close shuts down the connection manager
func (cm *ConnectionManager) Close() error {
	cm.closeOnce.Do(func() { close(cm.stopCleanup) })

	cm.mutex.Lock()
	sessions := cm.sessions
	cm.sessions = make(map[uuid.UUID]*Session)
	cm.mutex.Unlock()

	for id, session := range sessions {
		if err := session.Close(); err != nil {
			cm.logger.Debugf("Error closing session %s: %v", id, err)
		}
	}

	cm.logger.Infof("Connection manager closed")
	return nil
}

// GetStats returns connection manager statistics
func (cm *ConnectionManager) GetStats() map[string]interface{} {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	sessionStats := make([]map[string]interface{}, 0, len(cm.sessions))
	for _, session := range cm.sessions {
		state := session.speech.State()
		sessionStats = append(sessionStats, map[string]interface{}{
			"user_id":         session.UserID.String(),
			"session_id":      session.SessionID.String(),
			"language":        session.Language,
			"phase":           state.Phase,
			"frames":          session.Frames(),
			"buffered_frames": session.BufferedFrames(),
			"connected_at":    session.ConnectedAt,
			"last_active":     session.LastActive(),
		})
	}

	return map[string]interface{}{
		"active_sessions": len(cm.sessions),
		"session_timeout": cm.sessionTimeout.String(),
		"sessions":        sessionStats,
	}
}
