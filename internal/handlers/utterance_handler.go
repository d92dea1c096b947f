package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xpanvictor/mimi/internal/domains/utterance"
	"github.com/xpanvictor/mimi/pkg/Logger"
)

// UtteranceHandler serves what speech sessions submitted.
type UtteranceHandler struct {
	utteranceService utterance.UtteranceService
	logger           *Logger.Logger
}

func NewUtteranceHandler(utteranceService utterance.UtteranceService, logger *Logger.Logger) *UtteranceHandler {
	return &UtteranceHandler{
		utteranceService: utteranceService,
		logger:           Logger.OrNop(logger),
	}
}

// ListSessionUtterances handles GET /sessions/:id/utterances?limit=n
func (h *UtteranceHandler) ListSessionUtterances(c *gin.Context) {
	user, ok := ExtractUserInfo(c)
	if !ok {
		return
	}

	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid session ID", Details: err.Error()})
		return
	}

	limit := utterance.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid limit"})
			return
		}
		limit = min(n, utterance.MaxListLimit)
	}

	list, err := h.utteranceService.ListSession(c.Request.Context(), user.UserID, sessionID, limit)
	if err != nil {
		h.logger.Errorf("error listing utterances: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list utterances"})
		return
	}

	c.JSON(http.StatusOK, ListUtterancesResponse{Utterances: list, Limit: limit})
}
