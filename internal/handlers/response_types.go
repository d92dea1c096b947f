package handlers

import "github.com/xpanvictor/mimi/internal/domains/utterance"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"Something went wrong"`
	Details string `json:"details,omitempty" example:"Validation error details"`
}

// ListUtterancesResponse represents the response for listing a session's utterances
type ListUtterancesResponse struct {
	Utterances []utterance.Utterance `json:"utterances"`
	Limit      int                   `json:"limit" example:"20"`
}
