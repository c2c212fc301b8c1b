package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"proctor-quiz-service/internal/auth"
	"proctor-quiz-service/internal/domain"
	"proctor-quiz-service/internal/quizclient"
)

// Listing serves a device's available quizzes.
type Listing interface {
	Available(ctx context.Context, userID, deviceID, token string) ([]domain.QuizSummary, error)
}

// HistorySource returns attempts recorded on a device.
type HistorySource interface {
	History(ctx context.Context, userID, deviceID string) ([]domain.HistoryRecord, error)
}

// Standings relays the caller's server-side attempts and quiz rankings.
type Standings interface {
	Attempted(ctx context.Context, token string) ([]domain.AttemptedQuiz, error)
	Leaderboard(ctx context.Context, token, quizID string) (domain.Leaderboard, error)
}

// GatewayHandler serves the device-scoped read endpoints of the attempt gateway.
type GatewayHandler struct {
	listing Listing
	history   HistorySource
	standings Standings
	log       *zap.Logger
}

func NewGatewayHandler(listing Listing, history HistorySource, standings Standings, log *zap.Logger) *GatewayHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &GatewayHandler{listing: listing, history: history, standings: standings, log: log}
}

func (h *GatewayHandler) AvailableQuizzes(w http.ResponseWriter, r *http.Request) {
	id, token, deviceID, ok := h.caller(w, r)
	if !ok {
		return
	}
	list, err := h.listing.Available(r.Context(), id.UserID, deviceID, token)
	if err != nil {
		h.failUpstream(w, "list available quizzes", id, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// AttemptedQuizzes relays the caller's attempts recorded by the quiz API,
// across all devices.
func (h *GatewayHandler) AttemptedQuizzes(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized: No token provided")
		return
	}
	token, _ := auth.BearerToken(r)
	list, err := h.standings.Attempted(r.Context(), token)
	if err != nil {
		h.failUpstream(w, "list attempted quizzes", id, err)
		return
	}
	if list == nil {
		list = []domain.AttemptedQuiz{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *GatewayHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized: No token provided")
		return
	}
	token, _ := auth.BearerToken(r)
	lb, err := h.standings.Leaderboard(r.Context(), token, chi.URLParam(r, "id"))
	if err != nil {
		h.failUpstream(w, "fetch leaderboard", id, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

// failUpstream relays quiz API errors with their status; anything else is a
// bad gateway.
func (h *GatewayHandler) failUpstream(w http.ResponseWriter, op string, id auth.Identity, err error) {
	var apiErr *quizclient.APIError
	switch {
	case errors.As(err, &apiErr):
		writeError(w, apiErr.StatusCode, apiErr.Message)
	case errors.Is(err, domain.ErrMissingParameters):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error(op, zap.String("user_id", id.UserID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Failed to reach quiz service")
	}
}

func (h *GatewayHandler) History(w http.ResponseWriter, r *http.Request) {
	id, _, deviceID, ok := h.caller(w, r)
	if !ok {
		return
	}
	records, err := h.history.History(r.Context(), id.UserID, deviceID)
	if err != nil {
		h.log.Error("read attempt history", zap.String("user_id", id.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	if records == nil {
		records = []domain.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *GatewayHandler) caller(w http.ResponseWriter, r *http.Request) (auth.Identity, string, string, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized: No token provided")
		return auth.Identity{}, "", "", false
	}
	token, _ := auth.BearerToken(r)
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId is required")
		return auth.Identity{}, "", "", false
	}
	return id, token, deviceID, true
}
