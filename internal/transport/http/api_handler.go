package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"proctor-quiz-service/internal/auth"
	"proctor-quiz-service/internal/domain"
	"proctor-quiz-service/internal/quizservice"
)

// APIHandler serves the quiz REST API.
type APIHandler struct {
	quizzes *quizservice.Service
	log     *zap.Logger
}

func NewAPIHandler(quizzes *quizservice.Service, log *zap.Logger) *APIHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIHandler{quizzes: quizzes, log: log}
}

// Routes mounts the quiz endpoints. Every route requires a verified caller.
func (h *APIHandler) Routes(verifier *auth.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(verifier.Middleware(writeError))

	r.Get("/all", h.listAvailable)
	r.Get("/attempted", h.attempted)
	r.Post("/terminate/{id}", h.terminate)
	r.Get("/{id}", h.get)
	r.Post("/{id}/submit", h.submit)
	r.Get("/{id}/leaderboard", h.leaderboard)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin(writeError))
		r.Post("/create", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
	return r
}

// AdminRoutes mounts the quiz author's dashboard endpoints.
func (h *APIHandler) AdminRoutes(verifier *auth.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(verifier.Middleware(writeError))
	r.Use(auth.RequireAdmin(writeError))

	r.Get("/quizzes", h.authored)
	r.Get("/quiz/{id}/attempts", h.attemptCount)
	r.Get("/quiz/{id}/user-attempts", h.userAttempts)
	r.Delete("/quiz/{id}", h.deleteAuthored)
	return r
}

// StatsRoutes registers the catalog counters on r under /api.
func (h *APIHandler) StatsRoutes(r chi.Router, verifier *auth.Service) {
	r.Group(func(r chi.Router) {
		r.Use(verifier.Middleware(writeError))
		r.Get("/api/quizzes/count", h.quizCount)
		r.Get("/api/attempts/count", h.resultCount)
	})
}

func (h *APIHandler) listAvailable(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	list, err := h.quizzes.ListAvailable(r.Context(), id.UserID)
	if err != nil {
		h.fail(w, "list quizzes", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *APIHandler) attempted(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	list, err := h.quizzes.Attempted(r.Context(), id.UserID)
	if err != nil {
		h.fail(w, "list attempted quizzes", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *APIHandler) get(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.quizzes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get quiz", err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

type quizResponse struct {
	Message string      `json:"message"`
	Quiz    domain.Quiz `json:"quiz"`
}

func (h *APIHandler) create(w http.ResponseWriter, r *http.Request) {
	var quiz domain.Quiz
	if err := json.NewDecoder(r.Body).Decode(&quiz); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quiz data")
		return
	}
	created, err := h.quizzes.Create(r.Context(), identity(r).UserID, quiz)
	if err != nil {
		h.fail(w, "create quiz", err)
		return
	}
	writeJSON(w, http.StatusCreated, quizResponse{Message: "Quiz created successfully", Quiz: created})
}

func (h *APIHandler) update(w http.ResponseWriter, r *http.Request) {
	var quiz domain.Quiz
	if err := json.NewDecoder(r.Body).Decode(&quiz); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quiz data")
		return
	}
	updated, err := h.quizzes.Update(r.Context(), chi.URLParam(r, "id"), quiz)
	if err != nil {
		h.fail(w, "update quiz", err)
		return
	}
	writeJSON(w, http.StatusOK, quizResponse{Message: "Quiz updated successfully", Quiz: updated})
}

func (h *APIHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.quizzes.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete quiz", err)
		return
	}
	writeJSON(w, http.StatusOK, errorPayload{Message: "Quiz deleted successfully"})
}

type submitResponse struct {
	Message string               `json:"message"`
	Result  domain.AttemptRecord `json:"result"`
}

func (h *APIHandler) submit(w http.ResponseWriter, r *http.Request) {
	var sub domain.AttemptSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid submission")
		return
	}
	id := identity(r)
	rec, err := h.quizzes.Submit(r.Context(), quizservice.Caller{UserID: id.UserID, Name: id.Name}, chi.URLParam(r, "id"), sub)
	if err != nil {
		h.fail(w, "submit attempt", err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{Message: "Quiz submitted successfully", Result: rec})
}

type terminateResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

func (h *APIHandler) terminate(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if err := h.quizzes.Terminate(r.Context(), id.UserID, chi.URLParam(r, "id")); err != nil {
		h.fail(w, "terminate quiz", err)
		return
	}
	writeJSON(w, http.StatusOK, terminateResponse{Message: "Quiz terminated successfully", UserID: id.UserID})
}

func (h *APIHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.quizzes.Leaderboard(r.Context(), chi.URLParam(r, "id"), identity(r).UserID)
	if err != nil {
		h.fail(w, "leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *APIHandler) authored(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.quizzes.AuthoredBy(r.Context(), identity(r).UserID)
	if err != nil {
		h.fail(w, "list authored quizzes", err)
		return
	}
	writeJSON(w, http.StatusOK, quizzes)
}

func (h *APIHandler) attemptCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.quizzes.AttemptCount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "count quiz attempts", err)
		return
	}
	writeJSON(w, http.StatusOK, domain.Count{Count: n})
}

func (h *APIHandler) userAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.quizzes.UserAttempts(r.Context(), identity(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		h.failOwned(w, "list user attempts", err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *APIHandler) deleteAuthored(w http.ResponseWriter, r *http.Request) {
	if err := h.quizzes.DeleteAuthored(r.Context(), identity(r).UserID, chi.URLParam(r, "id")); err != nil {
		h.failOwned(w, "delete authored quiz", err)
		return
	}
	writeJSON(w, http.StatusOK, errorPayload{Message: "Quiz deleted successfully"})
}

func (h *APIHandler) quizCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.quizzes.QuizCount(r.Context())
	if err != nil {
		h.fail(w, "count quizzes", err)
		return
	}
	writeJSON(w, http.StatusOK, domain.Count{Count: n})
}

func (h *APIHandler) resultCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.quizzes.ResultCount(r.Context())
	if err != nil {
		h.fail(w, "count attempts", err)
		return
	}
	writeJSON(w, http.StatusOK, domain.Count{Count: n})
}

// failOwned hides whether a quiz exists from admins who did not author it.
func (h *APIHandler) failOwned(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, domain.ErrQuizNotFound) {
		writeError(w, http.StatusNotFound, "Quiz not found or not authorized")
		return
	}
	h.fail(w, op, err)
}

func (h *APIHandler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrQuizNotFound):
		writeError(w, http.StatusNotFound, "Quiz not found")
	case errors.Is(err, domain.ErrInvalidQuiz):
		writeError(w, http.StatusBadRequest, "Invalid quiz data")
	case errors.Is(err, domain.ErrMissingParameters):
		writeError(w, http.StatusBadRequest, "Missing quiz ID")
	default:
		h.log.Error(op, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Server error")
	}
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}
