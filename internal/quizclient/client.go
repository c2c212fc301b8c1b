// Package quizclient talks to the quiz REST API on behalf of an attempt.
package quizclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"proctor-quiz-service/internal/domain"
)

// DefaultTimeout bounds every request when no http.Client is supplied.
const DefaultTimeout = 10 * time.Second

var ErrServiceUnavailable = errors.New("quiz service unavailable")

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return e.Message
}

// Unwrap maps well-known statuses onto domain errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrQuizNotFound
	}
	return nil
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

type errorResponse struct {
	Message string `json:"message"`
}

func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimSpace(baseURL)
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:5000"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPClient{baseURL: baseURL, httpClient: httpClient}
}

func (c *HTTPClient) GetQuiz(ctx context.Context, token, quizID string) (domain.Quiz, error) {
	if strings.TrimSpace(quizID) == "" {
		return domain.Quiz{}, domain.ErrMissingParameters
	}
	var quiz domain.Quiz
	if err := c.doJSON(ctx, http.MethodGet, quizPath(quizID), token, nil, &quiz); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

func (c *HTTPClient) SubmitAttempt(ctx context.Context, token, quizID string, submission domain.AttemptSubmission) error {
	return c.doJSON(ctx, http.MethodPost, quizPath(quizID)+"/submit", token, submission, nil)
}

func (c *HTTPClient) NotifyTermination(ctx context.Context, token, quizID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/quiz/terminate/"+url.PathEscape(quizID), token, struct{}{}, nil)
}

func (c *HTTPClient) ListAvailable(ctx context.Context, token string) ([]domain.QuizSummary, error) {
	var list []domain.QuizSummary
	if err := c.doJSON(ctx, http.MethodGet, "/api/quiz/all", token, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *HTTPClient) Attempted(ctx context.Context, token string) ([]domain.AttemptedQuiz, error) {
	var list []domain.AttemptedQuiz
	if err := c.doJSON(ctx, http.MethodGet, "/api/quiz/attempted", token, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *HTTPClient) Leaderboard(ctx context.Context, token, quizID string) (domain.Leaderboard, error) {
	var lb domain.Leaderboard
	if err := c.doJSON(ctx, http.MethodGet, quizPath(quizID)+"/leaderboard", token, nil, &lb); err != nil {
		return domain.Leaderboard{}, err
	}
	if lb.QuizID == "" {
		lb.QuizID = quizID
	}
	return lb, nil
}

func quizPath(quizID string) string {
	return "/api/quiz/" + url.PathEscape(quizID)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path, token string, requestBody any, responseBody any) error {
	var body io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		apiErr := APIError{StatusCode: response.StatusCode}
		var payload errorResponse
		if err := json.NewDecoder(response.Body).Decode(&payload); err == nil && strings.TrimSpace(payload.Message) != "" {
			apiErr.Message = payload.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = response.Status
		}
		return &apiErr
	}

	if responseBody == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(responseBody); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
