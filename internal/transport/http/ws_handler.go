package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"proctor-quiz-service/internal/app"
	"proctor-quiz-service/internal/attempt"
	"proctor-quiz-service/internal/auth"
	"proctor-quiz-service/internal/domain"
)

// TokenVerifier resolves a bearer token to the caller.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

type WSHandler struct {
	service  *app.AttemptService
	verifier TokenVerifier
	upgrader websocket.Upgrader
	log      *zap.Logger
	limit    rate.Limit
	burst    int
}

// WSOptions tunes the attempt gateway.
type WSOptions struct {
	AllowedOrigins []string
	// MessageRate and MessageBurst bound interactions per connection.
	MessageRate  float64
	MessageBurst int
}

func NewWSHandler(service *app.AttemptService, verifier TokenVerifier, log *zap.Logger, opts WSOptions) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Limit(opts.MessageRate)
	if opts.MessageRate <= 0 {
		limit = rate.Limit(10)
	}
	burst := opts.MessageBurst
	if burst <= 0 {
		burst = 20
	}
	return &WSHandler{
		service:  service,
		verifier: verifier,
		log:      log,
		limit:    limit,
		burst:    burst,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	Fullscreen bool `json:"fullscreen"`
}

type selectPayload struct {
	Option *int `json:"option"`
}

type signalPayload struct {
	Kind string `json:"kind"`
}

type fullscreenPayload struct {
	Action string `json:"action"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// wsDisplay forwards fullscreen commands to the browser. Whether the browser
// can go fullscreen is reported with start and retake.
type wsDisplay struct {
	send      chan<- outboundMessage[any]
	done      <-chan struct{}
	supported atomic.Bool
}

func (d *wsDisplay) RequestFullscreen(ctx context.Context) error {
	if !d.supported.Load() {
		return domain.ErrFullscreenUnavailable
	}
	return d.push(ctx, "enter")
}

func (d *wsDisplay) ExitFullscreen(ctx context.Context) error {
	return d.push(ctx, "exit")
}

func (d *wsDisplay) push(ctx context.Context, action string) error {
	select {
	case d.send <- outboundMessage[any]{Type: "fullscreen", Payload: fullscreenPayload{Action: action}}:
		return nil
	case <-d.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeWS upgrades HTTP requests to websockets and drives one attempt session.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	quizID := query.Get("quizId")
	deviceID := query.Get("deviceId")
	token := query.Get("token")
	if token == "" {
		token, _ = auth.BearerToken(r)
	}
	if quizID == "" || deviceID == "" || token == "" {
		writeError(w, http.StatusBadRequest, "missing quizId, deviceId, or token")
		return
	}
	id, err := h.verifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized: Invalid token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(4096)

	log := h.log.With(zap.String("user_id", id.UserID), zap.String("quiz_id", quizID))
	ctx := r.Context()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	display := &wsDisplay{send: send, done: closeSignals}
	bus := attempt.NewSignalBus()

	session, err := h.service.Open(ctx, app.OpenRequest{
		UserID:   id.UserID,
		DeviceID: deviceID,
		QuizID:   quizID,
		Token:    token,
		Display:  display,
		Signals:  bus,
	})
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}

	var g errgroup.Group
	// The writer keeps draining after a failed write so producers never block.
	g.Go(func() error {
		var writeErr error
		for {
			select {
			case msg := <-send:
				if writeErr != nil {
					continue
				}
				if err := conn.WriteJSON(msg); err != nil {
					writeErr = err
					// Unblock the reader.
					_ = conn.Close()
				}
			case <-closeSignals:
				return writeErr
			}
		}
	})

	updates, cancel := session.Subscribe()
	g.Go(func() error {
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return nil
				}
				select {
				case send <- outboundMessage[any]{Type: "state", Payload: snap}:
				case <-closeSignals:
					return nil
				}
			case <-closeSignals:
				return nil
			}
		}
	})

	limiter := rate.NewLimiter(h.limit, h.burst)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var inbound inboundMessage
		if err := json.Unmarshal(data, &inbound); err != nil {
			if limiter.Allow() {
				h.enqueue(send, closeSignals, errorMessage(errMalformedMessage))
			}
			continue
		}
		// Integrity signals are never throttled.
		if inbound.Type != "signal" && !limiter.Allow() {
			h.enqueue(send, closeSignals, outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "rate limit exceeded"}})
			continue
		}
		if err := h.dispatch(ctx, session, display, bus, inbound); err != nil {
			h.enqueue(send, closeSignals, errorMessage(err))
		}
	}

	cancel()
	h.service.Close(id.UserID, deviceID, session)
	close(closeSignals)
	if err := g.Wait(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Debug("ws writer stopped", zap.Error(err))
	}
}

func (h *WSHandler) dispatch(ctx context.Context, session *attempt.Session, display *wsDisplay, bus *attempt.SignalBus, in inboundMessage) error {
	switch in.Type {
	case "start", "retake":
		var payload startPayload
		if len(in.Payload) > 0 {
			if err := json.Unmarshal(in.Payload, &payload); err != nil {
				return errInvalidPayload
			}
		}
		display.supported.Store(payload.Fullscreen)
		if in.Type == "start" {
			return session.Start(ctx)
		}
		return session.Retake(ctx)
	case "select":
		var payload selectPayload
		if err := json.Unmarshal(in.Payload, &payload); err != nil || payload.Option == nil {
			return errInvalidPayload
		}
		return session.Select(*payload.Option)
	case "next":
		return session.Next()
	case "previous":
		return session.Previous()
	case "submit":
		return session.Submit(ctx)
	case "retry":
		return session.Retry(ctx)
	case "signal":
		var payload signalPayload
		if err := json.Unmarshal(in.Payload, &payload); err != nil {
			return errInvalidPayload
		}
		sig, ok := attempt.ParseSignal(payload.Kind)
		if !ok {
			return errUnknownSignal
		}
		bus.Publish(sig)
		return nil
	default:
		return errUnsupportedMessage
	}
}

func (h *WSHandler) enqueue(send chan<- outboundMessage[any], done <-chan struct{}, msg outboundMessage[any]) {
	select {
	case send <- msg:
	case <-done:
	}
}

var (
	errMalformedMessage   = errors.New("malformed message")
	errInvalidPayload     = errors.New("invalid payload")
	errUnknownSignal      = errors.New("unknown signal")
	errUnsupportedMessage = errors.New("unsupported message type")
)

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin] || set["*"]
	}
}
