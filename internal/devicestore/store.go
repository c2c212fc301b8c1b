// Package devicestore keeps the durable per-device attempt state: termination
// flags, the completed-quiz set, attempt history and the cached listing of
// available quizzes. Values are stored as serialized JSON strings over a
// pluggable key-value backend.
package devicestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"proctor-quiz-service/internal/domain"
)

const (
	terminatedPrefix = "quiz_terminated_"
	completedKey     = "completedQuizzes"
	historyKey       = "quiz_attempts"
	availableKey     = "availableQuizzes"
)

// KV is the raw durable storage a device store is layered on.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key; a zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Update atomically replaces the value under key with fn's result. It
	// must be safe against concurrent writers in other processes; fn may be
	// called more than once. The stored value never expires.
	Update(ctx context.Context, key string, fn func(current string, ok bool) (string, error)) error
}

// Provider hands out stores namespaced per user and device. Stores for the
// same device share a lock; appends across processes rely on KV.Update.
type Provider struct {
	kv    KV
	locks sync.Map
}

func NewProvider(kv KV) *Provider {
	return &Provider{kv: kv}
}

// For returns the store for one user's device.
func (p *Provider) For(userID, deviceID string) *Store {
	ns := "device:" + userID + ":" + deviceID + ":"
	lock, _ := p.locks.LoadOrStore(ns, &sync.Mutex{})
	return &Store{kv: p.kv, namespace: ns, mu: lock.(*sync.Mutex)}
}

// Store is the typed view over one device's keys.
type Store struct {
	kv        KV
	namespace string
	mu        *sync.Mutex
}

// New builds a standalone store, mainly for tests.
func New(kv KV, namespace string) *Store {
	return &Store{kv: kv, namespace: namespace, mu: &sync.Mutex{}}
}

func (s *Store) key(k string) string {
	return s.namespace + k
}

// IsTerminated reports whether quizID carries a durable termination flag.
func (s *Store) IsTerminated(ctx context.Context, quizID string) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, s.key(terminatedPrefix+quizID))
	if err != nil || !ok {
		return false, err
	}
	return strings.TrimSpace(raw) == "true", nil
}

// MarkTerminated sets the durable termination flag. It is never cleared here.
func (s *Store) MarkTerminated(ctx context.Context, quizID string) error {
	return s.kv.Set(ctx, s.key(terminatedPrefix+quizID), "true", 0)
}

// CompletedQuizzes returns the ids of quizzes completed on this device.
func (s *Store) CompletedQuizzes(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.getJSON(ctx, completedKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// MarkCompleted adds quizID to the completed set if absent.
func (s *Store) MarkCompleted(ctx context.Context, quizID string) error {
	return s.updateJSON(ctx, completedKey, func(raw string) (any, error) {
		var ids []string
		if err := decodeJSON(completedKey, raw, &ids); err != nil {
			return nil, err
		}
		for _, id := range ids {
			if id == quizID {
				return ids, nil
			}
		}
		return append(ids, quizID), nil
	})
}

// History returns this device's attempt history, oldest first.
func (s *Store) History(ctx context.Context) ([]domain.HistoryRecord, error) {
	var records []domain.HistoryRecord
	if err := s.getJSON(ctx, historyKey, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// AppendHistory appends one record to the attempt history.
func (s *Store) AppendHistory(ctx context.Context, rec domain.HistoryRecord) error {
	return s.updateJSON(ctx, historyKey, func(raw string) (any, error) {
		var records []domain.HistoryRecord
		if err := decodeJSON(historyKey, raw, &records); err != nil {
			return nil, err
		}
		return append(records, rec), nil
	})
}

// AvailableQuizzes returns the cached listing; ok is false on a miss.
func (s *Store) AvailableQuizzes(ctx context.Context) ([]domain.QuizSummary, bool, error) {
	raw, ok, err := s.kv.Get(ctx, s.key(availableKey))
	if err != nil || !ok {
		return nil, false, err
	}
	var list []domain.QuizSummary
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		// A corrupt cache entry is a miss.
		return nil, false, nil
	}
	return list, true, nil
}

// SetAvailableQuizzes caches the listing for ttl.
func (s *Store) SetAvailableQuizzes(ctx context.Context, list []domain.QuizSummary, ttl time.Duration) error {
	if list == nil {
		list = []domain.QuizSummary{}
	}
	return s.setJSON(ctx, availableKey, list, ttl)
}

// InvalidateAvailable drops the cached listing so the next read refetches.
func (s *Store) InvalidateAvailable(ctx context.Context) error {
	return s.kv.Delete(ctx, s.key(availableKey))
}

func (s *Store) getJSON(ctx context.Context, k string, dst any) error {
	raw, ok, err := s.kv.Get(ctx, s.key(k))
	if err != nil {
		return fmt.Errorf("read %s: %w", k, err)
	}
	if !ok {
		return nil
	}
	return decodeJSON(k, raw, dst)
}

// updateJSON runs a read-modify-write through the backend's atomic update.
// The in-process lock only spares the backend contention between sessions
// of the same device.
func (s *Store) updateJSON(ctx context.Context, k string, fn func(raw string) (any, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.kv.Update(ctx, s.key(k), func(current string, ok bool) (string, error) {
		if !ok {
			current = ""
		}
		v, err := fn(current)
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", k, err)
		}
		return string(data), nil
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", k, err)
	}
	return nil
}

func decodeJSON(k, raw string, dst any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s: %w", k, err)
	}
	return nil
}

func (s *Store) setJSON(ctx context.Context, k string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", k, err)
	}
	if err := s.kv.Set(ctx, s.key(k), string(data), ttl); err != nil {
		return fmt.Errorf("write %s: %w", k, err)
	}
	return nil
}
