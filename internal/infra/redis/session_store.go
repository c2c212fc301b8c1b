package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"proctor-quiz-service/internal/attempt"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Sessions live in process; Redis holds an ownership marker per key whose
// value names the instance-local registration:
//
//	SET quiz:session:{user}:{device}:{quiz} {owner} EX ttl
//
// The latest Put on any instance wins. Run keeps owned markers alive and
// closes local sessions whose marker was taken over elsewhere.
type SessionStore struct {
	client  *redis.Client
	ttl     time.Duration
	log     *zap.Logger
	mu      sync.RWMutex
	entries map[string]*sessionEntry
}

type sessionEntry struct {
	session *attempt.Session
	owner   string
	lost    bool
}

func NewSessionStore(client *redis.Client, ttl time.Duration, log *zap.Logger) *SessionStore {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SessionStore{
		client:  client,
		ttl:     ttl,
		log:     log,
		entries: make(map[string]*sessionEntry),
	}
}

func (s *SessionStore) Put(key string, session *attempt.Session) *attempt.Session {
	owner := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	var replaced *attempt.Session
	if prev, ok := s.entries[key]; ok && prev.session != session {
		replaced = prev.session
	}
	s.entries[key] = &sessionEntry{session: session, owner: owner}
	if err := s.client.Set(context.Background(), s.key(key), owner, s.ttl).Err(); err != nil {
		s.log.Warn("set session marker", zap.String("key", key), zap.Error(err))
	}
	return replaced
}

func (s *SessionStore) Get(key string) (*attempt.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

func (s *SessionStore) Delete(key string, session *attempt.Session) {
	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok || entry.session != session {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	s.mu.Unlock()

	if entry.lost {
		return
	}
	if err := s.releaseMarker(context.Background(), key, entry.owner); err != nil {
		s.log.Warn("clear session marker", zap.String("key", key), zap.Error(err))
	}
}

// Run refreshes owned markers every third of the ttl until ctx is done.
func (s *SessionStore) Run(ctx context.Context) {
	ticker := time.NewTicker(s.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshAll(ctx)
		}
	}
}

func (s *SessionStore) refreshAll(ctx context.Context) {
	type owned struct {
		key   string
		entry *sessionEntry
	}
	s.mu.RLock()
	pending := make([]owned, 0, len(s.entries))
	for key, entry := range s.entries {
		if !entry.lost {
			pending = append(pending, owned{key, entry})
		}
	}
	s.mu.RUnlock()

	for _, p := range pending {
		held, err := s.refreshMarker(ctx, p.key, p.entry.owner)
		if err != nil {
			// A racing writer is settled on the next round.
			s.log.Debug("refresh session marker", zap.String("key", p.key), zap.Error(err))
			continue
		}
		if held {
			continue
		}
		s.mu.Lock()
		current := s.entries[p.key] == p.entry && !p.entry.lost
		if current {
			p.entry.lost = true
		}
		s.mu.Unlock()
		if current {
			s.log.Info("attempt reopened on another instance", zap.String("key", p.key))
			p.entry.session.Close()
		}
	}
}

// refreshMarker extends the marker while owner still holds it. An expired
// marker is reclaimed.
func (s *SessionStore) refreshMarker(ctx context.Context, key, owner string) (bool, error) {
	held := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, s.key(key)).Result()
		if errors.Is(err, redis.Nil) {
			val = owner
		} else if err != nil {
			return err
		}
		if val != owner {
			return nil
		}
		held = true
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key(key), owner, s.ttl)
			return nil
		})
		return err
	}, s.key(key))
	return held, err
}

// releaseMarker deletes the marker only if owner still holds it.
func (s *SessionStore) releaseMarker(ctx context.Context, key, owner string) error {
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, s.key(key)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if val != owner {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.key(key))
			return nil
		})
		return err
	}, s.key(key))
}

func (s *SessionStore) key(key string) string {
	return "quiz:session:" + key
}
