package app

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"proctor-quiz-service/internal/devicestore"
	"proctor-quiz-service/internal/domain"
)

// fetchTimeout bounds one shared listing fetch.
const fetchTimeout = 10 * time.Second

// Lister fetches the caller's available quizzes from the quiz API.
type Lister interface {
	ListAvailable(ctx context.Context, token string) ([]domain.QuizSummary, error)
}

// Catalog serves the available-quiz listing from the device store and
// refetches on a miss. Concurrent misses for one device share a fetch.
type Catalog struct {
	lister  Lister
	devices *devicestore.Provider
	ttl     time.Duration
	metrics *Metrics
	log     *zap.Logger
	sf      singleflight.Group
}

func NewCatalog(lister Lister, devices *devicestore.Provider, ttl time.Duration, metrics *Metrics, log *zap.Logger) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{lister: lister, devices: devices, ttl: ttl, metrics: metrics, log: log}
}

// Available returns the listing for one user's device. Quizzes terminated on
// this device are hidden and completed ones are flagged as attempted.
func (c *Catalog) Available(ctx context.Context, userID, deviceID, token string) ([]domain.QuizSummary, error) {
	if userID == "" || deviceID == "" || token == "" {
		return nil, domain.ErrMissingParameters
	}
	store := c.devices.For(userID, deviceID)

	list, ok, err := store.AvailableQuizzes(ctx)
	if err != nil {
		c.log.Warn("read cached listing", zap.Error(err))
	}
	if ok {
		c.metrics.ListingCacheHits.WithLabelValues("hit").Inc()
		return c.annotate(ctx, store, list), nil
	}
	c.metrics.ListingCacheHits.WithLabelValues("miss").Inc()

	// The shared fetch outlives any single caller; each caller still
	// returns as soon as its own context is done.
	ch := c.sf.DoChan(userID+"\x00"+deviceID, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		if list, ok, _ := store.AvailableQuizzes(fctx); ok {
			return list, nil
		}
		list, err := c.lister.ListAvailable(fctx, token)
		if err != nil {
			return nil, err
		}
		if err := store.SetAvailableQuizzes(fctx, list, c.ttlWithJitter()); err != nil {
			c.log.Warn("cache listing", zap.Error(err))
		}
		return list, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return c.annotate(ctx, store, res.Val.([]domain.QuizSummary)), nil
}

func (c *Catalog) annotate(ctx context.Context, store *devicestore.Store, list []domain.QuizSummary) []domain.QuizSummary {
	completed, err := store.CompletedQuizzes(ctx)
	if err != nil {
		c.log.Warn("read completed quizzes", zap.Error(err))
	}
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}

	out := make([]domain.QuizSummary, 0, len(list))
	for _, q := range list {
		if strings.TrimSpace(q.Title) == "" {
			continue
		}
		if terminated, _ := store.IsTerminated(ctx, q.ID); terminated {
			continue
		}
		if done[q.ID] {
			q.Attempted = true
		}
		out = append(out, q)
	}
	return out
}

// ttlWithJitter adds up to 10% to spread expirations across devices.
func (c *Catalog) ttlWithJitter() time.Duration {
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
