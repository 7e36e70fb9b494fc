package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/yairfalse/vigil/storage"
	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

// Records is the subset of the store the service reads
type Records interface {
	RecentByType(ctx context.Context, eventType string, since time.Time, limit int) ([]storage.AuditRecord, error)
	CountByType(ctx context.Context, eventType string, since time.Time) (int, error)
	AuditByActor(ctx context.Context, actorID string, since time.Time) ([]storage.AuditRecord, error)
}

// Cache is an optional shared cache for similar-event lookups
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options tune the service caches
type Options struct {
	ActorCacheSize int
	ActorCacheTTL  time.Duration
	SimilarTTL     time.Duration
	Cache          Cache
}

// Service answers history queries from persisted audit records
type Service struct {
	records    Records
	cache      Cache
	similarTTL time.Duration
	actors     *expirable.LRU[string, ActorRisk]
	logger     *telemetry.Logger
	now        func() time.Time
}

// NewService creates a history service over records
func NewService(records Records, opts Options) *Service {
	if opts.ActorCacheSize <= 0 {
		opts.ActorCacheSize = 1024
	}
	if opts.ActorCacheTTL <= 0 {
		opts.ActorCacheTTL = time.Minute
	}
	if opts.SimilarTTL <= 0 {
		opts.SimilarTTL = 30 * time.Second
	}

	return &Service{
		records:    records,
		cache:      opts.Cache,
		similarTTL: opts.SimilarTTL,
		actors:     expirable.NewLRU[string, ActorRisk](opts.ActorCacheSize, nil, opts.ActorCacheTTL),
		logger:     telemetry.NewLogger("history"),
		now:        time.Now,
	}
}

// SimilarEvents returns up to limit events of the same type inside window,
// newest first
func (s *Service) SimilarEvents(ctx context.Context, eventType string, window time.Duration, limit int) ([]SimilarEvent, error) {
	key := fmt.Sprintf("vigil:similar:%s:%d:%d", eventType, int64(window.Seconds()), limit)

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err != nil {
			s.logger.WithContext(ctx).Debug().Err(err).Str("key", key).Msg("similar events cache read failed")
		} else if ok {
			var cached []SimilarEvent
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	records, err := s.records.RecentByType(ctx, eventType, s.now().Add(-window), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load similar events: %w", err)
	}

	events := make([]SimilarEvent, 0, len(records))
	for _, r := range records {
		events = append(events, SimilarEvent{
			EventID:   r.EventID,
			EventType: r.EventType,
			Severity:  r.Severity,
			Timestamp: r.Timestamp,
			RiskScore: r.RiskScore,
		})
	}

	if s.cache != nil {
		if data, err := json.Marshal(events); err == nil {
			if err := s.cache.Set(ctx, key, data, s.similarTTL); err != nil {
				s.logger.WithContext(ctx).Debug().Err(err).Str("key", key).Msg("similar events cache write failed")
			}
		}
	}

	return events, nil
}

// FrequencyAnomaly reports whether the event type occurred at least
// threshold times inside window
func (s *Service) FrequencyAnomaly(ctx context.Context, eventType string, window time.Duration, threshold int) (Frequency, error) {
	count, err := s.records.CountByType(ctx, eventType, s.now().Add(-window))
	if err != nil {
		return Frequency{}, fmt.Errorf("failed to count events: %w", err)
	}

	return Frequency{
		IsAnomaly: count >= threshold,
		Count:     count,
		Threshold: threshold,
		Window:    window,
		Score:     frequencyScore(count, threshold),
	}, nil
}

// ActorRiskHistory computes the actor's average risk and high-severity
// count inside window. Unknown or empty actors get the neutral profile.
func (s *Service) ActorRiskHistory(ctx context.Context, actorID string, window time.Duration) (ActorRisk, error) {
	if actorID == "" {
		return ActorRisk{RiskScore: neutralRisk}, nil
	}

	cacheKey := fmt.Sprintf("%s|%d", actorID, int64(window.Seconds()))
	if risk, ok := s.actors.Get(cacheKey); ok {
		return risk, nil
	}

	records, err := s.records.AuditByActor(ctx, actorID, s.now().Add(-window))
	if err != nil {
		return ActorRisk{}, fmt.Errorf("failed to load actor history: %w", err)
	}

	risk := ActorRisk{RiskScore: neutralRisk}
	if len(records) > 0 {
		var sum float64
		for _, r := range records {
			sum += r.RiskScore
			if r.Severity.AtLeast(types.SeverityHigh) {
				risk.HighSeverityCount++
			}
		}
		risk.EventsCount = len(records)
		risk.RiskScore = sum / float64(len(records))
		risk.RepeatOffender = risk.HighSeverityCount >= RepeatOffenderThreshold
	}

	s.actors.Add(cacheKey, risk)
	return risk, nil
}

// Invalidate drops the cached profile for an actor
func (s *Service) Invalidate(actorID string) {
	for _, key := range s.actors.Keys() {
		if strings.HasPrefix(key, actorID+"|") {
			s.actors.Remove(key)
		}
	}
}
