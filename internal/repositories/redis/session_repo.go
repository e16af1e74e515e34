package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yoockh/hintline/internal/cache"
	"github.com/yoockh/hintline/internal/models"
	"github.com/yoockh/hintline/internal/utils"
)

const (
	sessionKeyPrefix = "session:"
	sessionIndexKey  = "sessions:index"
	IndexLimit       = 100
)

type SessionRepository interface {
	Put(ctx context.Context, s *models.Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	// List returns up to limit summaries, newest first.
	List(ctx context.Context, limit int) ([]models.SessionSummary, error)
	Delete(ctx context.Context, sessionID string) error
}

// sessionRepo stores each session as one JSON blob and keeps a capped
// newest-first index of summaries next to it.
type sessionRepo struct {
	kv cache.Cache
}

func NewSessionRepo(rdb *redis.Client) SessionRepository {
	return NewSessionRepoWithCache(cache.NewRedisCache(rdb))
}

func NewSessionRepoWithCache(kv cache.Cache) SessionRepository {
	return &sessionRepo{kv: kv}
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

func (r *sessionRepo) Put(ctx context.Context, s *models.Session, ttl time.Duration) error {
	if err := r.kv.SetJSON(ctx, sessionKey(s.SessionID), s, ttl); err != nil {
		return err
	}

	idx, err := r.loadIndex(ctx)
	if err != nil {
		return err
	}
	out := make([]models.SessionSummary, 0, len(idx)+1)
	out = append(out, s.Summary())
	for _, e := range idx {
		if e.SessionID != s.SessionID {
			out = append(out, e)
		}
	}
	if len(out) > IndexLimit {
		out = out[:IndexLimit]
	}
	return r.kv.SetJSON(ctx, sessionIndexKey, out, 0)
}

func (r *sessionRepo) loadIndex(ctx context.Context) ([]models.SessionSummary, error) {
	var idx []models.SessionSummary
	if _, err := r.kv.GetJSON(ctx, sessionIndexKey, &idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (r *sessionRepo) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	hit, err := r.kv.GetJSON(ctx, sessionKey(sessionID), &s)
	if err != nil {
		return nil, err
	}
	if !hit {
		return nil, utils.ErrNotFound
	}
	return &s, nil
}

func (r *sessionRepo) List(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	idx, err := r.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.SessionSummary, 0, len(idx))
	for _, s := range idx {
		if limit > 0 && len(out) == limit {
			break
		}
		// entries whose blob expired are skipped
		n, err := r.kv.Exists(ctx, sessionKey(s.SessionID))
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *sessionRepo) Delete(ctx context.Context, sessionID string) error {
	n, err := r.kv.Del(ctx, sessionKey(sessionID))
	if err != nil {
		return err
	}

	idx, err := r.loadIndex(ctx)
	if err != nil {
		return err
	}
	kept := make([]models.SessionSummary, 0, len(idx))
	for _, s := range idx {
		if s.SessionID != sessionID {
			kept = append(kept, s)
		}
	}
	if len(kept) != len(idx) {
		if err := r.kv.SetJSON(ctx, sessionIndexKey, kept, 0); err != nil {
			return err
		}
	}
	if n == 0 {
		return utils.ErrNotFound
	}
	return nil
}
