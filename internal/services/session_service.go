package services

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/hintline/internal/models"
	redisrepo "github.com/yoockh/hintline/internal/repositories/redis"
	"github.com/yoockh/hintline/internal/utils"
)

const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionService keeps the blobs of finished pipeline sessions.
type SessionService interface {
	Save(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	List(ctx context.Context, limit int) ([]models.SessionSummary, error)
	Delete(ctx context.Context, sessionID string) error
}

type sessionService struct {
	sessions redisrepo.SessionRepository
	ttl      time.Duration
}

func NewSessionService(sessions redisrepo.SessionRepository, ttl time.Duration) SessionService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &sessionService{sessions: sessions, ttl: ttl}
}

func (s *sessionService) Save(ctx context.Context, sess *models.Session) error {
	const op = "SessionService.Save"

	if sess == nil || sess.SessionID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	if sess.Transcript == nil {
		sess.Transcript = []models.TranscriptFragment{}
	}
	if sess.Hints == nil {
		sess.Hints = []models.HintRecord{}
	}
	if err := s.sessions.Put(ctx, sess, s.ttl); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to save session", err)
	}
	return nil
}

func (s *sessionService) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	const op = "SessionService.Get"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}

	out, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeUnavailable, op, "failed to get session", err)
	}
	return out, nil
}

func (s *sessionService) List(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	const op = "SessionService.List"

	if limit < 0 || limit > redisrepo.IndexLimit {
		return nil, utils.E(utils.CodeInvalidArgument, op, "limit must be between 0 and 100", nil)
	}
	out, err := s.sessions.List(ctx, limit)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to list sessions", err)
	}
	return out, nil
}

func (s *sessionService) Delete(ctx context.Context, sessionID string) error {
	const op = "SessionService.Delete"

	if sessionID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return utils.E(utils.CodeUnavailable, op, "failed to delete session", err)
	}
	return nil
}
