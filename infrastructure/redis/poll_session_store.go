package redis

import (
	"context"
	"time"

	"retreat-photos/domain/models"
	"retreat-photos/domain/repositories"
)

const pollSessionPrefix = "poll_session:"

// PollSessionStore keeps each poller's session in redis so that polls from
// one admin tab survive across API instances. Idle sessions expire.
type PollSessionStore struct {
	client *RedisClient
	ttl    time.Duration
}

func NewPollSessionStore(client *RedisClient, ttl time.Duration) repositories.PollSessionRepository {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &PollSessionStore{client: client, ttl: ttl}
}

// Load returns a fresh session when none is stored.
func (s *PollSessionStore) Load(ctx context.Context, key string) (*models.PollSession, error) {
	var session models.PollSession
	if _, err := s.client.GetJSON(ctx, pollSessionPrefix+key, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *PollSessionStore) Save(ctx context.Context, key string, session *models.PollSession) error {
	return s.client.SetJSON(ctx, pollSessionPrefix+key, session, s.ttl)
}
