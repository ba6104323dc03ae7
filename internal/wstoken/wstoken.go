// Package wstoken mints and redeems single-use WebSocket progress
// tokens (4.13): a short-lived credential an external HTTP API hands a
// browser client for a job's progress stream. This core only manages
// the token lifecycle and the progress cache it reads from; the
// WebSocket transport itself is out of core scope (§1).
package wstoken

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	tokenKeyPrefix    = "ws:token:"
	progressKeyPrefix = "job:progress:"

	// DefaultTTL is used when Mint is called without an explicit ttl.
	DefaultTTL = 5 * time.Minute
)

// Service mints and redeems progress tokens.
type Service struct {
	client *redis.Client
}

// New constructs a Service.
func New(client *redis.Client) *Service {
	return &Service{client: client}
}

// Mint issues a single-use token bound to jobID, valid for ttl
// (DefaultTTL if <= 0).
func (s *Service) Mint(ctx context.Context, jobID uuid.UUID, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("wstoken: generate token: %w", err)
	}
	if err := s.client.Set(ctx, tokenKeyPrefix+token, jobID.String(), ttl).Err(); err != nil {
		return "", fmt.Errorf("wstoken: mint: %w", err)
	}
	return token, nil
}

// Redeem atomically reads and deletes token via GETDEL, returning the
// job_id it was bound to. A token is redeemable exactly once.
func (s *Service) Redeem(ctx context.Context, token string) (uuid.UUID, bool, error) {
	val, err := s.client.GetDel(ctx, tokenKeyPrefix+token).Result()
	if err != nil {
		if err == redis.Nil {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("wstoken: redeem: %w", err)
	}
	jobID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("wstoken: redeemed value is not a job id: %w", err)
	}
	return jobID, true, nil
}

// SetProgress writes the progress cache a redeemed socket streams
// from.
func (s *Service) SetProgress(ctx context.Context, jobID uuid.UUID, payload string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := s.client.Set(ctx, progressKeyPrefix+jobID.String(), payload, ttl).Err(); err != nil {
		return fmt.Errorf("wstoken: set progress: %w", err)
	}
	return nil
}

// GetProgress reads the current progress cache entry for a job.
func (s *Service) GetProgress(ctx context.Context, jobID uuid.UUID) (string, bool, error) {
	val, err := s.client.Get(ctx, progressKeyPrefix+jobID.String()).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("wstoken: get progress: %w", err)
	}
	return val, true, nil
}

func randomToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
