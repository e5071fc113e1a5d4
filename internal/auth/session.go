// Package auth owns identity: magic-link and Google sign-in, Redis-backed
// sessions, and the middleware that resolves a request's tenant scope and
// capabilities.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/config"
	"github.com/Plabrum/arive/internal/scope"
)

const sessionKeyPrefix = "session:"

// sessionTokenBytes is the number of random bytes in a session token.
const sessionTokenBytes = 32

// Session is the server-side record a cookie token points at. The scope a
// user signed in under travels with the session; switching teams rewrites it.
type Session struct {
	UserID       int64                 `json:"user_id"`
	Email        string                `json:"email"`
	Name         string                `json:"name"`
	ScopeKind    scope.Kind            `json:"scope_kind"`
	TeamID       int64                 `json:"team_id,omitempty"`
	CampaignID   int64                 `json:"campaign_id,omitempty"`
	Role         string                `json:"role,omitempty"`
	Capabilities []actions.Capability  `json:"capabilities,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Scope converts the session's stored tenancy into a query scope.
func (s *Session) Scope() scope.Current {
	switch s.ScopeKind {
	case scope.Team:
		return scope.TeamScope(s.TeamID)
	case scope.Campaign:
		return scope.CampaignScope(s.CampaignID)
	default:
		return scope.None()
	}
}

// NewRedis connects and pings before returning so a bad URL fails at boot.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// SessionStore keeps sessions in Redis under an opaque random token.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl}
}

// Create stores the session and returns the cookie token.
func (s *SessionStore) Create(ctx context.Context, sess *Session) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	sess.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("marshaling session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKeyPrefix+token, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("writing session to redis: %w", err)
	}
	return token, nil
}

// Get resolves a token. Unknown or expired tokens come back Unauthorized.
func (s *SessionStore) Get(ctx context.Context, token string) (*Session, error) {
	data, err := s.rdb.Get(ctx, sessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperror.Unauthorized("Session expired or invalid")
	}
	if err != nil {
		return nil, fmt.Errorf("reading session from redis: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	return &sess, nil
}

// Update rewrites an existing session in place, keeping its token and TTL.
func (s *SessionStore) Update(ctx context.Context, token string, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	ttl, err := s.rdb.TTL(ctx, sessionKeyPrefix+token).Result()
	if err != nil || ttl <= 0 {
		ttl = s.ttl
	}
	if err := s.rdb.Set(ctx, sessionKeyPrefix+token, data, ttl).Err(); err != nil {
		return fmt.Errorf("writing session to redis: %w", err)
	}
	return nil
}

// Destroy removes a session, logging the user out.
func (s *SessionStore) Destroy(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("deleting session from redis: %w", err)
	}
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
