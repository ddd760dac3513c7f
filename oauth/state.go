package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chatkit-go/chatkit/utils"
)

// StateStore issues and consumes the anti-forgery state parameter carried
// through the grant flow. A state is single-use: Consume succeeds at most
// once per issued value.
type StateStore interface {
	Issue(ctx context.Context) (string, error)
	Consume(ctx context.Context, state string) error
}

const defaultStateExpiration = 10 * time.Minute

// MemoryStateStore keeps issued states in process memory. Suitable for a
// single-instance deployment; use JWTStateStore when callbacks may land on a
// different instance than the one that issued the state.
type MemoryStateStore struct {
	// Expiration bounds how long an issued state stays valid. Zero means the
	// default of ten minutes.
	Expiration time.Duration

	mu     sync.Mutex
	issued map[string]time.Time
	now    func() time.Time
}

var _ StateStore = (*MemoryStateStore)(nil)

func (s *MemoryStateStore) expiration() time.Duration {
	if s.Expiration > 0 {
		return s.Expiration
	}
	return defaultStateExpiration
}

func (s *MemoryStateStore) Issue(_ context.Context) (string, error) {
	state := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.issued == nil {
		s.issued = map[string]time.Time{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.issued[state] = s.now().Add(s.expiration())
	return state, nil
}

func (s *MemoryStateStore) Consume(_ context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.issued[state]
	if !ok {
		return utils.NewInvalidError("unknown or already used state")
	}
	delete(s.issued, state)

	if s.now == nil {
		s.now = time.Now
	}
	if s.now().After(expiresAt) {
		return utils.NewInvalidError("expired state")
	}
	return nil
}

// JWTStateStore issues self-contained signed states so any instance sharing
// the secret can validate a callback. Signed states are expiring but not
// single-use; the expiration window is the only replay bound.
type JWTStateStore struct {
	Secret []byte
	// Expiration bounds how long an issued state stays valid. Zero means the
	// default of ten minutes.
	Expiration time.Duration

	now func() time.Time
}

var _ StateStore = (*JWTStateStore)(nil)

func (s *JWTStateStore) expiration() time.Duration {
	if s.Expiration > 0 {
		return s.Expiration
	}
	return defaultStateExpiration
}

func (s *JWTStateStore) timeNow() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *JWTStateStore) Issue(_ context.Context) (string, error) {
	if len(s.Secret) == 0 {
		return "", utils.NewInvalidError("a signing secret is required to issue states")
	}
	claims := jwt.StandardClaims{
		Id:        uuid.NewString(),
		IssuedAt:  s.timeNow().Unix(),
		ExpiresAt: s.timeNow().Add(s.expiration()).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
}

func (s *JWTStateStore) Consume(_ context.Context, state string) error {
	claims := jwt.StandardClaims{}
	_, err := jwt.ParseWithClaims(state, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.Secret, nil
	})
	if err != nil {
		return utils.NewInvalidError("invalid state: %v", err)
	}
	return nil
}
