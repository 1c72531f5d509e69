package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/jensholdgaard/bluepenguin/internal/clock"
)

const sessionTTL = time.Hour

type localUser struct {
	id   string
	hash []byte
}

// Local keeps identities in process memory. It is meant for development
// and tests and issues the same HS256 tokens a hosted provider would.
type Local struct {
	mu       sync.Mutex
	users    map[string]localUser
	verifier verifier
}

// NewLocal returns a Local provider signing sessions with secret.
func NewLocal(secret string, clk clock.Clock) *Local {
	return &Local{
		users:    map[string]localUser{},
		verifier: verifier{secret: []byte(secret), now: clk.Now},
	}
}

func (l *Local) CreateIdentity(_ context.Context, email, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.users[email]; ok {
		return "", ErrIdentityExists
	}
	id := uuid.NewString()
	l.users[email] = localUser{id: id, hash: hash}
	return id, nil
}

func (l *Local) DeleteIdentity(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for email, u := range l.users {
		if u.id == id {
			delete(l.users, email)
		}
	}
	return nil
}

func (l *Local) SignIn(_ context.Context, email, password string) (string, error) {
	l.mu.Lock()
	u, ok := l.users[email]
	l.mu.Unlock()
	if !ok {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return l.verifier.sign(u.id, email, sessionTTL)
}

func (l *Local) VerifySession(_ context.Context, token string) (string, error) {
	return l.verifier.verify(token)
}
