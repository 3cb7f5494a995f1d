// Package authcache caches successful basic authentications so that the
// (intentionally slow) password hash is not verified on every request.
package authcache

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/go-oidfed/frontdoor/middleware/basicauth"
)

// DefaultLifetime is the default lifetime of cached authentications
const DefaultLifetime = time.Minute

const keyPrefix = "frontdoor:auth:"

// Backend stores cached principals
type Backend interface {
	Get(ctx context.Context, key string) (*basicauth.Principal, bool, error)
	Set(ctx context.Context, key string, p *basicauth.Principal, ttl time.Duration) error
	// DeletePrefix removes all entries whose key starts with prefix
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}

// Authenticator is a basicauth.Authenticator that caches the results of
// another Authenticator
type Authenticator struct {
	next     basicauth.Authenticator
	backend  Backend
	lifetime time.Duration
	secret   []byte
}

// New returns an Authenticator caching successful authentications of next
// in backend. If secret is empty a random secret is used.
func New(next basicauth.Authenticator, backend Backend, lifetime time.Duration, secret []byte) (
	*Authenticator, error,
) {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, errors.Wrap(err, "could not generate auth cache secret")
		}
	}
	return &Authenticator{
		next:     next,
		backend:  backend,
		lifetime: lifetime,
		secret:   secret,
	}, nil
}

// Authenticate implements the basicauth.Authenticator interface
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (
	*basicauth.Principal, error,
) {
	key := a.key(username, password)
	p, found, err := a.backend.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warn("could not read from auth cache")
	} else if found {
		return p, nil
	}
	p, err = a.next.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if err = a.backend.Set(ctx, key, p, a.lifetime); err != nil {
		log.WithError(err).Warn("could not write to auth cache")
	}
	return p, nil
}

// Invalidate removes all cached authentications of a user
func (a *Authenticator) Invalidate(ctx context.Context, username string) error {
	return a.backend.DeletePrefix(ctx, a.userPrefix(username))
}

// Close closes the backend
func (a *Authenticator) Close() error {
	return a.backend.Close()
}

func (a *Authenticator) mac(parts ...string) string {
	m := hmac.New(sha256.New, a.secret)
	for _, p := range parts {
		m.Write([]byte(p))
		m.Write([]byte{0})
	}
	return hex.EncodeToString(m.Sum(nil))
}

func (a *Authenticator) userPrefix(username string) string {
	return keyPrefix + a.mac("user", username)[:32] + ":"
}

func (a *Authenticator) key(username, password string) string {
	return a.userPrefix(username) + a.mac("credentials", username, password)
}
