// Package auth supplies bearer tokens to the transport and tells the sync
// coordinator, before any network call, whether the user is logged in.
//
// Tokens are opaque to the client. When a token happens to be a JWT its "exp"
// claim is read without verifying the signature, so an expired session is
// detected locally instead of by a 401 from the server.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrNotAuthenticated is returned when no token is available.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrTokenExpired is returned when the token's exp claim has passed.
	ErrTokenExpired = errors.New("token expired")
)

// TokenSource supplies the current bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static serves a fixed token, typically from the config file or the
// environment.
type Static struct {
	token string
	now   func() time.Time
}

// NewStatic returns a Static source for token.
func NewStatic(token string) *Static {
	return &Static{token: token, now: time.Now}
}

// Token implements TokenSource.
func (s *Static) Token(context.Context) (string, error) {
	return check(s.token, s.now())
}

// File serves the token stored in a file written by [File.Save]. The file is
// re-read on every call so a fresh `todosync login` is picked up by a running
// daemon.
type File struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewFile returns a File source backed by path.
func NewFile(path string) *File {
	return &File{path: path, now: time.Now}
}

// DefaultTokenPath returns ~/.config/todosync/token.
func DefaultTokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "todosync", "token"), nil
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Token implements TokenSource.
func (f *File) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotAuthenticated
	}
	if err != nil {
		return "", fmt.Errorf("reading token file %q: %w", f.path, err)
	}
	return check(string(data), f.now())
}

// Save writes token atomically with 0600 permissions.
func (f *File) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNotAuthenticated
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}

// Clear removes the stored token. Clearing a missing token is not an error.
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

func check(token string, now time.Time) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNotAuthenticated
	}
	if exp, ok := Expiry(token); ok && !now.Before(exp) {
		return "", fmt.Errorf("%w at %s", ErrTokenExpired, exp.UTC().Format(time.RFC3339))
	}
	return token, nil
}

// Expiry returns the exp claim of a JWT. ok is false for opaque tokens and
// for JWTs without an exp claim.
func Expiry(token string) (exp time.Time, ok bool) {
	claims, ok := unverifiedClaims(token)
	if !ok {
		return time.Time{}, false
	}
	nd, err := claims.GetExpirationTime()
	if err != nil || nd == nil {
		return time.Time{}, false
	}
	return nd.Time, true
}

// OwnerFromToken extracts the user uuid from a JWT's user_uuid, uuid or sub
// claim, in that order.
func OwnerFromToken(token string) (uuid.UUID, bool) {
	claims, ok := unverifiedClaims(token)
	if !ok {
		return uuid.Nil, false
	}
	for _, name := range []string{"user_uuid", "uuid", "sub"} {
		s, _ := claims[name].(string)
		if id, err := uuid.Parse(s); err == nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

func unverifiedClaims(token string) (jwt.MapClaims, bool) {
	if strings.Count(token, ".") != 2 {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return nil, false
	}
	return claims, true
}
