package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func TestStatic_Empty(t *testing.T) {
	_, err := NewStatic("  ").Token(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
}

func TestStatic_OpaqueTokenNeverExpires(t *testing.T) {
	got, err := NewStatic("opaque-token-123\n").Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "opaque-token-123" {
		t.Errorf("Token = %q", got)
	}
}

func TestStatic_JWTExpiry(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	valid := signed(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()})
	expired := signed(t, jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()})

	s := NewStatic(valid)
	s.now = func() time.Time { return now }
	if _, err := s.Token(context.Background()); err != nil {
		t.Errorf("valid token: unexpected error: %v", err)
	}

	s = NewStatic(expired)
	s.now = func() time.Time { return now }
	if _, err := s.Token(context.Background()); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired token error = %v, want ErrTokenExpired", err)
	}
}

func TestExpiry_NoClaim(t *testing.T) {
	if _, ok := Expiry(signed(t, jwt.MapClaims{"sub": "x"})); ok {
		t.Error("Expiry reported an exp claim that does not exist")
	}
	if _, ok := Expiry("not.a.jwt"); ok {
		t.Error("Expiry accepted a malformed token")
	}
}

func TestOwnerFromToken(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   uuid.UUID
		ok     bool
	}{
		{"user_uuid", jwt.MapClaims{"user_uuid": id.String()}, id, true},
		{"sub", jwt.MapClaims{"sub": id.String()}, id, true},
		{"non-uuid sub", jwt.MapClaims{"sub": "alice"}, uuid.Nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := OwnerFromToken(signed(t, tt.claims))
			if ok != tt.ok || got != tt.want {
				t.Errorf("OwnerFromToken = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
	if _, ok := OwnerFromToken("opaque"); ok {
		t.Error("opaque token yielded an owner")
	}
}

func TestFile_SaveTokenClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")
	f := NewFile(path)
	ctx := context.Background()

	if _, err := f.Token(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("missing file error = %v, want ErrNotAuthenticated", err)
	}
	if err := f.Save("abc"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}
	got, err := f.Token(ctx)
	if err != nil || got != "abc" {
		t.Errorf("Token = %q, %v; want abc", got, err)
	}

	if err := f.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := f.Clear(); err != nil {
		t.Errorf("second Clear: %v", err)
	}
	if _, err := f.Token(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("after Clear error = %v, want ErrNotAuthenticated", err)
	}
}

func TestFile_SaveRejectsEmpty(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "token"))
	if err := f.Save(" "); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Save(empty) error = %v, want ErrNotAuthenticated", err)
	}
}
