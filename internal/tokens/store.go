// Package tokens persists the CLI's API credentials in a small YAML file.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"backend-selfbell/internal/api"

	"gopkg.in/yaml.v3"
)

var ErrNotLoggedIn = errors.New("tokens: not logged in")

// refreshSkew refreshes access tokens slightly before they expire.
const refreshSkew = 30 * time.Second

type Tokens struct {
	AccessToken  string    `yaml:"access_token"`
	RefreshToken string    `yaml:"refresh_token"`
	ExpiresAt    time.Time `yaml:"expires_at"`
}

// FromResponse converts a login or refresh response issued at now.
func FromResponse(resp api.TokenResponse, now time.Time) Tokens {
	return Tokens{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second).UTC(),
	}
}

// RefreshFunc exchanges a refresh token for new tokens.
type RefreshFunc func(ctx context.Context, refreshToken string) (api.TokenResponse, error)

type FileStore struct {
	path    string
	refresh RefreshFunc
	now     func() time.Time

	mu sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// WithRefresh makes AccessToken renew expired tokens through fn.
func (s *FileStore) WithRefresh(fn RefreshFunc) *FileStore {
	s.refresh = fn
	return s
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() (Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) Save(t Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(t)
}

// Clear removes the token file. A missing file is not an error.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("tokens: clear: %w", err)
	}
	return nil
}

// AccessToken returns a usable access token, refreshing it first when it is
// about to expire and a refresh func is configured.
func (s *FileStore) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.load()
	if err != nil {
		return "", err
	}
	if t.ExpiresAt.IsZero() || s.now().Add(refreshSkew).Before(t.ExpiresAt) {
		return t.AccessToken, nil
	}
	if s.refresh == nil || t.RefreshToken == "" {
		return t.AccessToken, nil
	}

	resp, err := s.refresh(ctx, t.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("tokens: refresh: %w", err)
	}
	fresh := FromResponse(resp, s.now())
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = t.RefreshToken
	}
	if err := s.save(fresh); err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

func (s *FileStore) load() (Tokens, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Tokens{}, ErrNotLoggedIn
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("tokens: read %s: %w", s.path, err)
	}
	var t Tokens
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tokens{}, fmt.Errorf("tokens: parse %s: %w", s.path, err)
	}
	if t.AccessToken == "" {
		return Tokens{}, ErrNotLoggedIn
	}
	return t, nil
}

func (s *FileStore) save(t Tokens) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("tokens: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("tokens: mkdir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("tokens: write %s: %w", s.path, err)
	}
	return nil
}
