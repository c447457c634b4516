// Package auth keeps the signed-in user's session for the recontrole CLI.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryBuffer is subtracted from the token expiry when checking validity.
const ExpiryBuffer = 5 * time.Minute

// ErrUnauthenticated is returned when no valid session exists.
var ErrUnauthenticated = errors.New("not signed in")

// User represents the authenticated user.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Session represents an authentication session.
type Session struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// Credentials stores the complete auth credentials.
type Credentials struct {
	Session   Session `json:"session"`
	CreatedAt int64   `json:"created_at"`
}

// Provider answers who is signed in. The monitor only needs this much.
type Provider interface {
	CurrentUserID() (string, bool)
}

// Manager handles authentication operations. Other processes sign in and
// out by rewriting the credentials file, so every read first picks up
// changes on disk.
type Manager struct {
	path        string
	credentials *Credentials
	loadedMod   time.Time
	loadedSize  int64
	now         func() time.Time
	mu          sync.RWMutex
}

// DefaultCredentialsPath returns ~/.config/recontrole/credentials.json.
func DefaultCredentialsPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "recontrole", "credentials.json"), nil
}

// NewManager creates an auth manager backed by the credentials file at path.
// An empty path selects DefaultCredentialsPath.
func NewManager(path string) (*Manager, error) {
	if path == "" {
		p, err := DefaultCredentialsPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{path: path, now: time.Now}
	m.sync()
	return m, nil
}

// sync reloads the credentials file when it changed since the last load.
// Missing or unreadable credentials mean signed out.
func (m *Manager) sync() {
	info, err := os.Stat(m.path)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if os.IsNotExist(err) {
			m.credentials = nil
			m.loadedMod, m.loadedSize = time.Time{}, 0
		}
		return
	}
	if m.credentials != nil && info.ModTime().Equal(m.loadedMod) && info.Size() == m.loadedSize {
		return
	}

	creds, err := readCredentials(m.path)
	if err != nil {
		creds = nil
	}
	m.credentials = creds
	m.loadedMod, m.loadedSize = info.ModTime(), info.Size()
}

// IsAuthenticated checks if the user is currently authenticated.
func (m *Manager) IsAuthenticated() bool {
	m.sync()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validLocked()
}

func (m *Manager) validLocked() bool {
	if m.credentials == nil || m.credentials.Session.User.ID == "" {
		return false
	}
	if m.credentials.Session.ExpiresAt == 0 {
		return true
	}
	expiresAt := time.Unix(m.credentials.Session.ExpiresAt, 0)
	return m.now().Before(expiresAt.Add(-ExpiryBuffer))
}

// CurrentUserID returns the signed-in user's id.
func (m *Manager) CurrentUserID() (string, bool) {
	m.sync()
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.validLocked() {
		return "", false
	}
	return m.credentials.Session.User.ID, true
}

// GetUser returns the current user if authenticated.
func (m *Manager) GetUser() *User {
	m.sync()
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.validLocked() {
		return nil
	}
	u := m.credentials.Session.User
	return &u
}

// Token returns the ID token used to authorize remote requests.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.sync()
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.validLocked() {
		return "", ErrUnauthenticated
	}
	return m.credentials.Session.IDToken, nil
}

// Login stores a session for the given ID token. The token is issued by the
// identity provider; only its claims are read here.
func (m *Manager) Login(idToken, refreshToken string) (*Session, error) {
	session, err := sessionFromToken(idToken)
	if err != nil {
		return nil, err
	}
	session.RefreshToken = refreshToken

	if session.ExpiresAt != 0 && !m.now().Before(time.Unix(session.ExpiresAt, 0).Add(-ExpiryBuffer)) {
		return nil, fmt.Errorf("id token already expired")
	}

	m.mu.Lock()
	m.credentials = &Credentials{
		Session:   *session,
		CreatedAt: m.now().Unix(),
	}
	m.mu.Unlock()

	if err := m.saveCredentials(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return session, nil
}

// Logout clears the current session.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.credentials = nil
	m.mu.Unlock()

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

// sessionFromToken reads user and expiry claims from an ID token.
func sessionFromToken(idToken string) (*Session, error) {
	if idToken == "" {
		return nil, errors.New("id token is required")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("invalid id token: %w", err)
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		sub, err := claims.GetSubject()
		if err != nil {
			return nil, fmt.Errorf("invalid subject claim: %w", err)
		}
		userID = sub
	}
	if userID == "" {
		return nil, errors.New("id token has no user id")
	}

	session := &Session{
		IDToken: idToken,
		User:    User{ID: userID},
	}
	if email, ok := claims["email"].(string); ok {
		session.User.Email = email
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp != nil {
		session.ExpiresAt = exp.Unix()
	}
	return session, nil
}

// readCredentials loads credentials from disk.
func readCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// saveCredentials writes credentials to a temp file and renames it into
// place so readers in other processes never see a partial file.
func (m *Manager) saveCredentials() error {
	m.mu.RLock()
	creds := m.credentials
	m.mu.RUnlock()

	if creds == nil {
		return nil
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".credentials-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), m.path)
}
