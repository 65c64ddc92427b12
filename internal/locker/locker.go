package locker

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hnrobert/lockr/internal/cipher"
	"github.com/hnrobert/lockr/internal/logger"
	"github.com/hnrobert/lockr/internal/vault"
)

var (
	ErrEmptyPath          = errors.New("JSON file path is empty")
	ErrNotInitialized     = errors.New("locker is not initialized")
	ErrEmptyCredentials   = errors.New("username or password cannot be empty")
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("account not found")
	ErrShortSecret        = cipher.ErrShortSecret
)

// Locker registers accounts and checks passwords against an encrypted vault file.
type Locker struct {
	mu    sync.RWMutex
	store *vault.Store
}

func New() *Locker {
	return &Locker{}
}

// Open returns a Locker already initialized on path.
func Open(path string) (*Locker, error) {
	l := New()
	if err := l.Initialize(path); err != nil {
		return nil, err
	}
	return l, nil
}

// Initialize binds the locker to the vault file at path, creating it if needed.
func (l *Locker) Initialize(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	st := vault.NewStore(path)
	if err := st.Ensure(); err != nil {
		return fmt.Errorf("initialize %s: %w", path, err)
	}
	l.mu.Lock()
	l.store = st
	l.mu.Unlock()
	logger.Info("locker initialized on %s", path)
	return nil
}

func (l *Locker) Path() string {
	st, err := l.vault()
	if err != nil {
		return ""
	}
	return st.Path()
}

// RegisterAccount seals password under the key taken from secret and stores it for username.
// Surrounding whitespace is trimmed from username here and in every lookup.
func (l *Locker) RegisterAccount(username, password, secret string) error {
	st, err := l.vault()
	if err != nil {
		return err
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return ErrEmptyCredentials
	}
	key, err := cipher.KeyFromSecret(secret)
	if err != nil {
		return err
	}
	sealed, err := cipher.SealString(password, key)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}
	if err := st.Insert(username, sealed); err != nil {
		if errors.Is(err, vault.ErrExists) {
			return ErrAccountExists
		}
		return fmt.Errorf("save account: %w", err)
	}
	logger.Info("registered account %s", username)
	return nil
}

// Authenticate reports ErrInvalidCredentials for an empty or unknown user, a wrong
// secret and a wrong password alike. A secret too short to form a key is ErrShortSecret.
func (l *Locker) Authenticate(username, password, secret string) error {
	plain, err := l.open(username, secret)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, errOpen) || errors.Is(err, ErrEmptyCredentials) {
			return ErrInvalidCredentials
		}
		return err
	}
	if subtle.ConstantTimeCompare([]byte(plain), []byte(password)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// Reveal returns the stored password for username.
func (l *Locker) Reveal(username, secret string) (string, error) {
	plain, err := l.open(username, secret)
	if errors.Is(err, errOpen) {
		return "", ErrInvalidCredentials
	}
	return plain, err
}

func (l *Locker) ChangePassword(username, oldPassword, newPassword, secret string) error {
	if newPassword == "" {
		return ErrEmptyCredentials
	}
	username = strings.TrimSpace(username)
	if err := l.Authenticate(username, oldPassword, secret); err != nil {
		return err
	}
	st, err := l.vault()
	if err != nil {
		return err
	}
	key, err := cipher.KeyFromSecret(secret)
	if err != nil {
		return err
	}
	sealed, err := cipher.SealString(newPassword, key)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}
	if err := st.Put(username, sealed); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	logger.Info("changed password for %s", username)
	return nil
}

func (l *Locker) Remove(username string) error {
	st, err := l.vault()
	if err != nil {
		return err
	}
	if err := st.Delete(strings.TrimSpace(username)); err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	logger.Info("removed account %s", username)
	return nil
}

func (l *Locker) Accounts() ([]string, error) {
	st, err := l.vault()
	if err != nil {
		return nil, err
	}
	return st.List()
}

var errOpen = errors.New("cannot open sealed password")

func (l *Locker) open(username, secret string) (string, error) {
	st, err := l.vault()
	if err != nil {
		return "", err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrEmptyCredentials
	}
	key, err := cipher.KeyFromSecret(secret)
	if err != nil {
		return "", err
	}
	sealed, err := st.Get(username)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	plain, err := cipher.OpenString(sealed, key)
	if err != nil {
		logger.Warn("cannot open sealed password for %s: %v", username, err)
		return "", fmt.Errorf("%w: %v", errOpen, err)
	}
	return plain, nil
}

func (l *Locker) vault() (*vault.Store, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.store == nil {
		return nil, ErrNotInitialized
	}
	return l.store, nil
}
