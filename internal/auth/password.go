package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GehirnInc/crypt"
	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/GehirnInc/crypt/sha256_crypt"
	"github.com/GehirnInc/crypt/sha512_crypt"

	"github.com/hnrobert/lockr/internal/locker"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserLocked         = errors.New("user is locked")
	ErrUnsupportedHash    = errors.New("unsupported password hash")
)

// HashPassword returns a sha512-crypt ($6$) hash with a random salt.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	return sha512_crypt.New().Generate([]byte(password), nil)
}

// VerifyHash checks password against a $6$, $5$ or $1$ crypt hash.
func VerifyHash(hash, password string) error {
	if hash == "" || strings.HasPrefix(hash, "!") || strings.HasPrefix(hash, "*") {
		return ErrUserLocked
	}
	c := crypterFor(hash)
	if c == nil {
		return ErrUnsupportedHash
	}
	if err := c.Verify(hash, []byte(password)); err != nil {
		if errors.Is(err, crypt.ErrKeyMismatch) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return nil
}

func crypterFor(hash string) crypt.Crypter {
	switch {
	case strings.HasPrefix(hash, "$6$"):
		return sha512_crypt.New()
	case strings.HasPrefix(hash, "$5$"):
		return sha256_crypt.New()
	case strings.HasPrefix(hash, "$1$"):
		return md5_crypt.New()
	}
	return nil
}

func HumanAuthError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, locker.ErrInvalidCredentials):
		return "Invalid username or password."
	case errors.Is(err, ErrUserLocked):
		return "This account is locked."
	case errors.Is(err, ErrUnsupportedHash):
		return "The configured admin hash uses an unsupported format."
	case errors.Is(err, locker.ErrEmptyCredentials):
		return "Username or password cannot be empty."
	case errors.Is(err, locker.ErrAccountExists):
		return "An account with this username already exists."
	case errors.Is(err, locker.ErrNotFound):
		return "No such account."
	default:
		return fmt.Sprintf("Authentication failed: %v", err)
	}
}
