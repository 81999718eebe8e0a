package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor applied to stored credentials.
const DefaultCost = 12

var (
	// ErrHashing wraps any failure of the underlying hashing primitive.
	ErrHashing = errors.New("password hashing failed")
	// ErrMalformedHash is returned by Verify when the stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Config defines a public type used by authcore APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Cost int
}

// Bcrypt hashes and verifies passwords with a fixed work factor.
type Bcrypt struct {
	config Config
}

// NewBcrypt validates cfg and returns a hasher. A zero Cost selects [DefaultCost].
func NewBcrypt(cfg Config) (*Bcrypt, error) {
	if cfg.Cost == 0 {
		cfg.Cost = DefaultCost
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Bcrypt{config: cfg}, nil
}

// Cost returns the configured work factor.
func (b *Bcrypt) Cost() int {
	return b.config.Cost
}

// Hash returns a salted bcrypt hash of plaintext. Each call uses a fresh salt.
func (b *Bcrypt) Hash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), b.config.Cost)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrHashing, err)
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches hash. A mismatch is (false, nil);
// an unparsable hash is an error.
func (b *Bcrypt) Verify(plaintext, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", ErrMalformedHash, err)
	}
}

// NeedsRehash reports whether hash was produced with a different cost than
// the configured one.
func (b *Bcrypt) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != b.config.Cost
}

func validateConfig(cfg Config) error {
	if cfg.Cost < bcrypt.MinCost || cfg.Cost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}
