package credential

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Verifier turns raw credentials into opaque stored values and checks
// candidates against them. Implementations must not be reversible.
type Verifier interface {
	Hash(raw string) (string, error)
	Verify(stored, candidate string) bool
}

// ErrTooLong is returned by Hash when the raw credential exceeds what the
// verifier can hash.
var ErrTooLong = errors.New("credential too long")

// Bcrypt is the default Verifier.
type Bcrypt struct {
	Cost int
}

// NewBcrypt returns a bcrypt verifier; a zero cost means bcrypt.DefaultCost.
func NewBcrypt(cost int) *Bcrypt {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{Cost: cost}
}

func (b *Bcrypt) Hash(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), b.Cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", fmt.Errorf("%w: %w", ErrTooLong, err)
	}
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(hash), nil
}

// Verify never matches an empty stored value, so seeded accounts without a
// credential cannot be logged into.
func (b *Bcrypt) Verify(stored, candidate string) bool {
	if stored == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(candidate)) == nil
}
