// Package ledger moves balances between account books in atomic multi-leg
// transfers keyed by an idempotency key.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/punchamoorthee/agentcash/internal/domain"
)

var (
	ErrAlreadyApplied      = errors.New("ledger: idempotency key already applied")
	ErrIdempotencyMismatch = errors.New("ledger: key reuse with mismatched legs")
	ErrInsufficientFunds   = errors.New("ledger: insufficient funds")
	ErrFloatFloor          = errors.New("ledger: debit would breach the float floor")
	ErrActivationMinimum   = errors.New("ledger: first float deposit below activation minimum")
	ErrUnbalanced          = errors.New("ledger: debits and credits differ")
	ErrInvalidLeg          = errors.New("ledger: invalid leg")
)

// Limits are the balance rules enforced on every transfer.
type Limits struct {
	FloatFloor        int64 `mapstructure:"float_floor" validate:"gte=0"`
	ActivationMinimum int64 `mapstructure:"activation_minimum" validate:"gte=0"`
}

func DefaultLimits() Limits {
	return Limits{FloatFloor: 100_000, ActivationMinimum: 250_000}
}

type bookKey struct {
	Account domain.AccountRef
	Book    domain.Book
}

// position is the locked state of one account book.
type position struct {
	Balance   int64
	Activated bool
}

// Validate checks leg shape and that the transfer balances.
func Validate(legs []domain.Leg) error {
	if len(legs) < 2 {
		return fmt.Errorf("%w: need at least two legs", ErrInvalidLeg)
	}
	for i, l := range legs {
		if l.Account == "" || l.Amount <= 0 {
			return fmt.Errorf("%w: leg %d", ErrInvalidLeg, i)
		}
		switch l.Book {
		case domain.BookMain, domain.BookFloat, domain.BookCommission:
		default:
			return fmt.Errorf("%w: leg %d book %q", ErrInvalidLeg, i, l.Book)
		}
		if l.Direction != domain.Debit && l.Direction != domain.Credit {
			return fmt.Errorf("%w: leg %d direction %q", ErrInvalidLeg, i, l.Direction)
		}
	}
	if !domain.Balanced(legs) {
		return ErrUnbalanced
	}
	return nil
}

// HashLegs returns a digest of the legs that does not depend on their order.
func HashLegs(legs []domain.Leg) string {
	sorted := append([]domain.Leg(nil), legs...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		if a.Book != b.Book {
			return a.Book < b.Book
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		return a.Amount < b.Amount
	})
	body, _ := json.Marshal(sorted)
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// netDeltas folds the legs into one signed change per account book, in lock order.
func netDeltas(legs []domain.Leg) ([]bookKey, map[bookKey]int64) {
	deltas := make(map[bookKey]int64, len(legs))
	for _, l := range legs {
		deltas[bookKey{l.Account, l.Book}] += l.Delta()
	}
	keys := make([]bookKey, 0, len(deltas))
	for k := range deltas {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Account != keys[j].Account {
			return keys[i].Account < keys[j].Account
		}
		return keys[i].Book < keys[j].Book
	})
	return keys, deltas
}

func (l Limits) check(k bookKey, p position, delta int64) error {
	after := p.Balance + delta
	if k.Book == domain.BookFloat {
		if delta < 0 && after < l.FloatFloor {
			return fmt.Errorf("%w: %s would hold %d", ErrFloatFloor, k.Account, after)
		}
		if delta > 0 && !p.Activated && delta < l.ActivationMinimum {
			return fmt.Errorf("%w: %s deposit %d", ErrActivationMinimum, k.Account, delta)
		}
		return nil
	}
	if after < 0 {
		return fmt.Errorf("%w: %s %s", ErrInsufficientFunds, k.Account, k.Book)
	}
	return nil
}
