package flows

import (
	"context"
	"fmt"
	"time"
)

// ConsumeStrategy selects how a single-use token is retired.
type ConsumeStrategy int

const (
	// ConsumeMarkUsed keeps the record and flips its used flag.
	ConsumeMarkUsed ConsumeStrategy = iota + 1
	// ConsumeDelete removes the record.
	ConsumeDelete
)

func (s ConsumeStrategy) String() string {
	switch s {
	case ConsumeMarkUsed:
		return "mark_used"
	case ConsumeDelete:
		return "delete"
	default:
		return fmt.Sprintf("ConsumeStrategy(%d)", int(s))
	}
}

// Valid reports whether s names a known strategy.
func (s ConsumeStrategy) Valid() bool {
	return s == ConsumeMarkUsed || s == ConsumeDelete
}

// TokenState is the evaluated state of a stored token.
type TokenState int

const (
	TokenValid TokenState = iota
	TokenMissing
	TokenUsed
	TokenExpired
)

// TokenRecord is the flow-local view of a stored token.
type TokenRecord struct {
	Identifier string
	ExpiresAt  time.Time
	Used       bool
}

// ConsumableToken couples a stored record with the strategy that retires it.
type ConsumableToken struct {
	Record   TokenRecord
	Strategy ConsumeStrategy
}

// Evaluate classifies the token at now. The used flag is checked before
// expiry, so a consumed token reports TokenUsed even after it lapses.
func (t ConsumableToken) Evaluate(now time.Time) TokenState {
	if t.Strategy == ConsumeMarkUsed && t.Record.Used {
		return TokenUsed
	}
	if t.Record.ExpiresAt.Before(now) {
		return TokenExpired
	}
	return TokenValid
}

// TokenUser is the account a token resolves to.
type TokenUser struct {
	ID    string
	Email string
	Name  string
}

// TokenOutcome is the result of a token check or consumption. Reason is nil
// when the operation succeeded.
type TokenOutcome struct {
	Reason       error
	Email        string
	User         *TokenUser
	PolicyErrors []string
}

// tokenStoreOps are the storage callbacks shared by both token lifecycles.
type tokenStoreOps struct {
	GetToken        func(context.Context, string) (TokenRecord, error)
	ConsumeToken    func(context.Context, string, ConsumeStrategy) error
	IsStoreNotFound func(error) bool
	HashToken       func(string) string
}

// loadToken hashes token, fetches it, and evaluates it. A missing record
// yields TokenMissing with no error.
func loadToken(ctx context.Context, token string, strategy ConsumeStrategy, now time.Time, ops tokenStoreOps) (ConsumableToken, TokenState, error) {
	if token == "" {
		return ConsumableToken{}, TokenMissing, nil
	}
	rec, err := ops.GetToken(ctx, ops.HashToken(token))
	if err != nil {
		if ops.IsStoreNotFound(err) {
			return ConsumableToken{}, TokenMissing, nil
		}
		return ConsumableToken{}, TokenMissing, err
	}
	ct := ConsumableToken{Record: rec, Strategy: strategy}
	return ct, ct.Evaluate(now), nil
}
