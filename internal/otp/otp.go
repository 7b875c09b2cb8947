// Package otp implements short-lived, single-use numeric codes.
//
// A Code is owned by whichever record embeds it (the pickup handoff on an
// order, a login challenge); this package only knows how to mint, check and
// burn one.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"
)

// Digits is the length of generated codes.
const Digits = 6

var (
	ErrMissing  = fmt.Errorf("no code issued")
	ErrMismatch = fmt.Errorf("code does not match")
	ErrExpired  = fmt.Errorf("code expired")
	ErrConsumed = fmt.Errorf("code already used")
)

// Code is an expiring one-time secret.
type Code struct {
	Value      string     `json:"-" gorm:"type:varchar(12)"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
}

// Generate mints a fresh code valid for ttl from now.
func Generate(ttl time.Duration, now time.Time) (Code, error) {
	limit := big.NewInt(1)
	for i := 0; i < Digits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return Code{}, fmt.Errorf("failed to generate code: %w", err)
	}
	expires := now.Add(ttl)
	return Code{
		Value:     fmt.Sprintf("%0*d", Digits, n.Int64()),
		ExpiresAt: &expires,
	}, nil
}

// Issued reports whether the code holds a value.
func (c *Code) Issued() bool {
	return c != nil && c.Value != ""
}

// Verify checks value against the code without consuming it.
func (c *Code) Verify(value string, now time.Time) error {
	if !c.Issued() {
		return ErrMissing
	}
	if c.ConsumedAt != nil {
		return ErrConsumed
	}
	if c.ExpiresAt == nil || !now.Before(*c.ExpiresAt) {
		return ErrExpired
	}
	if subtle.ConstantTimeCompare([]byte(c.Value), []byte(value)) != 1 {
		return ErrMismatch
	}
	return nil
}

// Consume verifies value and marks the code used.
func (c *Code) Consume(value string, now time.Time) error {
	if err := c.Verify(value, now); err != nil {
		return err
	}
	c.ConsumedAt = &now
	return nil
}
