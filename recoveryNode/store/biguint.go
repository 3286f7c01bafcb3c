package store

import (
	"database/sql/driver"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// BigUint is a 256-bit unsigned integer persisted as a decimal string so that
// nonces and thresholds round-trip exactly.
type BigUint struct {
	uint256.Int
}

// NewBigUint copies v into a BigUint. A nil v yields zero.
func NewBigUint(v *uint256.Int) BigUint {
	var b BigUint
	if v != nil {
		b.Set(v)
	}
	return b
}

// BigUintFromUint64 wraps a native integer.
func BigUintFromUint64(v uint64) BigUint {
	var b BigUint
	b.SetUint64(v)
	return b
}

// Uint256 returns a copy of the underlying value.
func (b BigUint) Uint256() *uint256.Int {
	return new(uint256.Int).Set(&b.Int)
}

// Big returns the value as a math/big integer for ABI encoding.
func (b BigUint) Big() *big.Int {
	return b.ToBig()
}

// Value implements driver.Valuer.
func (b BigUint) Value() (driver.Value, error) {
	return b.Dec(), nil
}

// Scan implements sql.Scanner.
func (b *BigUint) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case nil:
		b.Clear()
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		if v < 0 {
			return fmt.Errorf("cannot scan negative value %d into BigUint", v)
		}
		b.SetUint64(uint64(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into BigUint", src)
	}
	if s == "" {
		b.Clear()
		return nil
	}
	if err := b.SetFromDecimal(s); err != nil {
		return fmt.Errorf("invalid BigUint %q: %w", s, err)
	}
	return nil
}

// MarshalText encodes the value as a decimal string.
func (b BigUint) MarshalText() ([]byte, error) {
	return []byte(b.Dec()), nil
}

// UnmarshalText decodes a decimal or 0x-prefixed hex string.
func (b *BigUint) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return b.SetFromHex(s)
	}
	return b.SetFromDecimal(s)
}
