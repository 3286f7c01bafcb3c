package evm

import (
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/spruceid/siwe-go"
)

// SIWEMessage is a parsed EIP-4361 sign-in message.
type SIWEMessage struct {
	Domain         string
	Address        ethcommon.Address
	Statement      string
	URI            string
	Version        string
	ChainID        uint64
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime *time.Time
	NotBefore      *time.Time

	raw *siwe.Message
}

// ParseSIWEMessage parses the textual EIP-4361 format.
func ParseSIWEMessage(message string) (*SIWEMessage, error) {
	raw, err := siwe.ParseMessage(message)
	if err != nil {
		return nil, err
	}
	if raw.GetChainID() <= 0 {
		return nil, fmt.Errorf("invalid chain id %d", raw.GetChainID())
	}

	uri := raw.GetURI()
	msg := &SIWEMessage{
		Domain:  raw.GetDomain(),
		Address: raw.GetAddress(),
		URI:     uri.String(),
		Version: raw.GetVersion(),
		ChainID: uint64(raw.GetChainID()),
		Nonce:   raw.GetNonce(),
		raw:     raw,
	}
	if statement := raw.GetStatement(); statement != nil {
		msg.Statement = *statement
	}

	if msg.IssuedAt, err = time.Parse(time.RFC3339, raw.GetIssuedAt()); err != nil {
		return nil, fmt.Errorf("invalid issued at: %w", err)
	}
	if msg.ExpirationTime, err = optionalTime(raw.GetExpirationTime()); err != nil {
		return nil, fmt.Errorf("invalid expiration time: %w", err)
	}
	if msg.NotBefore, err = optionalTime(raw.GetNotBefore()); err != nil {
		return nil, fmt.Errorf("invalid not before: %w", err)
	}
	return msg, nil
}

// ValidAt reports whether now falls inside the message's validity bounds.
func (m *SIWEMessage) ValidAt(now time.Time) bool {
	ok, err := m.raw.ValidAt(now)
	return ok && err == nil
}

func optionalTime(value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
