package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// ParseAddress decodes a 20-byte hex address, with or without a 0x prefix.
func ParseAddress(s string) ([20]byte, error) {
	var out [20]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("invalid address %q: expected %d bytes, got %d", s, len(out), len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// ParseRoot decodes a 32-byte hex digest, with or without a 0x prefix.
func ParseRoot(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid root %q: %w", s, err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("invalid root %q: expected %d bytes, got %d", s, len(out), len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// ParseAmount parses a non-negative decimal string into a big integer. The
// empty string parses as zero.
func ParseAmount(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", s)
	}
	return v, nil
}
