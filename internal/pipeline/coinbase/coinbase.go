// Package coinbase parses a coinbase transaction's payload to recover
// the mining node's version string, bit-exact with the format the
// reference miner and node software embed.
//
// The keying convention used by SecondMetrics' mining-node-version map
// is the full version string, not just a major/minor prefix.
package coinbase

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	reservedLength = 17 // bytes 0..16
	scriptLenIndex = 18 // byte 18 holds the script length L
	scriptStart    = 19 // bytes 19..19+L form the script

	addressMarkerFirstByte = 0xaa
)

// ErrInvalidFirstByte is returned when the payload's embedded script's
// first byte marks it as an address payload, which carries no version.
var ErrInvalidFirstByte = errors.New("coinbase payload is an address marker, no version extractable")

// ErrTruncatedPayload is returned when the payload is too short to
// contain the fields this format requires.
var ErrTruncatedPayload = errors.New("coinbase payload truncated")

// ParseMiningNodeVersion extracts the mining node's version string from
// a coinbase transaction's payload.
func ParseMiningNodeVersion(payload []byte) (string, error) {
	if len(payload) <= scriptLenIndex {
		return "", ErrTruncatedPayload
	}

	scriptLen := int(payload[scriptLenIndex])
	scriptEnd := scriptStart + scriptLen
	if scriptEnd > len(payload) {
		return "", ErrTruncatedPayload
	}

	script := payload[scriptStart:scriptEnd]
	if len(script) > 0 && script[0] == addressMarkerFirstByte {
		return "", ErrInvalidFirstByte
	}

	remainder := payload[scriptEnd:]
	parts := strings.SplitN(string(remainder), "/", 2)
	return parts[0], nil
}
