// Package idcodec implements the base-63 encoding used to compact a
// symbol's 64-bit content hash into a short opaque identifier. Ported
// directly from the teacher's internal/encoding/base63.go — same
// alphabet, same zero-value convention — since that file has no
// dependencies of its own and the algorithm is reused verbatim, only
// renamed to this module's id vocabulary (symbol_uid rather than a
// generic SymbolID/FileID pair).
package idcodec

import (
	"errors"
)

const (
	base     = 63
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_"
)

var (
	ErrEmptyString = errors.New("idcodec: empty encoded string")
	ErrInvalidChar = errors.New("idcodec: invalid character in encoded string")
)

// Encode renders value as a base-63 string. Zero encodes to "A".
func Encode(value uint64) string {
	if value == 0 {
		return "A"
	}
	var buf [11]byte
	pos := len(buf)
	for value > 0 {
		pos--
		buf[pos] = alphabet[value%base]
		value /= base
	}
	return string(buf[pos:])
}

// Decode parses a base-63 string back to its uint64 value.
func Decode(encoded string) (uint64, error) {
	if encoded == "" {
		return 0, ErrEmptyString
	}
	var value uint64
	for _, c := range encoded {
		v, err := charToValue(c)
		if err != nil {
			return 0, err
		}
		value = value*base + v
	}
	return value, nil
}

func charToValue(c rune) (uint64, error) {
	switch {
	case c >= 'A' && c <= 'Z':
		return uint64(c - 'A'), nil
	case c >= 'a' && c <= 'z':
		return uint64(c-'a') + 26, nil
	case c >= '0' && c <= '9':
		return uint64(c-'0') + 52, nil
	case c == '_':
		return 62, nil
	default:
		return 0, ErrInvalidChar
	}
}
