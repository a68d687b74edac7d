package fhe

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var errValueTooLong = errors.New("value does not fit in the plaintext slots")

func encodeUint64(v uint64, slots int) []uint64 {
	vec := make([]uint64, slots)
	for i := 0; i < limbCount; i++ {
		vec[i] = (v >> (limbBits * i)) & limbMask
	}
	return vec
}

// decodeUint64 tolerates a low limb above 2^16, which appears after
// homomorphic additions (a counter accumulates in limb 0 up to MaxCount).
func decodeUint64(vec []uint64) (uint64, error) {
	if len(vec) < limbCount {
		return 0, fmt.Errorf("short plaintext: %d slots", len(vec))
	}
	var v uint64
	for i := limbCount - 1; i >= 0; i-- {
		v = v<<limbBits + vec[i]
	}
	return v, nil
}

func encodeString(s string, slots int) ([]uint64, error) {
	if !utf8.ValidString(s) {
		return nil, errors.New("string is not valid UTF-8")
	}
	if strings.IndexByte(s, 0) >= 0 {
		return nil, errors.New("string contains a NUL byte")
	}
	if len(s) > slots-1 || len(s) >= PlaintextModulus {
		return nil, errValueTooLong
	}
	vec := make([]uint64, slots)
	vec[0] = uint64(len(s))
	for i := 0; i < len(s); i++ {
		vec[i+1] = uint64(s[i])
	}
	return vec, nil
}

func decodeString(vec []uint64) (string, error) {
	if len(vec) == 0 {
		return "", errors.New("empty plaintext")
	}
	n := vec[0]
	if n > uint64(len(vec)-1) {
		return "", fmt.Errorf("string length %d exceeds plaintext", n)
	}
	buf := make([]byte, n)
	for i := range buf {
		b := vec[i+1]
		if b > 0xff {
			return "", fmt.Errorf("slot %d holds %d, not a byte", i+1, b)
		}
		buf[i] = byte(b)
	}
	if !utf8.Valid(buf) {
		return "", errors.New("decrypted string is not valid UTF-8")
	}
	return string(buf), nil
}
