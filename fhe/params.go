// Package fhe implements the homomorphic crypto provider on top of the lattigo
// BGV scheme.
//
// Cleartexts are packed into plaintext slots:
//
//   - uint64 values occupy four 16-bit limbs, least significant first
//   - strings occupy one slot for the byte length followed by one slot per byte
//
// Homomorphic sums accumulate in the low limb, which holds values up to
// MaxCount before wrapping modulo the plaintext modulus.
//
// The ledger side only ever encrypts and adds, using the public key. Decryption
// needs the secret key and lives with the oracle.
package fhe

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

const (
	// PlaintextModulus is a 34-bit prime, 1 mod 2^14, enabling slot packing
	// for LogN up to 13.
	PlaintextModulus = 0x200038001

	// MaxCount is the largest value a counter slot can hold.
	MaxCount = PlaintextModulus - 1

	limbBits  = 16
	limbCount = 4
	limbMask  = 1<<limbBits - 1
)

// DefaultParametersLiteral gives 8192 slots. The ledger only adds ciphertexts,
// which consumes no levels, but noise grows with every addition: the 110-bit
// ciphertext modulus keeps a counter summed MaxCount times decryptable.
func DefaultParametersLiteral() bgv.ParametersLiteral {
	return bgv.ParametersLiteral{
		LogN:             13,
		LogQ:             []int{55, 55},
		LogP:             []int{54},
		PlaintextModulus: PlaintextModulus,
	}
}

// DefaultParameters instantiates DefaultParametersLiteral.
func DefaultParameters() (bgv.Parameters, error) {
	params, err := bgv.NewParametersFromLiteral(DefaultParametersLiteral())
	if err != nil {
		return bgv.Parameters{}, fmt.Errorf("bad HE parameters: %w", err)
	}
	return params, nil
}
