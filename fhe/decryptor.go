package fhe

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// Decryptor recovers cleartexts. Only the oracle holds one.
type Decryptor struct {
	mu        sync.Mutex
	params    bgv.Parameters
	encoder   *bgv.Encoder
	decryptor *rlwe.Decryptor
}

func NewDecryptor(params bgv.Parameters, sk *rlwe.SecretKey) (*Decryptor, error) {
	if sk == nil {
		return nil, errors.New("secret key is required")
	}
	return &Decryptor{
		params:    params,
		encoder:   bgv.NewEncoder(params),
		decryptor: bgv.NewDecryptor(params, sk),
	}, nil
}

func (d *Decryptor) slots(blob []byte) ([]uint64, error) {
	ct, err := parseCiphertext(d.params, blob)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	pt := bgv.NewPlaintext(d.params, ct.Level())
	d.decryptor.Decrypt(ct, pt)

	vec := make([]uint64, d.params.MaxSlots())
	if err := d.encoder.Decode(pt, vec); err != nil {
		return nil, fmt.Errorf("decode plaintext: %w", err)
	}
	return vec, nil
}

func (d *Decryptor) DecryptUint64(blob []byte) (uint64, error) {
	vec, err := d.slots(blob)
	if err != nil {
		return 0, err
	}
	return decodeUint64(vec)
}

func (d *Decryptor) DecryptString(blob []byte) (string, error) {
	vec, err := d.slots(blob)
	if err != nil {
		return "", err
	}
	return decodeString(vec)
}

// Decrypt returns a string or uint64 depending on vt.
func (d *Decryptor) Decrypt(blob []byte, vt interfaces.ValueType) (any, error) {
	switch vt {
	case interfaces.StringValue:
		return d.DecryptString(blob)
	case interfaces.Uint64Value:
		return d.DecryptUint64(blob)
	default:
		return nil, fmt.Errorf("unsupported value type %v", vt)
	}
}
