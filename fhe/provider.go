package fhe

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// Provider encrypts and adds BGV ciphertexts under a public key.
// Lattigo encoders and evaluators keep scratch buffers, so calls are serialized.
type Provider struct {
	mu        sync.Mutex
	params    bgv.Parameters
	encoder   *bgv.Encoder
	encryptor *rlwe.Encryptor
	evaluator *bgv.Evaluator
}

// NewProvider creates a provider for params and the service public key.
func NewProvider(params bgv.Parameters, pk *rlwe.PublicKey) (*Provider, error) {
	if pk == nil {
		return nil, errors.New("public key is required")
	}
	return &Provider{
		params:    params,
		encoder:   bgv.NewEncoder(params),
		encryptor: bgv.NewEncryptor(params, pk),
		evaluator: bgv.NewEvaluator(params, nil),
	}, nil
}

// Parameters returns the scheme parameters.
func (p *Provider) Parameters() bgv.Parameters {
	return p.params
}

// EncryptUint64 returns a serialized ciphertext of v.
func (p *Provider) EncryptUint64(v uint64) ([]byte, error) {
	return p.encrypt(encodeUint64(v, p.params.MaxSlots()))
}

// EncryptString returns a serialized ciphertext of s.
func (p *Provider) EncryptString(s string) ([]byte, error) {
	vec, err := encodeString(s, p.params.MaxSlots())
	if err != nil {
		return nil, err
	}
	return p.encrypt(vec)
}

func (p *Provider) encrypt(vec []uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pt := bgv.NewPlaintext(p.params, p.params.MaxLevel())
	if err := p.encoder.Encode(vec, pt); err != nil {
		return nil, fmt.Errorf("encode plaintext: %w", err)
	}

	ct := bgv.NewCiphertext(p.params, 1, p.params.MaxLevel())
	if err := p.encryptor.Encrypt(pt, ct); err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	return ct.MarshalBinary()
}

// Add returns a serialized ciphertext of a+b.
func (p *Provider) Add(a, b []byte) ([]byte, error) {
	ctA, err := p.parse(a)
	if err != nil {
		return nil, fmt.Errorf("left operand: %w", err)
	}
	ctB, err := p.parse(b)
	if err != nil {
		return nil, fmt.Errorf("right operand: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	level := min(ctA.Level(), ctB.Level())
	out := bgv.NewCiphertext(p.params, 1, level)
	if err := p.evaluator.Add(ctA, ctB, out); err != nil {
		return nil, fmt.Errorf("homomorphic add: %w", err)
	}

	return out.MarshalBinary()
}

// MaxCount is the largest sum a counter ciphertext holds without wrapping.
func (p *Provider) MaxCount() uint64 {
	return MaxCount
}

// Validate checks that blob is a degree-1 ciphertext for these parameters.
func (p *Provider) Validate(blob []byte) error {
	_, err := p.parse(blob)
	return err
}

func (p *Provider) parse(blob []byte) (*rlwe.Ciphertext, error) {
	return parseCiphertext(p.params, blob)
}

func parseCiphertext(params bgv.Parameters, blob []byte) (*rlwe.Ciphertext, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty ciphertext")
	}
	ct := rlwe.NewCiphertext(params, 1)
	if err := ct.UnmarshalBinary(blob); err != nil {
		return nil, fmt.Errorf("invalid ciphertext: %w", err)
	}
	if ct.Degree() != 1 {
		return nil, fmt.Errorf("invalid ciphertext degree %d", ct.Degree())
	}
	if ct.Level() > params.MaxLevel() {
		return nil, errors.New("ciphertext does not match the scheme parameters")
	}
	return ct, nil
}
