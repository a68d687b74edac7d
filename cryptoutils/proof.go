package cryptoutils

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

// Proof envelopes start with one type byte followed by the proof body.
const (
	ProofTypeSignature byte = 0x01
	ProofTypeDCAP      byte = 0x02
)

// Prover produces proofs binding cleartexts to a request id.
type Prover interface {
	Prove(requestID interfaces.RequestID, cleartexts []byte) ([]byte, error)
}

// DecryptionDigest is keccak256(abi.encode(string requestId, bytes cleartexts)).
func DecryptionDigest(requestID interfaces.RequestID, cleartexts []byte) (common.Hash, error) {
	packed, err := abi.Arguments{{Type: stringTy}, {Type: bytesTy}}.Pack(string(requestID), cleartexts)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// SignatureProver signs decryption digests with the oracle's secp256k1 key.
type SignatureProver struct {
	key *ecdsa.PrivateKey
}

func NewSignatureProver(key *ecdsa.PrivateKey) *SignatureProver {
	return &SignatureProver{key: key}
}

// Address is the identity the ledger must register as its oracle.
func (p *SignatureProver) Address() common.Address {
	return crypto.PubkeyToAddress(p.key.PublicKey)
}

func (p *SignatureProver) Prove(requestID interfaces.RequestID, cleartexts []byte) ([]byte, error) {
	digest, err := DecryptionDigest(requestID, cleartexts)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest.Bytes(), p.key)
	if err != nil {
		return nil, fmt.Errorf("signing decryption digest: %w", err)
	}
	return append([]byte{ProofTypeSignature}, sig...), nil
}

// SignatureVerifier accepts proofs signed by one oracle key.
type SignatureVerifier struct {
	Signer common.Address
}

func (v *SignatureVerifier) Verify(requestID interfaces.RequestID, cleartexts []byte, proof []byte) error {
	if len(proof) != 1+crypto.SignatureLength || proof[0] != ProofTypeSignature {
		return fmt.Errorf("%w: not a signature proof", interfaces.ErrInvalidProof)
	}

	digest, err := DecryptionDigest(requestID, cleartexts)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidProof, err)
	}

	pubkey, err := crypto.SigToPub(digest.Bytes(), proof[1:])
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidProof, err)
	}

	if signer := crypto.PubkeyToAddress(*pubkey); signer != v.Signer {
		return fmt.Errorf("%w: signed by %s, expected %s", interfaces.ErrInvalidProof, signer.Hex(), v.Signer.Hex())
	}
	return nil
}

// ProofVerifier dispatches on the proof type byte. Nil verifiers reject their type.
type ProofVerifier struct {
	Signature *SignatureVerifier
	DCAP      *DCAPVerifier
}

func (v *ProofVerifier) Verify(requestID interfaces.RequestID, cleartexts []byte, proof []byte) error {
	if len(proof) == 0 {
		return fmt.Errorf("%w: empty proof", interfaces.ErrInvalidProof)
	}

	switch {
	case proof[0] == ProofTypeSignature && v.Signature != nil:
		return v.Signature.Verify(requestID, cleartexts, proof)
	case proof[0] == ProofTypeDCAP && v.DCAP != nil:
		return v.DCAP.Verify(requestID, cleartexts, proof)
	default:
		return fmt.Errorf("%w: unsupported proof type 0x%02x", interfaces.ErrInvalidProof, proof[0])
	}
}

// ParsePrivateKey decodes a hex secp256k1 key, with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return nil, errors.New("empty private key")
	}
	if len(hexKey) > 1 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	return crypto.HexToECDSA(hexKey)
}
