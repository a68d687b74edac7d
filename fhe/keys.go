package fhe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
	"golang.org/x/crypto/argon2"
)

const (
	sealSaltSize = 16
	sealMagic    = "LLSK1"
)

// GenerateKeys samples a fresh key pair.
func GenerateKeys(params bgv.Parameters) (*rlwe.SecretKey, *rlwe.PublicKey) {
	return rlwe.NewKeyGenerator(params).GenKeyPairNew()
}

// ParsePublicKey decodes a public key produced by pk.MarshalBinary.
func ParsePublicKey(params bgv.Parameters, data []byte) (*rlwe.PublicKey, error) {
	pk := rlwe.NewPublicKey(params)
	if err := pk.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return pk, nil
}

// SealSecretKey encrypts sk at rest with a passphrase.
// The key is derived with Argon2id and the blob is AES-256-GCM sealed.
//
// Format: [magic][salt (16 bytes)][nonce (12 bytes)][ciphertext]
func SealSecretKey(sk *rlwe.SecretKey, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}

	raw, err := sk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal secret key: %w", err)
	}

	salt := make([]byte, sealSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := sealAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(sealMagic)+len(salt)+len(nonce)+len(raw)+aead.Overhead())
	out = append(out, sealMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, raw, []byte(sealMagic)), nil
}

// OpenSecretKey reverses SealSecretKey.
func OpenSecretKey(params bgv.Parameters, sealed []byte, passphrase []byte) (*rlwe.SecretKey, error) {
	if len(sealed) < len(sealMagic)+sealSaltSize || string(sealed[:len(sealMagic)]) != sealMagic {
		return nil, errors.New("not a sealed secret key")
	}
	rest := sealed[len(sealMagic):]
	salt, rest := rest[:sealSaltSize], rest[sealSaltSize:]

	aead, err := sealAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if len(rest) < aead.NonceSize() {
		return nil, errors.New("sealed secret key too short")
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]

	raw, err := aead.Open(nil, nonce, ciphertext, []byte(sealMagic))
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed secret key: %w", err)
	}

	sk := rlwe.NewSecretKey(params)
	if err := sk.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	return sk, nil
}

func sealAEAD(passphrase, salt []byte) (cipher.AEAD, error) {
	// time=1, memory=64MiB, threads=4, keyLen=32
	key := argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}
