// Package cryptoutils holds the ledger's wire-level cryptography: the ABI
// cleartext codec, decryption proofs (secp256k1 signatures and TDX DCAP
// quotes) and signed HTTP requests carrying caller identities.
package cryptoutils
