// Package interfaces defines core interfaces and types for the confidential loan
// ledger, separating interface definitions from implementations.
//
// # Ledger Types
//
// ApplicationID, EncryptedApplication and RevealedApplication describe the two
// twins of a loan application. PendingRequest correlates an oracle request id
// with a tagged Target (ApplicationTarget or CategoryTarget). CategoryCounter
// and RevealedCount hold the encrypted and revealed per-category aggregates.
//
// # Collaborators
//
// CryptoProvider: homomorphic operations over serialized ciphertexts.
//
// Oracle and DecryptionCallback: the two halves of the asynchronous decryption
// protocol. AttestationVerifier binds an oracle answer to its request id.
//
// StorageBackend: content-addressed ciphertext storage across multiple backend
// types (file, S3, IPFS, Vault, memory).
//
// LedgerStore: transactional persistence of the ledger tables and the event outbox.
//
// EventSink: external publication of ledger events.
//
// # Errors
//
// Every rejected operation returns one of the sentinel errors declared in
// errors.go, wrapped with context. Use errors.Is to distinguish them.
package interfaces
