// Package storage provides content-addressed ciphertext storage with pluggable backends.
//
// Every ciphertext the ledger references (application fields and category
// counters) is stored as an opaque blob identified by the SHA-256 hash of its
// bytes. That identifier is the ciphertext handle kept in the ledger tables.
//
//   - File system storage for local deployments
//   - S3-compatible storage for cloud deployments
//   - IPFS storage through the node's mutable file system
//   - Vault KV v2 storage with token authentication
//   - In-memory storage for development and tests
//
// # Storage URI Format
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
//   - file:///var/lib/loan-ledger/ciphertexts/
//   - s3://ACCESS:SECRET@bucket-name/prefix/?region=us-west-2&endpoint=minio:9000
//   - ipfs://127.0.0.1:5001/loan-ledger?timeout=30s
//   - vault://TOKEN@vault.example.com:8200/secret/loan-ledger
//   - memory://dev
//
// Application and counter ciphertexts are kept in separate namespaces.
//
// # Multi-Backend Example
//
//	factory := storage.NewStorageBackendFactory(logger)
//	backend, err := factory.FromURIs([]string{
//	    "file:///var/lib/loan-ledger/",
//	    "s3://bucket/ciphertexts/?region=eu-west-1",
//	})
//
// Stores go to every available backend; fetches return the first copy whose
// hash matches the requested ID.
package storage
