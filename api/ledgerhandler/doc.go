/*
Package ledgerhandler exposes the ledger over HTTP and provides a matching client.

Reads are public. Submissions, decryption requests and oracle callbacks must
carry an X-Ledger-Signature header produced by cryptoutils.SignRequest; the
recovered address is the caller identity passed to the ledger.

Ledger errors map to status codes as follows:

	ErrNotFound, ErrCategoryNotFound, ErrUnknownRequest   404
	ErrAlreadyRevealed                                    409
	ErrMalformedPayload                                   422
	ErrInvalidProof, ErrInvalidCiphertext                 400
	ErrUnauthorized                                       403
	oracle.ErrQueueFull                                   503
*/
package ledgerhandler
