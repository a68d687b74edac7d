/*
Package oracle implements the decryption oracle and the ledger's client for it.

The Relayer holds the FHE secret key. It accepts ciphertext bundles, hands out
uuid request ids immediately, and decrypts in a worker pool. Each result is
ABI-encoded in request order, proven with the configured Prover and delivered
to the callback target: in-process through LocalDeliverer, or as a signed HTTP
POST through HTTPDeliverer. Transient delivery failures are retried with
exponential backoff; ledger rejections are not.

Client talks to remote relayers over HTTP; ResolveRelayers finds them through
DNS SRV records.
*/
package oracle
