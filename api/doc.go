/*
Package api holds the wire types and server configuration shared by the HTTP
services of the ledger.

Subpackages:

  - ledgerhandler - the ledger API and its client
  - relayerhandler - the relayer intake endpoint

Request and response bodies are JSON. Ciphertexts travel as base64 strings in
request bodies and are referenced by their content id once stored.
*/
package api
