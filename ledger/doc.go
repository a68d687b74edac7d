/*
Package ledger implements the confidential loan-application ledger.

Applicants submit three ciphertexts per application (farm data, yield
prediction, recommended loan). The ledger never sees plaintexts on its own:
revealing an application means asking an external oracle to decrypt the
ciphertexts and waiting for a proven callback.

# Lifecycle

  - Submit stores the ciphertexts and an empty revealed twin.
  - RequestDecryption (applicant only) hands the three handles to the oracle
    and correlates the returned request id with the application.
  - ApplyDecryption (oracle only) checks correlation, revealed state, proof and
    payload in that order, then writes the revealed twin, increments the
    encrypted counter of the revealed yield category and appends a Decrypted
    event, all in one transaction.

# Counters

Each distinct yield prediction has an encrypted counter updated with
homomorphic additions. RequestCounterDecryption reveals a counter's current
value; the result is stored as a RevealedCount tagged with the counter version
it was taken at.

# Pending requests

Correlation entries expire after Config.PendingTTL. Until then a repeated
callback is answered with ErrAlreadyRevealed; afterwards with
ErrUnknownRequest. Run evicts expired entries periodically.
*/
package ledger
