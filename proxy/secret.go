// File: proxy/secret.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package proxy

import (
	"crypto/sha256"
	"encoding/hex"
)

// secretLen is the fixed key length handed to the pump engine.
const secretLen = 16

// DeriveSecret computes the process-wide shared secret from the operator
// seed: SHA-256 of the seed, truncated to 16 bytes. Every pump receives the
// same secret for the pre-shared-key challenge.
func DeriveSecret(seed string) []byte {
	sum := sha256.Sum256([]byte(seed))
	return sum[:secretLen]
}

// SecretHex renders the secret as lowercase hex so operators can verify that
// instances agree on their configuration.
func SecretHex(secret []byte) string {
	return hex.EncodeToString(secret)
}
