// File: pump/crypto.go
// Author: momentics <momentics@gmail.com>
//
// Handshake frame sealing. The 16-byte shared secret is expanded into a
// ChaCha20-Poly1305 key; the client's destination request travels as one
// sealed frame: a 2-byte big-endian body length, then nonce||ciphertext.

package pump

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// maxFrame caps the handshake frame body. Anything larger is a protocol
// violation, not a slow client.
const maxFrame = 1024

var hkdfInfo = []byte("pumpd handshake frame v1")

// frameAEAD expands the shared secret into the handshake cipher.
func frameAEAD(secret []byte) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("expand secret: %w", err)
	}
	return chacha20poly1305.New(key)
}

// sealFrame produces the full wire frame (length prefix included) for the
// given plaintext under a fresh random nonce.
func sealFrame(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	body := aead.Seal(nonce, nonce, plaintext, nil)
	if len(body) > maxFrame {
		return nil, fmt.Errorf("frame body %d exceeds limit %d", len(body), maxFrame)
	}
	frame := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(frame, uint16(len(body)))
	copy(frame[2:], body)
	return frame, nil
}

// openFrame authenticates and decrypts a frame body (nonce||ciphertext).
func openFrame(aead cipher.AEAD, body []byte) ([]byte, error) {
	ns := aead.NonceSize()
	if len(body) < ns+aead.Overhead() {
		return nil, fmt.Errorf("frame body too short: %d bytes", len(body))
	}
	plaintext, err := aead.Open(nil, body[:ns], body[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("frame rejected: %w", err)
	}
	return plaintext, nil
}

// SealRequest builds the client-side handshake frame asking the server to
// pair this connection with addr. Exported for clients and tests.
func SealRequest(secret []byte, addr string) ([]byte, error) {
	aead, err := frameAEAD(secret)
	if err != nil {
		return nil, err
	}
	return sealFrame(aead, []byte(addr))
}
