package ekho

import (
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// envelope is the process-wide AEAD used to seal and open every ARQ
// frame before/after it touches a Carrier. A single key and a fixed,
// all-zero nonce are used for every packet: replay protection and
// ordering are the ARQ layer's job (duplicate sequence numbers are
// discarded there), so the envelope only needs to authenticate the
// frame and make it indistinguishable from random bytes to an
// observer who lacks the key. This is deliberately NOT a
// general-purpose AEAD usage pattern: every frame is sealed under the
// same key and the same nonce, and ChaCha20-Poly1305 gives its
// confidentiality and forgery-resistance guarantees only when a nonce
// is never reused under one key. Do not reuse this envelope for
// anything beyond camouflaging ARQ frames.
type envelope struct {
	aead  cipherAEAD
	nonce [chacha20poly1305.NonceSize]byte
}

// cipherAEAD is the subset of cipher.AEAD the envelope needs; narrowed
// so tests can swap in a fake without pulling in the crypto package.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	Overhead() int
}

// newEnvelope builds the envelope from a 32-byte key. The nonce is
// fixed at all-zero: replay protection is the ARQ layer's job (it
// discards duplicate sequence numbers), so the AEAD only needs to
// authenticate, not provide per-message nonce uniqueness.
func newEnvelope(key [chacha20poly1305.KeySize]byte) (*envelope, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "ekho: construct AEAD")
	}
	return &envelope{aead: aead}, nil
}

// seal encrypts plaintext in place, appending the authentication tag,
// and returns the resulting ciphertext (sharing plaintext's backing
// array where capacity allows).
func (e *envelope) seal(plaintext []byte) []byte {
	return e.aead.Seal(plaintext[:0], e.nonce[:], plaintext, nil)
}

// open authenticates and decrypts ciphertext into a new buffer,
// leaving ciphertext untouched even on failure. A non-nil error means
// the frame is not one of ours — the caller bounces it rather than
// dropping it, per the camouflage property.
func (e *envelope) open(ciphertext []byte) ([]byte, error) {
	plain, err := e.aead.Open(nil, e.nonce[:], ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "ekho: open envelope")
	}
	return plain, nil
}

// overhead is the number of bytes seal adds beyond the plaintext
// length (the Poly1305 tag).
func (e *envelope) overhead() int { return e.aead.Overhead() }

// generateKey returns a fresh random 32-byte key. The tests use it to
// build a throwaway envelope; nothing under cmd/ calls it.
func generateKey() ([chacha20poly1305.KeySize]byte, error) {
	var key [chacha20poly1305.KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return key, errors.Wrap(err, "ekho: generate key")
	}
	return key, nil
}
