// Package aead wraps a SPEED frame's sender, receiver, and payload fields
// with XChaCha20-Poly1305-IETF authenticated encryption (spec §4.B). A
// single random base nonce is stored per frame; each field is sealed under
// its own derived nonce so that no (key, nonce) pair is ever reused.
package aead

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the derived AEAD key length.
const KeySize = 32

// NonceSize is the XChaCha20-Poly1305 nonce length.
const NonceSize = chacha20poly1305.NonceSizeX

// ErrKeyTooShort is returned when fewer than KeySize bytes of key material
// are supplied to DeriveKey.
var ErrKeyTooShort = errors.New("aead: key material shorter than 32 bytes")

// ErrAuthFailed is returned on any AEAD tag mismatch: wrong key, tampered
// ciphertext, or a wrong nonce derivation.
var ErrAuthFailed = errors.New("aead: authentication failed")

// Fields identifies which frame field is being sealed/opened, fixing the
// per-field nonce-counter order mandated by spec §4.B: sender, receiver,
// then payload.
type Field uint64

const (
	FieldSender Field = iota + 1
	FieldReceiver
	FieldPayload
)

// DeriveKey hashes key material of at least KeySize bytes down to a
// 32-byte AEAD key with BLAKE2b-256, mirroring the original
// implementation's use of crypto_generichash for the same purpose.
func DeriveKey(raw []byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	if len(raw) < KeySize {
		return key, ErrKeyTooShort
	}
	sum := blake2b.Sum256(raw)
	copy(key[:], sum[:])
	return key, nil
}

// NewBaseNonce generates a fresh random 24-byte base nonce for one frame.
func NewBaseNonce() ([NonceSize]byte, error) {
	var n [NonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("aead: generate base nonce: %w", err)
	}
	return n, nil
}

// fieldNonce derives the effective per-field nonce from the frame's base
// nonce: the first 16 bytes are kept verbatim, the last 8 are overwritten
// with the little-endian field counter.
func fieldNonce(base [NonceSize]byte, field Field) [NonceSize]byte {
	var n [NonceSize]byte
	copy(n[:], base[:])
	ctr := uint64(field)
	for i := 0; i < 8; i++ {
		n[NonceSize-8+i] = byte(ctr >> (8 * i))
	}
	return n
}

// Seal encrypts plaintext for the given field under key and base, returning
// ciphertext||tag. An empty plaintext yields an empty ciphertext (fields
// that were never populated stay empty on the wire, as in the original
// implementation).
func Seal(key [KeySize]byte, base [NonceSize]byte, field Field, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("aead: construct cipher: %w", err)
	}
	nonce := fieldNonce(base, field)
	out := aead.Seal(nil, nonce[:], plaintext, nil)
	memguard.WipeBytes(nonce[:])
	return out, nil
}

// Open decrypts ciphertext for the given field under key and base. An empty
// ciphertext yields an empty plaintext. Any tag mismatch returns
// ErrAuthFailed; no partial plaintext is ever returned on failure.
func Open(key [KeySize]byte, base [NonceSize]byte, field Field, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("aead: construct cipher: %w", err)
	}
	nonce := fieldNonce(base, field)
	out, err := aead.Open(nil, nonce[:], ciphertext, nil)
	memguard.WipeBytes(nonce[:])
	if err != nil {
		return nil, ErrAuthFailed
	}
	return out, nil
}

// WipeKey zeroizes a derived key in place, for callers done with it.
func WipeKey(key *[KeySize]byte) {
	memguard.WipeBytes(key[:])
}

// SealedFrame holds the ciphertext for the three encrypted fields of a
// frame plus the base nonce under which they were sealed.
type SealedFrame struct {
	Base     [NonceSize]byte
	Sender   []byte
	Receiver []byte
	Payload  []byte
}

// SealFrame encrypts sender, receiver, and payload under a single fresh
// base nonce, consuming the field counter in the fixed order mandated by
// spec §4.B: sender, then receiver, then payload.
func SealFrame(key [KeySize]byte, sender, receiver, payload []byte) (*SealedFrame, error) {
	base, err := NewBaseNonce()
	if err != nil {
		return nil, err
	}
	sf := &SealedFrame{Base: base}
	if sf.Sender, err = Seal(key, base, FieldSender, sender); err != nil {
		return nil, err
	}
	if sf.Receiver, err = Seal(key, base, FieldReceiver, receiver); err != nil {
		return nil, err
	}
	if sf.Payload, err = Seal(key, base, FieldPayload, payload); err != nil {
		return nil, err
	}
	return sf, nil
}

// OpenSender decrypts only the sender field, for routing a file to its
// per-sender executor before the rest of the frame is decrypted.
func OpenSender(key [KeySize]byte, base [NonceSize]byte, senderCT []byte) ([]byte, error) {
	return Open(key, base, FieldSender, senderCT)
}

// OpenFrame decrypts all three fields under key and base, in the fixed
// sender, receiver, payload order, and returns their plaintexts.
func OpenFrame(key [KeySize]byte, base [NonceSize]byte, senderCT, receiverCT, payloadCT []byte) (sender, receiver, payload []byte, err error) {
	if sender, err = Open(key, base, FieldSender, senderCT); err != nil {
		return nil, nil, nil, err
	}
	if receiver, err = Open(key, base, FieldReceiver, receiverCT); err != nil {
		return nil, nil, nil, err
	}
	if payload, err = Open(key, base, FieldPayload, payloadCT); err != nil {
		return nil, nil, nil, err
	}
	return sender, receiver, payload, nil
}
