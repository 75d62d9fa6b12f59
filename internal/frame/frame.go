// Package frame implements the on-disk binary layout for one SPEED message:
// encode/decode of the fixed header plus length-prefixed sender, receiver,
// nonce, and payload fields. See spec §4.A / §6 for the exact byte layout.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

// Type identifies the kind of frame carried on the wire.
type Type uint8

const (
	TypeMSG Type = iota
	TypeCONREQ
	TypeCONRES
	TypeINVOKEMETHOD
	TypeEXITNOTIF
	TypePING
	TypePONG
)

func (t Type) String() string {
	switch t {
	case TypeMSG:
		return "MSG"
	case TypeCONREQ:
		return "CON_REQ"
	case TypeCONRES:
		return "CON_RES"
	case TypeINVOKEMETHOD:
		return "INVOKE_METHOD"
	case TypeEXITNOTIF:
		return "EXIT_NOTIF"
	case TypePING:
		return "PING"
	case TypePONG:
		return "PONG"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// CurrentVersion is the only version byte this implementation emits.
const CurrentVersion uint8 = 1

// NonceSize is the length of the AEAD base nonce carried in the header.
const NonceSize = 24

// maxFieldLength bounds any length-prefixed field to guard against a
// corrupt or adversarial length prefix (spec §4.A: ">16 MiB is malformed").
const maxFieldLength = 16 << 20

// ErrMalformed is returned by Decode on a short read, an oversized length
// prefix, or an unrecognized type byte.
var ErrMalformed = errors.New("frame: malformed")

// Frame is the on-disk logical record. Sender, Receiver, and Payload hold
// ciphertext bytes as read from or about to be written to disk; all other
// fields are cleartext.
type Frame struct {
	Version    uint8
	Type       Type
	SenderPID  uint32
	Timestamp  uint64
	SeqNum     uint64
	Sender     []byte // ciphertext
	Receiver   []byte // ciphertext
	Nonce      [NonceSize]byte
	Payload    []byte // ciphertext (+ AEAD tag)
}

// Encode serializes f into its on-disk byte representation.
func Encode(f *Frame) []byte {
	size := 1 + 1 + 4 + 8 + 8 +
		4 + len(f.Sender) +
		4 + len(f.Receiver) +
		NonceSize +
		4 + len(f.Payload)

	buf := make([]byte, size)
	off := 0

	buf[off] = f.Version
	off++
	buf[off] = uint8(f.Type)
	off++
	binary.BigEndian.PutUint32(buf[off:], f.SenderPID)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], f.Timestamp)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], f.SeqNum)
	off += 8

	off = putLengthPrefixed(buf, off, f.Sender)
	off = putLengthPrefixed(buf, off, f.Receiver)

	copy(buf[off:], f.Nonce[:])
	off += NonceSize

	off = putLengthPrefixed(buf, off, f.Payload)

	return buf[:off]
}

func putLengthPrefixed(buf []byte, off int, field []byte) int {
	binary.BigEndian.PutUint32(buf[off:], uint32(len(field)))
	off += 4
	off += copy(buf[off:], field)
	return off
}

// Decode parses b into a Frame. It fails with ErrMalformed on any short
// read, an oversized length prefix, or an unrecognized type byte.
func Decode(b []byte) (*Frame, error) {
	const fixedHeaderSize = 1 + 1 + 4 + 8 + 8
	if len(b) < fixedHeaderSize {
		return nil, fmt.Errorf("%w: short header", ErrMalformed)
	}

	f := &Frame{}
	off := 0

	f.Version = b[off]
	off++

	typ := Type(b[off])
	off++
	if typ > TypePONG {
		return nil, fmt.Errorf("%w: unknown type %d", ErrMalformed, typ)
	}
	f.Type = typ

	f.SenderPID = binary.BigEndian.Uint32(b[off:])
	off += 4
	f.Timestamp = binary.BigEndian.Uint64(b[off:])
	off += 8
	f.SeqNum = binary.BigEndian.Uint64(b[off:])
	off += 8

	var err error
	f.Sender, off, err = takeLengthPrefixed(b, off)
	if err != nil {
		return nil, err
	}
	f.Receiver, off, err = takeLengthPrefixed(b, off)
	if err != nil {
		return nil, err
	}

	if len(b)-off < NonceSize {
		return nil, fmt.Errorf("%w: short nonce", ErrMalformed)
	}
	copy(f.Nonce[:], b[off:off+NonceSize])
	off += NonceSize

	f.Payload, off, err = takeLengthPrefixed(b, off)
	if err != nil {
		return nil, err
	}

	return f, nil
}

func takeLengthPrefixed(b []byte, off int) ([]byte, int, error) {
	if len(b)-off < 4 {
		return nil, 0, fmt.Errorf("%w: short length prefix", ErrMalformed)
	}
	n := binary.BigEndian.Uint32(b[off:])
	off += 4
	if n > maxFieldLength {
		return nil, 0, fmt.Errorf("%w: field length %d exceeds max", ErrMalformed, n)
	}
	if uint32(len(b)-off) < n {
		return nil, 0, fmt.Errorf("%w: short field body", ErrMalformed)
	}
	field := make([]byte, n)
	copy(field, b[off:off+int(n)])
	off += int(n)
	return field, off, nil
}

// ErrInvalidMessage is returned by Validate when sender/receiver fail the
// basic sanity checks applied before every encrypt and after every decrypt.
var ErrInvalidMessage = errors.New("frame: invalid message")

// Validate checks the decrypted sender and receiver names of a frame about
// to be sent or just received: neither may be empty, and a process may
// never be its own receiver. Mirrors the original implementation's
// validate_message_sent/validate_message_recieved guard that runs on
// every encrypt and every decrypt.
func Validate(sender, receiver string) error {
	if sender == "" {
		return fmt.Errorf("%w: empty sender", ErrInvalidMessage)
	}
	if receiver == "" {
		return fmt.Errorf("%w: empty receiver", ErrInvalidMessage)
	}
	if sender == receiver {
		return fmt.Errorf("%w: sender equals receiver (%q)", ErrInvalidMessage, sender)
	}
	return nil
}

// LogFields emits a debug-level dump of f's cleartext fields, mirroring the
// original implementation's diagnostic dump on validation failure.
func (f *Frame) LogFields(logger *log.Logger) {
	logger.Debug("frame",
		"version", f.Version,
		"type", f.Type,
		"sender_pid", f.SenderPID,
		"timestamp", f.Timestamp,
		"seq_num", f.SeqNum,
		"sender_ct_len", len(f.Sender),
		"receiver_ct_len", len(f.Receiver),
		"payload_ct_len", len(f.Payload),
	)
}
