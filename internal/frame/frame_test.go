package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleFrame() *Frame {
	f := &Frame{
		Version:   CurrentVersion,
		Type:      TypeMSG,
		SenderPID: 4242,
		Timestamp: 1700000000,
		SeqNum:    7,
		Sender:    []byte("alice-ciphertext"),
		Receiver:  []byte("bob-ciphertext"),
		Payload:   []byte("hi-ciphertext-and-tag"),
	}
	for i := range f.Nonce {
		f.Nonce[i] = byte(i)
	}
	return f
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleFrame()
	got, err := Decode(Encode(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecodeEmptyFields(t *testing.T) {
	f := sampleFrame()
	f.Sender = nil
	f.Receiver = nil
	f.Payload = nil
	got, err := Decode(Encode(f))
	require.NoError(t, err)
	require.Empty(t, got.Sender)
	require.Empty(t, got.Receiver)
	require.Empty(t, got.Payload)
}

func TestDecodeShortReadIsMalformed(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeUnknownTypeIsMalformed(t *testing.T) {
	b := Encode(sampleFrame())
	b[1] = 0xFF // type byte
	_, err := Decode(b)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeOversizedLengthIsMalformed(t *testing.T) {
	b := Encode(sampleFrame())
	// Corrupt the sender length prefix (offset 22, per spec §6) to an oversized value.
	b[22] = 0xFF
	b[23] = 0xFF
	b[24] = 0xFF
	b[25] = 0xFF
	_, err := Decode(b)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeTruncatedPayloadIsMalformed(t *testing.T) {
	b := Encode(sampleFrame())
	_, err := Decode(b[:len(b)-3])
	require.ErrorIs(t, err, ErrMalformed)
}
