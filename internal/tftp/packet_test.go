package tftp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		opcode   Opcode
		blockNum uint16
		filename string
		mode     string
		data     []byte
	}{
		{"rrq", OpRRQ, 0, "boot.img", "octet", nil},
		{"wrq", OpWRQ, 0, "boot.img", "netascii", nil},
		{"data-full", OpDATA, 42, "", "", make([]byte, BlockSize)},
		{"data-short", OpDATA, 1, "", "", []byte("hello")},
		{"data-empty", OpDATA, 7, "", "", []byte{}},
		{"ack", OpACK, 65535, "", "", nil},
		{"error", OpERROR, uint16(ErrNotFound), "", "", []byte("not found")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf [MaxMsgSize]byte
			n, err := Encode(buf[:], tc.opcode, tc.blockNum, tc.filename, tc.mode, tc.data)
			require.NoError(t, err)

			opcode, err := DecodeOpcode(buf[:n])
			require.NoError(t, err)
			require.Equal(t, tc.opcode, opcode)

			switch tc.opcode {
			case OpDATA:
				blockNum, err := DecodeBlockNum(buf[:n])
				require.NoError(t, err)
				require.Equal(t, tc.blockNum, blockNum)

				data, err := DecodeData(buf[:n])
				require.NoError(t, err)
				require.Equal(t, tc.data, data)

			case OpACK:
				blockNum, err := DecodeBlockNum(buf[:n])
				require.NoError(t, err)
				require.Equal(t, tc.blockNum, blockNum)

			case OpERROR:
				code, text, err := DecodeError(buf[:n])
				require.NoError(t, err)
				require.Equal(t, ErrorCode(tc.blockNum), code)
				require.Equal(t, string(tc.data), text)
			}
		})
	}
}

func TestEncodeLengthBound(t *testing.T) {
	var buf [MaxMsgSize]byte

	// DATA: exactly BlockSize succeeds, one byte more fails.
	_, err := Encode(buf[:], OpDATA, 1, "", "", make([]byte, BlockSize))
	require.NoError(t, err)

	_, err = Encode(buf[:], OpDATA, 1, "", "", make([]byte, BlockSize+1))
	require.ErrorIs(t, err, ErrEncodingTooLarge)

	// RRQ: filename+mode must fit in the 516-byte envelope.
	longName := strings.Repeat("x", MaxMsgSize)
	_, err = Encode(buf[:], OpRRQ, 0, longName, "octet", nil)
	require.ErrorIs(t, err, ErrEncodingTooLarge)

	// ERROR: message length bound.
	_, err = Encode(buf[:], OpERROR, 0, "", "", make([]byte, MaxMsgSize))
	require.ErrorIs(t, err, ErrEncodingTooLarge)
}

func TestDecodeOpcodeMalformed(t *testing.T) {
	for length := 0; length < 2; length++ {
		_, err := DecodeOpcode(make([]byte, length))
		require.ErrorIs(t, err, ErrMalformed)
	}
}

func TestDecodeBlockNumMalformed(t *testing.T) {
	for length := 0; length < 4; length++ {
		_, err := DecodeBlockNum(make([]byte, length))
		require.ErrorIs(t, err, ErrMalformed)
	}
}

func TestDecodeErrorRequiresNUL(t *testing.T) {
	// No NUL anywhere after offset 4: malformed.
	buf := append([]byte{0, 5, 0, 1}, []byte("no terminator")...)
	_, _, err := DecodeError(buf)
	require.ErrorIs(t, err, ErrMalformed)

	// NUL present: decodes cleanly.
	buf = append([]byte{0, 5, 0, 1}, append([]byte("not found"), 0)...)
	code, text, err := DecodeError(buf)
	require.NoError(t, err)
	require.Equal(t, ErrNotFound, code)
	require.Equal(t, "not found", text)
}

func TestDecodeDataZeroLengthIsLegal(t *testing.T) {
	buf := []byte{0, 3, 0, 9}
	data, err := DecodeData(buf)
	require.NoError(t, err)
	require.Empty(t, data)
}
