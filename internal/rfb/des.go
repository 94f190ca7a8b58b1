package rfb

import "crypto/des"

// encryptChallenge computes the VNC authentication response: the
// 16-byte server challenge encrypted with single DES in ECB mode under
// a key derived from the password. The legacy derivation takes the
// first 8 password bytes (ISO-8859-1), reverses the bit order of each
// byte, and null-pads to 8 bytes.
func encryptChallenge(password string, challenge []byte) ([]byte, error) {
	if len(challenge) != 16 {
		return nil, protoErrf("challenge length %d, want 16", len(challenge))
	}

	key := make([]byte, 8)
	for i, b := range latin1Bytes(password, 8) {
		key[i] = reverseBits(b)
	}

	block, err := des.NewCipher(key)
	if err != nil {
		return nil, err
	}

	response := make([]byte, 16)
	block.Encrypt(response[0:8], challenge[0:8])
	block.Encrypt(response[8:16], challenge[8:16])
	return response, nil
}

// latin1Bytes converts s to ISO-8859-1, replacing unmappable runes with
// '?', and truncates to at most max bytes.
func latin1Bytes(s string, max int) []byte {
	out := make([]byte, 0, max)
	for _, r := range s {
		if len(out) == max {
			break
		}
		if r > 0xFF {
			r = '?'
		}
		out = append(out, byte(r))
	}
	return out
}

// reverseBits mirrors the bit order of one byte (MSB becomes LSB).
func reverseBits(b byte) byte {
	var out byte
	for i := 0; i < 8; i++ {
		out = out<<1 | b&1
		b >>= 1
	}
	return out
}
