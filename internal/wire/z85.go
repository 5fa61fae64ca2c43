package wire

import "github.com/GriffinCanCode/Courier/internal/errs"

// Z85 armours binary key material as printable text: every 4 bytes become 5
// characters of an 85-symbol alphabet.

const z85Alphabet = "0123456789" +
	"abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	".-:+=^!/*?&<>()[]{}@%$#"

var z85Decode [256]byte

func init() {
	for i := range z85Decode {
		z85Decode[i] = 0xFF
	}
	for i := 0; i < len(z85Alphabet); i++ {
		z85Decode[z85Alphabet[i]] = byte(i)
	}
}

// Z85Encode encodes data, whose length must be a multiple of 4.
func Z85Encode(data []byte) (string, error) {
	if len(data)%4 != 0 {
		return "", errs.ErrInval
	}
	out := make([]byte, 0, len(data)/4*5)
	for i := 0; i < len(data); i += 4 {
		v := uint32(data[i])<<24 | uint32(data[i+1])<<16 |
			uint32(data[i+2])<<8 | uint32(data[i+3])
		var block [5]byte
		for j := 4; j >= 0; j-- {
			block[j] = z85Alphabet[v%85]
			v /= 85
		}
		out = append(out, block[:]...)
	}
	return string(out), nil
}

// Z85DecodeString decodes text, whose length must be a multiple of 5.
func Z85DecodeString(text string) ([]byte, error) {
	if len(text)%5 != 0 {
		return nil, errs.ErrInval
	}
	out := make([]byte, 0, len(text)/5*4)
	for i := 0; i < len(text); i += 5 {
		var v uint32
		for j := 0; j < 5; j++ {
			d := z85Decode[text[i+j]]
			if d == 0xFF {
				return nil, errs.ErrInval
			}
			v = v*85 + uint32(d)
		}
		out = append(out, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return out, nil
}
