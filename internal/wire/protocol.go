// Package wire implements the framed v2 wire protocol: the stream greeting,
// an incremental encoder and decoder for frames, and the Z85 armour used for
// key material.
//
// Frame layout (network byte order):
//
//	flags   1 byte   MORE 0x01 | LONG 0x02 | COMMAND 0x04
//	length  1 byte   when !LONG, else 8 bytes
//	payload length bytes
//
// Subscription frames carry a leading 0x01 (subscribe) or 0x00 (cancel) byte
// inside the payload; the encoder adds it so the socket layer can stay
// byte-agnostic.
package wire

import "github.com/GriffinCanCode/Courier/internal/msg"

// Frame flag bits.
const (
	FlagMore    byte = 0x01
	FlagLong    byte = 0x02
	FlagCommand byte = 0x04
)

// Greeting constants.
const (
	GreetingSize   = 64
	SignatureHead  = 0xFF
	SignatureTail  = 0x7F
	ProtocolMajor  = 3
	ProtocolMinor  = 1
	mechanismSize  = 20
	mechanismStart = 12
)

// MechanismNull is the only mechanism the core speaks; the handshake is a
// plain greeting exchange.
const MechanismNull = "NULL"

// Greeting is the fixed-size preamble exchanged on stream transports before
// any frame.
type Greeting struct {
	Major, Minor byte
	Mechanism    string
	AsServer     bool
}

// Marshal renders the 64-byte greeting.
func (g Greeting) Marshal() [GreetingSize]byte {
	var b [GreetingSize]byte
	b[0] = SignatureHead
	b[9] = SignatureTail
	b[10] = g.Major
	b[11] = g.Minor
	copy(b[mechanismStart:mechanismStart+mechanismSize], g.Mechanism)
	if g.AsServer {
		b[mechanismStart+mechanismSize] = 1
	}
	return b
}

// ParseGreeting validates and decodes a received greeting.
func ParseGreeting(b []byte) (Greeting, bool) {
	if len(b) < GreetingSize || b[0] != SignatureHead || b[9] != SignatureTail {
		return Greeting{}, false
	}
	mech := b[mechanismStart : mechanismStart+mechanismSize]
	end := 0
	for end < len(mech) && mech[end] != 0 {
		end++
	}
	return Greeting{
		Major:     b[10],
		Minor:     b[11],
		Mechanism: string(mech[:end]),
		AsServer:  b[mechanismStart+mechanismSize] == 1,
	}, true
}

// frameFlags maps message flags onto the wire flag byte.
func frameFlags(m *msg.Message) byte {
	var f byte
	if m.HasMore() {
		f |= FlagMore
	}
	if m.IsCommand() {
		f |= FlagCommand
	}
	return f
}
