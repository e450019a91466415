package artnet

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	// Port is the well-known Art-Net UDP port.
	Port = 6454
	// HeaderSize is the ArtDmx header length; channel data starts right after it.
	HeaderSize = 18
	// OpCodeDMX is the ArtDmx operation code (little-endian on the wire).
	OpCodeDMX uint16 = 0x5000
	// ProtocolVersion is the lowest protocol revision accepted by DecodeStrict.
	ProtocolVersion uint16 = 14
	// MaxChannels is the size of one DMX512 universe.
	MaxChannels = 512
)

// ID is the packet identifier: "Art-Net" followed by a zero byte.
var ID = []byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

var (
	ErrPacketTooShort    = errors.New("art-net: packet shorter than header")
	ErrInvalidID         = errors.New("art-net: invalid packet id")
	ErrUnsupportedOpCode = errors.New("art-net: not an ArtDmx packet")
	ErrProtocolVersion   = errors.New("art-net: protocol version too old")
)

// Decode parses an ArtDmx datagram.
//
// Layout:
//
//	0-7   "Art-Net\0"
//	8-9   OpCode (LE)
//	10-11 ProtVer (BE)
//	12    Sequence
//	13    Physical
//	14-15 Universe (LE, 15 bit)
//	16-17 Length (BE)
//	18+   DMX data
//
// Data is clamped to the bytes actually present (and to 512), so truncated
// packets yield a shorter frame instead of an out of bounds read. The returned
// Frame.Data aliases raw.
func Decode(raw []byte) (Frame, error) {
	if len(raw) < HeaderSize {
		return Frame{}, ErrPacketTooShort
	}
	if !bytes.Equal(raw[:8], ID) {
		return Frame{}, ErrInvalidID
	}
	if binary.LittleEndian.Uint16(raw[8:10]) != OpCodeDMX {
		return Frame{}, ErrUnsupportedOpCode
	}

	length := int(binary.BigEndian.Uint16(raw[16:18]))
	if avail := len(raw) - HeaderSize; length > avail {
		length = avail
	}
	if length > MaxChannels {
		length = MaxChannels
	}

	return Frame{
		Sequence: raw[12],
		Physical: raw[13],
		Universe: binary.LittleEndian.Uint16(raw[14:16]) & 0x7fff,
		Data:     raw[HeaderSize : HeaderSize+length],
	}, nil
}

// DecodeStrict is Decode plus a protocol revision check (ProtVer >= 14).
func DecodeStrict(raw []byte) (Frame, error) {
	f, err := Decode(raw)
	if err != nil {
		return f, err
	}
	if binary.BigEndian.Uint16(raw[10:12]) < ProtocolVersion {
		return Frame{}, ErrProtocolVersion
	}
	return f, nil
}

// Encode builds an ArtDmx datagram for f. The Length field is len(f.Data).
func Encode(f Frame) []byte {
	data := f.Data
	if len(data) > MaxChannels {
		data = data[:MaxChannels]
	}
	packet := make([]byte, HeaderSize+len(data))
	copy(packet[0:8], ID)
	binary.LittleEndian.PutUint16(packet[8:10], OpCodeDMX)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	packet[12] = f.Sequence
	packet[13] = f.Physical
	binary.LittleEndian.PutUint16(packet[14:16], f.Universe&0x7fff)
	binary.BigEndian.PutUint16(packet[16:18], uint16(len(data)))
	copy(packet[HeaderSize:], data)
	return packet
}
