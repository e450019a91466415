package artnet

import (
	"fmt"
	"time"

	artnet "github.com/Haba1234/go-artnet"
)

// Frame is a decoded ArtDmx packet.
type Frame struct {
	Universe uint16 // Universe: 15-bit Port-Address, старший байт - Net, младший - SubUni.
	Sequence uint8  // Sequence: informational, not used for reordering.
	Physical uint8  // Physical: input port of the sender, informational.
	Data     []byte // Data: Data[0] is DMX channel 1.
}

// Address converts the 15-bit universe to the Net/SubUni form.
func (f Frame) Address() artnet.Address {
	return artnet.Address{
		Net:    uint8(f.Universe >> 8 & 0x7f),
		SubUni: uint8(f.Universe),
	}
}

func (f Frame) String() string {
	return fmt.Sprintf("universe=%d (%s) seq=%d phys=%d len=%d",
		f.Universe, f.Address().String(), f.Sequence, f.Physical, len(f.Data))
}

// ChannelValue is a single monitored DMX channel and its value.
type ChannelValue struct {
	Universe uint16 // Universe: номер вселенной.
	Channel  int    // Channel: номер канала (1-512).
	Value    uint8  // Value: значение для канала.
}

// ListenerConf configures a Listener.
type ListenerConf struct {
	Addr          string
	Universe      uint16
	StartChannel  int
	ChannelCount  int
	StrictVersion bool
	ReadTimeout   time.Duration
	ReuseAddr     bool // ReuseAddr - SO_REUSEADDR на сокете Art-Net.
}
