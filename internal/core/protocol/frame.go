package protocol

import (
	"encoding/binary"
	"fmt"
)

// MaxFrameSize bounds a single framed message. Snapshots are far smaller;
// this mostly guards the stream reader against corrupt length prefixes.
const MaxFrameSize = 1 << 20

// appendFrame encodes a message as [type u8][len u32 LE][payload] for
// stream transports.
func appendFrame(dst []byte, msg Message) []byte {
	dst = append(dst, byte(msg.Type))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(msg.Payload)))
	return append(dst, msg.Payload...)
}

// packDatagram encodes a message as [type u8][payload] for datagram
// transports; the datagram boundary carries the length.
func packDatagram(msg Message) []byte {
	out := make([]byte, 1+len(msg.Payload))
	out[0] = byte(msg.Type)
	copy(out[1:], msg.Payload)
	return out
}

func unpackDatagram(data []byte) (Message, error) {
	if len(data) < 1 {
		return Message{}, fmt.Errorf("%w: empty datagram", ErrInvalidFrame)
	}
	return Message{Type: MessageType(data[0]), Payload: data[1:]}, nil
}
