package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/stormsync/stormsync/internal/core/mathx"
)

// inputSize: seq(4) move(12) jump(1) time delta(4).
const inputSize = 4 + 12 + 1 + 4

// InputFrame is one client input sample: a desired velocity plus a jump
// flag, sequenced for acknowledgement and replay.
type InputFrame struct {
	Seq       uint32
	Move      mathx.Vec3
	Jump      bool
	Timestamp time.Time
}

// AppendEncodeInput appends the encoded input frame to dst.
func AppendEncodeInput(dst []byte, in InputFrame, epoch time.Time) ([]byte, error) {
	delta := in.Timestamp.Sub(epoch).Milliseconds()
	if delta < 0 || delta > math.MaxUint32 {
		return dst, fmt.Errorf("%w: delta %dms", ErrTimestampRange, delta)
	}
	dst = binary.LittleEndian.AppendUint32(dst, in.Seq)
	var err error
	for _, v := range [...]float64{in.Move.X, in.Move.Y, in.Move.Z} {
		dst, err = appendQuantized(dst, v, scaleVel)
		if err != nil {
			return dst, err
		}
	}
	if in.Jump {
		dst = append(dst, 1)
	} else {
		dst = append(dst, 0)
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(delta))
	return dst, nil
}

// DecodeInput parses one input frame.
func DecodeInput(data []byte, epoch time.Time) (InputFrame, error) {
	if len(data) != inputSize {
		return InputFrame{}, fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(data))
	}
	in := InputFrame{Seq: binary.LittleEndian.Uint32(data[0:4])}
	off := 4
	for _, f := range [...]*float64{&in.Move.X, &in.Move.Y, &in.Move.Z} {
		q := int32(binary.LittleEndian.Uint32(data[off : off+4]))
		*f = float64(q) / scaleVel
		off += 4
	}
	in.Jump = data[off] == 1
	delta := binary.LittleEndian.Uint32(data[off+1 : off+5])
	in.Timestamp = epoch.Add(time.Duration(delta) * time.Millisecond)
	return in, nil
}
