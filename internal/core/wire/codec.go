// Package wire implements the compact binary snapshot codec. Byte order
// (little-endian) and field widths are a hard compatibility contract between
// encoder and decoder; the leading version byte guards against mismatched
// peers.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/stormsync/stormsync/internal/core/ecs"
	"github.com/stormsync/stormsync/internal/core/mathx"
)

// Version identifies the wire layout. Bump on any change to field widths,
// order or quantization scales.
const Version = 1

// Codec errors
var (
	ErrShortBuffer     = errors.New("wire: buffer too short")
	ErrVersionMismatch = errors.New("wire: version mismatch")
	ErrTruncatedBatch  = errors.New("wire: truncated batch")
	ErrStaleSequence   = errors.New("wire: stale sequence")
	ErrBatchTooLarge   = errors.New("wire: batch exceeds entity limit")
	ErrTimestampRange  = errors.New("wire: timestamp outside epoch window")
	ErrValueOutOfRange = errors.New("wire: field exceeds quantized range")
)

// Presence mask bits, one per component kind.
const (
	MaskTransform uint8 = 1 << iota
	MaskPhysics
	MaskRender
	MaskNetwork
)

// Quantization scales: position/scale and velocity keep 2 decimal digits,
// rotation keeps 3.
const (
	scalePos = 100
	scaleRot = 1000
	scaleVel = 100
)

const (
	headerSize = 1 + 4 + 4 + 2 // version, sequence, time delta, count

	// Fixed record layout: id(8) mask(1) transform(40) velocity(12)
	// color(3) authority(1) inputSeq(4). Every slot is present regardless of
	// the mask so the decoder reads without branching; the mask alone says
	// which slots carry real data.
	recordSize = 8 + 1 + 40 + 12 + 3 + 1 + 4

	maxEntities = math.MaxUint16
)

// IDFor derives the fixed-width wire identifier from a network id string.
// Peers learn the reverse mapping over the reliable channel at join time.
func IDFor(networkID string) uint64 {
	return xxhash.Sum64String(networkID)
}

// Record is one entity's quantized state inside a batch. Slots not covered
// by Mask hold wire defaults (identity transform, zero velocity, white color,
// server authority, zero sequence) and must be ignored by consumers.
type Record struct {
	ID   uint64
	Mask uint8

	Position mathx.Vec3
	Rotation mathx.Quat
	Scale    mathx.Vec3

	Velocity mathx.Vec3

	Color ecs.Color

	Authority ecs.Authority
	InputSeq  uint32
}

// DefaultRecord returns a record with all slots at their wire defaults.
func DefaultRecord(id uint64) Record {
	return Record{
		ID:       id,
		Rotation: mathx.IdentityQuat(),
		Scale:    mathx.Vec3{X: 1, Y: 1, Z: 1},
		Color:    ecs.White,
	}
}

// Batch is a timestamped set of entity records under one sequence number.
type Batch struct {
	Sequence  uint32
	Timestamp time.Time
	Records   []Record
}

// Encoder serializes batches relative to a fixed epoch.
type Encoder struct {
	epoch time.Time
}

func NewEncoder(epoch time.Time) *Encoder {
	return &Encoder{epoch: epoch}
}

// AppendEncode appends the encoded batch to dst and returns the extended
// slice. dst may be nil.
func (e *Encoder) AppendEncode(dst []byte, b Batch) ([]byte, error) {
	if len(b.Records) > maxEntities {
		return dst, fmt.Errorf("%w: %d records", ErrBatchTooLarge, len(b.Records))
	}
	delta := b.Timestamp.Sub(e.epoch).Milliseconds()
	if delta < 0 || delta > math.MaxUint32 {
		return dst, fmt.Errorf("%w: delta %dms", ErrTimestampRange, delta)
	}

	dst = append(dst, Version)
	dst = binary.LittleEndian.AppendUint32(dst, b.Sequence)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(delta))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(b.Records)))

	var err error
	for i := range b.Records {
		dst, err = appendRecord(dst, &b.Records[i])
		if err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func appendRecord(dst []byte, r *Record) ([]byte, error) {
	dst = binary.LittleEndian.AppendUint64(dst, r.ID)
	dst = append(dst, r.Mask)

	var err error
	for _, f := range [...]struct {
		v     float64
		scale int32
	}{
		{r.Position.X, scalePos}, {r.Position.Y, scalePos}, {r.Position.Z, scalePos},
		{r.Rotation.X, scaleRot}, {r.Rotation.Y, scaleRot}, {r.Rotation.Z, scaleRot}, {r.Rotation.W, scaleRot},
		{r.Scale.X, scalePos}, {r.Scale.Y, scalePos}, {r.Scale.Z, scalePos},
		{r.Velocity.X, scaleVel}, {r.Velocity.Y, scaleVel}, {r.Velocity.Z, scaleVel},
	} {
		dst, err = appendQuantized(dst, f.v, f.scale)
		if err != nil {
			return dst, err
		}
	}

	dst = append(dst, r.Color.R, r.Color.G, r.Color.B)
	dst = append(dst, uint8(r.Authority))
	dst = binary.LittleEndian.AppendUint32(dst, r.InputSeq)
	return dst, nil
}

func appendQuantized(dst []byte, v float64, scale int32) ([]byte, error) {
	q := math.Round(v * float64(scale))
	if math.IsNaN(q) || q > math.MaxInt32 || q < math.MinInt32 {
		return dst, fmt.Errorf("%w: %v", ErrValueOutOfRange, v)
	}
	return binary.LittleEndian.AppendUint32(dst, uint32(int32(q))), nil
}

// Decoder deserializes batches and enforces sequence monotonicity per
// stream. One Decoder instance corresponds to one inbound stream.
type Decoder struct {
	epoch  time.Time
	last   uint32
	primed bool
}

func NewDecoder(epoch time.Time) *Decoder {
	return &Decoder{epoch: epoch}
}

// LastAccepted returns the most recent accepted sequence number.
func (d *Decoder) LastAccepted() (uint32, bool) {
	return d.last, d.primed
}

// Decode parses one batch. Batches at or behind the last accepted sequence
// fail with ErrStaleSequence (a transient condition under unreliable
// transport, not a protocol fault). Version and size mismatches are fatal.
func (d *Decoder) Decode(data []byte) (Batch, error) {
	if len(data) < headerSize {
		return Batch{}, fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(data))
	}
	if data[0] != Version {
		return Batch{}, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, data[0], Version)
	}
	seq := binary.LittleEndian.Uint32(data[1:5])
	delta := binary.LittleEndian.Uint32(data[5:9])
	count := int(binary.LittleEndian.Uint16(data[9:11]))

	if len(data) != headerSize+count*recordSize {
		return Batch{}, fmt.Errorf("%w: %d bytes for %d records", ErrTruncatedBatch, len(data), count)
	}
	if d.primed && seq <= d.last {
		return Batch{}, fmt.Errorf("%w: %d <= %d", ErrStaleSequence, seq, d.last)
	}

	b := Batch{
		Sequence:  seq,
		Timestamp: d.epoch.Add(time.Duration(delta) * time.Millisecond),
		Records:   make([]Record, count),
	}
	off := headerSize
	for i := 0; i < count; i++ {
		decodeRecord(data[off:off+recordSize], &b.Records[i])
		off += recordSize
	}

	d.last = seq
	d.primed = true
	return b, nil
}

func decodeRecord(data []byte, r *Record) {
	r.ID = binary.LittleEndian.Uint64(data[0:8])
	r.Mask = data[8]

	fields := [...]*float64{
		&r.Position.X, &r.Position.Y, &r.Position.Z,
		&r.Rotation.X, &r.Rotation.Y, &r.Rotation.Z, &r.Rotation.W,
		&r.Scale.X, &r.Scale.Y, &r.Scale.Z,
		&r.Velocity.X, &r.Velocity.Y, &r.Velocity.Z,
	}
	scales := [...]int32{
		scalePos, scalePos, scalePos,
		scaleRot, scaleRot, scaleRot, scaleRot,
		scalePos, scalePos, scalePos,
		scaleVel, scaleVel, scaleVel,
	}
	off := 9
	for i, f := range fields {
		q := int32(binary.LittleEndian.Uint32(data[off : off+4]))
		*f = float64(q) / float64(scales[i])
		off += 4
	}

	r.Color = ecs.Color{R: data[off], G: data[off+1], B: data[off+2]}
	r.Authority = ecs.Authority(data[off+3])
	r.InputSeq = binary.LittleEndian.Uint32(data[off+4 : off+8])
}
