package codec

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"
	"github.com/sessamekesh/netsync/pkg/errors"
)

// Writer appends fixed width little-endian fields to a growable buffer. Fields carry no
// padding and no tags; the reader must consume them in the same order.
type Writer struct {
	buf []byte
}

func CreateWriter(initialCapacity int) *Writer {
	return &Writer{buf: make([]byte, 0, initialCapacity)}
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset empties the writer but keeps the allocation, so pooled writers stop growing once
// they have seen the largest message.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

// WriteString writes a u16 byte length followed by the UTF-8 bytes. Strings that do not fit
// the length prefix are a caller bug.
func (w *Writer) WriteString(v string) {
	if len(v) > MaxStringLength {
		panic(&errors.StringTooLong{Length: len(v), MaxLength: MaxStringLength})
	}
	w.WriteUint16(uint16(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *Writer) WriteVector2(v Vector2) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
}

func (w *Writer) WriteVector3(v Vector3) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
	w.WriteFloat32(v.Z)
}

func (w *Writer) WriteQuaternion(v Quaternion) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
	w.WriteFloat32(v.Z)
	w.WriteFloat32(v.W)
}

// WriteGuid encodes the 16 id bytes as two little-endian int64 halves.
func (w *Writer) WriteGuid(v uuid.UUID) {
	w.WriteInt64(int64(binary.LittleEndian.Uint64(v[0:8])))
	w.WriteInt64(int64(binary.LittleEndian.Uint64(v[8:16])))
}
