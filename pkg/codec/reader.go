package codec

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"
)

// Reader consumes fields written by Writer. A failed read returns false and leaves the
// cursor where it was.
type Reader struct {
	buf []byte
	pos int
}

func CreateReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Offset() int {
	return r.pos
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Seek moves the cursor back to an offset previously returned by Offset.
func (r *Reader) Seek(offset int) {
	if offset < 0 || offset > len(r.buf) {
		return
	}
	r.pos = offset
}

func (r *Reader) take(n int) ([]byte, bool) {
	if r.Remaining() < n {
		return nil, false
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, true
}

func (r *Reader) ReadBool() (bool, bool) {
	b, ok := r.take(1)
	if !ok {
		return false, false
	}
	return b[0] != 0, true
}

func (r *Reader) ReadUint8() (uint8, bool) {
	b, ok := r.take(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (r *Reader) ReadUint16() (uint16, bool) {
	b, ok := r.take(2)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

func (r *Reader) ReadInt16() (int16, bool) {
	v, ok := r.ReadUint16()
	return int16(v), ok
}

func (r *Reader) ReadUint32() (uint32, bool) {
	b, ok := r.take(4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func (r *Reader) ReadInt32() (int32, bool) {
	v, ok := r.ReadUint32()
	return int32(v), ok
}

func (r *Reader) ReadUint64() (uint64, bool) {
	b, ok := r.take(8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

func (r *Reader) ReadInt64() (int64, bool) {
	v, ok := r.ReadUint64()
	return int64(v), ok
}

func (r *Reader) ReadFloat32() (float32, bool) {
	v, ok := r.ReadUint32()
	return math.Float32frombits(v), ok
}

func (r *Reader) ReadFloat64() (float64, bool) {
	v, ok := r.ReadUint64()
	return math.Float64frombits(v), ok
}

func (r *Reader) ReadString() (string, bool) {
	start := r.pos
	length, ok := r.ReadUint16()
	if !ok {
		return "", false
	}
	b, ok := r.take(int(length))
	if !ok {
		r.pos = start
		return "", false
	}
	return string(b), true
}

func (r *Reader) ReadVector2() (Vector2, bool) {
	b, ok := r.take(8)
	if !ok {
		return Vector2{}, false
	}
	return Vector2{
		X: math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
	}, true
}

func (r *Reader) ReadVector3() (Vector3, bool) {
	b, ok := r.take(12)
	if !ok {
		return Vector3{}, false
	}
	return Vector3{
		X: math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
	}, true
}

func (r *Reader) ReadQuaternion() (Quaternion, bool) {
	b, ok := r.take(16)
	if !ok {
		return Quaternion{}, false
	}
	return Quaternion{
		X: math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
		W: math.Float32frombits(binary.LittleEndian.Uint32(b[12:16])),
	}, true
}

func (r *Reader) ReadGuid() (uuid.UUID, bool) {
	b, ok := r.take(16)
	if !ok {
		return uuid.Nil, false
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, true
}
