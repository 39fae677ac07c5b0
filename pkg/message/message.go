package message

import (
	"github.com/sessamekesh/netsync/pkg/codec"
	"github.com/sessamekesh/netsync/pkg/errors"
)

const MaxArrayItemCount = 0xFFFF

// SimpleMessage is a message that occurs once per payload. Its encoding always starts with
// the one byte discriminant for its direction.
type SimpleMessage interface {
	TryRead(r *codec.Reader) bool
	WriteTo(w *codec.Writer)
}

// ArrayHeader is written once per batch and carries fields shared by every item, followed
// by the u16 item count.
type ArrayHeader interface {
	TryReadHeader(r *codec.Reader) (int, bool)
	WriteHeader(w *codec.Writer, itemCount int)
}

// ArrayItem is one fixed layout record following an ArrayHeader. Items carry no type tag.
type ArrayItem interface {
	TryReadNextArrayItem(r *codec.Reader) bool
	WriteNextArrayItem(w *codec.Writer)
}

func WriteItemCount(w *codec.Writer, itemCount int) {
	if itemCount < 0 || itemCount > MaxArrayItemCount {
		panic(&errors.IndexOutOfRange{Operation: "ArrayMessage::ItemCount", Index: itemCount, Count: MaxArrayItemCount + 1})
	}
	w.WriteUint16(uint16(itemCount))
}

func WriteArray[T any, PT interface {
	*T
	ArrayItem
}](w *codec.Writer, header ArrayHeader, items []T) {
	header.WriteHeader(w, len(items))
	for i := range items {
		PT(&items[i]).WriteNextArrayItem(w)
	}
}

// ReadArray decodes a header and all of its items, appending them to dst. Either everything
// decodes or nothing does: on failure the header and dst are returned as they were before
// the call and the reader is rewound.
func ReadArray[H any, PH interface {
	*H
	ArrayHeader
}, T any, PT interface {
	*T
	ArrayItem
}](r *codec.Reader, header PH, dst []T) ([]T, bool) {
	start := r.Offset()
	saved := *header

	count, ok := header.TryReadHeader(r)
	if !ok {
		return dst, false
	}

	originalLen := len(dst)
	for i := 0; i < count; i++ {
		var item T
		if !PT(&item).TryReadNextArrayItem(r) {
			*header = saved
			r.Seek(start)
			return dst[:originalLen], false
		}
		dst = append(dst, item)
	}

	return dst, true
}
