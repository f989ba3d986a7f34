package record

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Layout constants of a sealed file.
const (
	// HeaderPrefixSize is the number of leading bytes a reader inspects to
	// recover the header.
	HeaderPrefixSize = 128

	Indent     = "    "
	Terminator = "\r\n"
	Footer     = "  ]" + Terminator + "}" + Terminator
)

// slotOverhead is the number of bytes a slot adds around its entry.
const slotOverhead = len(Indent) + 1 + len(Terminator)

// MaxValueSize is the widest slot whose stride still fits in an int.
const MaxValueSize = math.MaxInt - slotOverhead

// Header describes the data section of a sealed file.
type Header struct {
	// ValueSize is the widest encoded entry in the file.
	ValueSize int `json:"valueSize"`
	// Length is the number of entries.
	Length int `json:"length"`
}

// Stride is the distance in bytes between two consecutive slots.
func (h Header) Stride() int64 {
	return int64(h.ValueSize) + int64(slotOverhead)
}

// DataSize is the size in bytes of the data section.
func (h Header) DataSize() int64 {
	return h.Stride() * int64(h.Length)
}

// AppendHeader appends the textual header for h to dst. The data section
// starts right after it.
func AppendHeader(dst []byte, h Header) []byte {
	dst = append(dst, "{"+Terminator...)
	dst = append(dst, `  "valueSize": `...)
	dst = strconv.AppendInt(dst, int64(h.ValueSize), 10)
	dst = append(dst, ","+Terminator...)
	dst = append(dst, `  "length": `...)
	dst = strconv.AppendInt(dst, int64(h.Length), 10)
	dst = append(dst, ","+Terminator...)
	dst = append(dst, `  "values": [`+Terminator...)
	return dst
}

// AppendSlot appends a data slot holding enc to dst. The last slot of a file
// is separated by a space instead of a comma so the file stays valid JSON.
func AppendSlot(dst, enc []byte, valueSize int, last bool) ([]byte, error) {
	if len(enc) > valueSize {
		return dst, errors.Wrapf(ErrRecordTooLarge, "%d > %d", len(enc), valueSize)
	}
	sep := byte(',')
	if last {
		sep = ' '
	}
	dst = append(dst, Indent...)
	dst = append(dst, enc...)
	dst = append(dst, sep)
	dst = appendSpaces(dst, valueSize-len(enc))
	return append(dst, Terminator...), nil
}

// ParseHeader recovers the header from the first bytes of a sealed file and
// returns it with the offset of the first slot.
//
// The header is rebuilt by cutting the prefix after the opening bracket of
// the values array and closing it with "]}". The last '[' of the prefix is
// tried first; when an entry's own text put a '[' inside the prefix that
// candidate fails to parse and earlier brackets are tried in turn.
func ParseHeader(prefix []byte) (Header, int64, error) {
	if len(prefix) == 0 {
		return Header{}, 0, ErrEmptyDatabase
	}
	if len(prefix) > HeaderPrefixSize {
		prefix = prefix[:HeaderPrefixSize]
	}

	for end := len(prefix); end > 0; {
		idx := bytes.LastIndexByte(prefix[:end], '[')
		if idx < 0 {
			break
		}
		if h, ok := parseHeader(prefix[:idx+1]); ok {
			return h, int64(idx + 1 + len(Terminator)), nil
		}
		end = idx
	}

	return Header{}, 0, errors.Wrapf(ErrInvalidHeader, "prefix %.64q", prefix)
}

func parseHeader(text []byte) (Header, bool) {
	var raw struct {
		ValueSize *int `json:"valueSize"`
		Length    *int `json:"length"`
	}

	buf := make([]byte, 0, len(text)+2)
	buf = append(buf, text...)
	buf = append(buf, "]}"...)

	if err := json.Unmarshal(buf, &raw); err != nil {
		return Header{}, false
	}
	if raw.ValueSize == nil || raw.Length == nil || *raw.ValueSize < 0 || *raw.Length < 0 {
		return Header{}, false
	}
	if *raw.ValueSize > MaxValueSize {
		return Header{}, false
	}
	return Header{ValueSize: *raw.ValueSize, Length: *raw.Length}, true
}
