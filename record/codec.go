package record

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// Errors returned while encoding and decoding slots and headers.
var (
	ErrEmptyDatabase  = errors.New("record: database file is empty")
	ErrInvalidHeader  = errors.New("record: invalid header")
	ErrInvalidRecord  = errors.New("record: invalid record")
	ErrRecordTooLarge = errors.New("record: encoded entry exceeds slot width")
)

// CheckKey rejects keys that cannot be stored as written. JSON text is UTF-8,
// so a key holding invalid UTF-8 would be encoded as a different key and
// land out of order.
func CheckKey(k string) error {
	if !utf8.ValidString(k) {
		return errors.Wrapf(ErrInvalidRecord, "key %q is not valid UTF-8", k)
	}
	return nil
}

// Marshal returns the JSON encoding of e.
func Marshal(e Entry) ([]byte, error) {
	if err := CheckKey(e.Key); err != nil {
		return nil, err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrapf(err, "record: failed to encode entry %q", e.Key)
	}
	return b, nil
}

// Pad appends enc to dst left justified in a slot of width bytes, filling
// the remainder with spaces.
func Pad(dst, enc []byte, width int) ([]byte, error) {
	if len(enc) > width {
		return dst, errors.Wrapf(ErrRecordTooLarge, "%d > %d", len(enc), width)
	}
	dst = append(dst, enc...)
	return appendSpaces(dst, width-len(enc)), nil
}

// Encode marshals e into a slot of width bytes.
func Encode(e Entry, width int) ([]byte, error) {
	enc, err := Marshal(e)
	if err != nil {
		return nil, err
	}
	return Pad(make([]byte, 0, width), enc, width)
}

// Decode reads the entry held by slot. Anything following the first JSON
// value (padding, a separator, a line terminator) is ignored.
func Decode(slot []byte) (Entry, error) {
	var e *Entry
	dec := json.NewDecoder(bytes.NewReader(slot))
	if err := dec.Decode(&e); err != nil {
		return Entry{}, errors.Mark(errors.Wrapf(err, "record: slot %.32q", slot), ErrInvalidRecord)
	}
	if e == nil {
		return Entry{}, errors.Wrapf(ErrInvalidRecord, "slot %.32q holds null", slot)
	}
	return *e, nil
}

func appendSpaces(dst []byte, n int) []byte {
	for range n {
		dst = append(dst, ' ')
	}
	return dst
}
