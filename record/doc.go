// Package record implements the on-disk representation shared by the bulk
// loader and the table reader: JSON encoded entries laid out in fixed-width,
// space padded slots, and the textual header that precedes them.
//
// A sealed file is itself a valid JSON document:
//
//	{
//	  "valueSize": 24,
//	  "length": 2,
//	  "values": [
//	    {"key":"a","value":2},    \r\n
//	    {"key":"b","value":1}     \r\n
//	  ]
//	}
//
// Every line ends in "\r\n". Each slot is a four space indent, the encoded
// entry, a separator (',' or ' ' for the last slot) and padding up to
// 4+valueSize+1 bytes, followed by the line terminator. The stride between
// two slots is therefore 4+valueSize+1+2 bytes and slot i starts at
// dataOffset+i*stride.
//
// Buckets spilled by the loader use the same encoding without indent,
// separator or terminator: slots are valueSize bytes wide and packed back to
// back.
//
// Basic usage:
//
//	enc, err := record.Marshal(record.Entry{Key: "a", Value: json.RawMessage(`2`)})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	slot, err := record.Pad(nil, enc, 32)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	e, err := record.Decode(slot)
package record
