// Package table writes and reads sealed files.
//
// A sealed file is a JSON document holding a sorted array of entries. Every
// entry occupies a slot of the same width, so entry i is found by arithmetic
// on the data offset and the stride recorded in the header:
//
//	{
//	  "valueSize": 21,
//	  "length": 3,
//	  "values": [
//	    {"key":"a","value":2},
//	    {"key":"b","value":1},
//	    {"key":"c","value":3}
//	  ]
//	}
//
// Lines end in "\r\n" and each slot is padded with spaces to the width given
// by valueSize.
//
// Basic usage:
//
//	w, err := table.NewWriter(file, record.Header{ValueSize: 21, Length: 3})
//	for _, e := range sorted {
//	    err = w.Add(e)
//	}
//	err = w.Close()
//
//	r := table.NewReader(file, record.ByKey)
//	res, ok, err := r.Get(ctx, record.Entry{Key: "b"}, false)
//
//	it := r.Iterate(table.Range{GTE: record.Key("b")})
//	for {
//	    e, ok, err := it.Next(ctx)
//	    ...
//	}
//
// A Reader keeps no mutable search state once open, so Get and Iterate may be
// called from several goroutines. An Iterator belongs to one goroutine.
package table
