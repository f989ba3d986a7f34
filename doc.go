// Package jsonkv is an embedded, immutable, sorted key-value store kept in a
// single JSON file.
//
// A store is written once by a bulk load. Entries are sorted in bounded
// buckets, spilled to a temporary file and merged into a sealed file whose
// entries all occupy slots of the same width. The sealed file is then read
// with binary search and forward range scans. It is never modified; loading
// again replaces it as a whole.
//
// Basic usage:
//
//	err := jsonkv.Load(ctx, "people.json", slices.Values([]jsonkv.Entry{
//	    {Key: "bob", Value: json.RawMessage(`{"age":31}`)},
//	    {Key: "alice", Value: json.RawMessage(`{"age":29}`)},
//	}))
//
//	db, err := jsonkv.Open("people.json")
//	defer db.Close()
//
//	alice, err := db.Get(ctx, "alice")
//	near, err := db.Get(ctx, "al", jsonkv.WithClosest())
//
//	for e, err := range db.All(ctx, jsonkv.Range{GTE: jsonkv.Key("b")}) {
//	    ...
//	}
//
// The sealed file is itself valid JSON:
//
//	{
//	  "valueSize": 34,
//	  "length": 2,
//	  "values": [
//	    {"key":"alice","value":{"age":29}},
//	    {"key":"bob","value":{"age":31}}
//	  ]
//	}
package jsonkv
