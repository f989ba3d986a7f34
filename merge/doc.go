// Package merge implements a tournament tree for merging sorted sequences.
//
// The tree is built once from its leaves. Leaves are paired, an odd leaf is
// paired with an always exhausted placeholder, and every pair is joined by a
// node exposing the lesser of its children's current values. Pairing repeats
// until a single root remains. When two values compare equal the left child
// wins, so equal values keep the order of the sequences passed to New.
//
// Values are pulled lazily: a step advances only the leaf that supplied the
// value just returned, and only the nodes on the path from that leaf to the
// root compare again. Each step costs O(log n) comparisons for n sequences.
//
// Basic usage:
//
//	tree := merge.New([]merge.Sequence[int]{a, b, c}, cmp.Compare[int])
//	for {
//	    v, ok, err := tree.Next(ctx)
//	    if err != nil || !ok {
//	        break
//	    }
//	    fmt.Println(v)
//	}
//
// All adapts any Sequence to a range-over-func iterator:
//
//	for v, err := range merge.All(ctx, tree) {
//	    ...
//	}
package merge
