// Package bytex provides the byte-wise string ordering shared by the remote
// and local listing iterators. Both streams must be sorted under the same
// comparator or the reconciler's merge cursor falls apart.
package bytex

// Compare orders two strings by their UTF-8 byte representation.
// It returns -1 if a < b, 0 if a == b, and +1 if a > b.
//
// Note that this is not a collation: "Z" < "a", and a directory entry
// "dir/" sorts strictly before "dir/x" because '/' (0x2F) compares before
// any byte that may follow it in a descendant path.
func Compare(a, b string) int {
	// Go string comparison is already defined over bytes; keep the
	// wrapper so ordering has exactly one home in the codebase.
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts before b under Compare.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}
