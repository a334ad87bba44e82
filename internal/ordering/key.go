// Package ordering implements fractional-index sort keys: a total order
// among siblings that survives insert, move, indent, and outdent without
// ever rewriting a neighbor's key. Keys are plain strings over a base-62
// alphabet chosen so that Go's ordinary lexicographic string comparison
// ("<") already matches the intended digit order — no custom Less
// function is ever needed.
package ordering

import "strings"

// alphabet is ASCII-sorted by construction (digits, then uppercase, then
// lowercase), so byte-wise string comparison over keys drawn from it
// coincides with digit-position comparison.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Between returns a key strictly greater than left and strictly less
// than right, minimal in length subject to that constraint. Pass "" for
// either bound when it is absent (there is no left/right neighbor).
//
// Keys produced here never end in the minimum digit '0', which is what
// keeps every key strictly midpoint-able later: a key ending in '0'
// would have no room below it at its own length.
//
// Ties among equal keys (which Between never produces on its own, but
// which can arise from out-of-band data) are broken by callers comparing
// task id as a secondary sort key.
func Between(left, right string) string {
	return midpoint(left, right, right != "")
}

// Append returns a key greater than every existing key when last is the
// greatest existing sibling key (or "" if there are none yet).
func Append(last string) string {
	return Between(last, "")
}

// Prepend returns a key less than every existing key when first is the
// least existing sibling key (or "" if there are none yet).
func Prepend(first string) string {
	return Between("", first)
}

// midpoint finds the digit-string strictly between l and r, minimal in
// length. l = "" means no lower bound (the empty string sorts below
// every key); bounded = false means no upper bound and r is ignored.
//
// Digit-wise: a position past the end of l reads as the minimum digit,
// and an absent upper bound reads as one past the maximum digit, so the
// two bounds always leave at least one key between them.
func midpoint(l, r string, bounded bool) string {
	if bounded && r == "" {
		// Only reachable on corrupt input (equal or inverted bounds);
		// releasing the exhausted upper bound keeps the result a valid
		// key and leaves the id tiebreak to sort out the order.
		bounded = false
	}
	if bounded {
		// Consume the longest prefix of r that l matches digit-for-digit
		// (reading l past its end as '0'); the answer must carry that
		// prefix verbatim.
		n := 0
		for n < len(r) && digitOrMin(l, n) == r[n] {
			n++
		}
		if n > 0 {
			return r[:n] + midpoint(sliceFrom(l, n), r[n:], true)
		}
	}

	digitL := 0
	if l != "" {
		digitL = strings.IndexByte(alphabet, l[0])
	}
	digitR := len(alphabet)
	if bounded {
		digitR = strings.IndexByte(alphabet, r[0])
	}

	if digitR-digitL > 1 {
		return string(alphabet[(digitL+digitR+1)/2])
	}

	// Consecutive first digits: no single digit fits between them.
	if bounded && len(r) > 1 {
		// r has more digits, so its own first digit (alone) is already
		// strictly below it and strictly above l.
		return r[:1]
	}
	// Commit to l's first digit and recurse on its tail with the upper
	// bound released (every extension of digitL sorts below digitR).
	return string(alphabet[digitL]) + midpoint(sliceFrom(l, 1), "", false)
}

// digitOrMin reads s[i], or the minimum digit '0' past the end, the same
// way 0.AB equals 0.AB000... in positional fractions.
func digitOrMin(s string, i int) byte {
	if i >= len(s) {
		return '0'
	}
	return s[i]
}

func sliceFrom(s string, n int) string {
	if n >= len(s) {
		return ""
	}
	return s[n:]
}
