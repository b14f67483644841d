package aggregate

import "strings"

// Key identifies one group. Single-component keys use A only; the global
// group is the zero Key. Unknown marks the bucket for records whose key could
// not be extracted, so it never collides with a real value.
type Key struct {
	A, B    string
	Unknown bool
}

// compareKeys orders keys component by component in natural order.
// The unknown bucket sorts after every real key.
func compareKeys(a, b Key) int {
	if a.Unknown != b.Unknown {
		if a.Unknown {
			return 1
		}
		return -1
	}
	if c := compareNatural(a.A, b.A); c != 0 {
		return c
	}
	return compareNatural(a.B, b.B)
}

// compareNatural splits both strings into alternating digit and non-digit
// runs and compares them run by run: two digit runs by numeric value, any
// other pair bytewise. Strings whose runs are all equal ("007" and "7") fall
// back to a bytewise compare, so the order is total.
func compareNatural(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ra, na := nextRun(a, i)
		rb, nb := nextRun(b, j)
		var c int
		if isDigit(ra[0]) && isDigit(rb[0]) {
			c = compareDigits(ra, rb)
		} else {
			c = strings.Compare(ra, rb)
		}
		if c != 0 {
			return c
		}
		i, j = na, nb
	}
	switch {
	case i < len(a):
		return 1
	case j < len(b):
		return -1
	}
	return strings.Compare(a, b)
}

// nextRun returns the maximal digit or non-digit run starting at s[i] and the
// index just past it.
func nextRun(s string, i int) (string, int) {
	d := isDigit(s[i])
	k := i + 1
	for k < len(s) && isDigit(s[k]) == d {
		k++
	}
	return s[i:k], k
}

// compareDigits compares two runs of ASCII digits by value.
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
