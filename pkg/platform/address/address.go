// Package address validates account addresses on the ledger.
package address

import "strings"

// Zero is reported in place of a missing or malformed account address.
const Zero = "0x0000000000000000000000000000000000000000"

// length is the textual length of an address: "0x" plus 40 hex digits.
const length = 42

// txHashLength is "0x" plus 64 hex digits.
const txHashLength = 66

// IsValid reports whether s is "0x" followed by exactly 40 hexadecimal digits
// of either case. Checksum casing is not enforced.
func IsValid(s string) bool {
	return prefixedHex(s, length)
}

// IsTxHash reports whether s has the shape of a transaction hash.
func IsTxHash(s string) bool {
	return prefixedHex(s, txHashLength)
}

func prefixedHex(s string, n int) bool {
	if len(s) != n || s[0] != '0' || s[1] != 'x' {
		return false
	}
	for i := 2; i < n; i++ {
		if !isHex(s[i]) {
			return false
		}
	}
	return true
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// OrZero returns s when it is a valid address and Zero otherwise.
func OrZero(s string) string {
	if IsValid(s) {
		return s
	}
	return Zero
}

// Normalize returns the canonical lowercase form of a valid address. Hex case
// only carries the optional checksum, so addresses that differ in case name
// the same account. Input that is not a valid address is returned trimmed and
// otherwise unchanged, so IsValid still rejects it.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if !IsValid(s) {
		return s
	}
	return strings.ToLower(s)
}
