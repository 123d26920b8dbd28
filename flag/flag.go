// Package flag parses the command line into a config this module's façade
// understands, and hosts the N{K|k|M|m|G|g} size-string grammar shared by
// every flag that takes a byte count.
package flag

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrZeroSize is returned by ParseSize when the parsed amount is zero.
var ErrZeroSize = errors.New("size must be non-zero")

// ParseSize parses a size string as number[gGmMkK]. The multiplier is
// optional; if absent, unit is used instead. Zero is rejected: every call
// site needs a strictly positive byte count.
func ParseSize(s, unit string) (int, error) {
	sz := strings.TrimRight(s, "gGmMkK")
	if len(sz) == 0 {
		return -1, fmt.Errorf("%q: can't parse as num[gGmMkK]: %w", s, strconv.ErrSyntax)
	}

	amt, err := strconv.ParseUint(sz, 0, 0)
	if err != nil {
		return -1, err
	}

	if len(s) > len(sz) {
		unit = s[len(sz):]
	}

	var result int

	switch unit {
	case "G", "g":
		result = int(amt) << 30
	case "M", "m":
		result = int(amt) << 20
	case "K", "k":
		result = int(amt) << 10
	case "":
		result = int(amt)
	default:
		return -1, fmt.Errorf("can not parse %q as num[gGmMkK]: %w", s, strconv.ErrSyntax)
	}

	if result == 0 {
		return 0, ErrZeroSize
	}

	return result, nil
}
