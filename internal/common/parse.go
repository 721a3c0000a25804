package common

import (
	"fmt"
	"math/big"
	"strings"
)

// BigToUint32 converts a chain integer to uint32, rejecting values that do not fit.
func BigToUint32(v *big.Int) (uint32, error) {
	if v == nil || v.Sign() < 0 || v.BitLen() > 32 {
		return 0, fmt.Errorf("value %v does not fit in uint32", v)
	}
	return uint32(v.Uint64()), nil
}

// BigToUint64 converts a chain integer to uint64, rejecting values that do not fit.
func BigToUint64(v *big.Int) (uint64, error) {
	if v == nil || v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("value %v does not fit in uint64", v)
	}
	return v.Uint64(), nil
}

// ToLowerWithTrim normalizes config enums such as log levels.
func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
