package boq

import (
	"math"
	"strconv"
	"strings"
)

// currencyReplacer strips the symbols users commonly paste along with a rate,
// plus thousands separators.
var currencyReplacer = strings.NewReplacer(
	"₹", "", // Rupee
	"$", "",
	"€", "", // Euro
	"£", "", // Pound
	",", "",
)

// ParseRate converts free-form rate input to a number.
//
// Input is never rejected: empty, unparseable, non-finite and negative values
// all yield 0.
func ParseRate(raw string) float64 {
	s := strings.TrimSpace(currencyReplacer.Replace(strings.TrimSpace(raw)))
	if s == "" {
		return 0
	}

	// strconv also takes Go literal forms ("1_000", "0x1p4", "Inf");
	// a rate is plain decimal only.
	if strings.IndexFunc(s, notDecimal) >= 0 {
		return 0
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

func notDecimal(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return false
	case r == '.', r == '+', r == '-', r == 'e', r == 'E':
		return false
	}
	return true
}
