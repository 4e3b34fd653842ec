package models

import (
	"fmt"
	"strings"
)

// ValidateISIN checks the ISO 6166 layout and the Luhn check digit.
func ValidateISIN(isin string) error {
	isin = strings.ToUpper(strings.TrimSpace(isin))
	if len(isin) != 12 {
		return fmt.Errorf("isin %q must be 12 characters", isin)
	}
	for i := 0; i < 2; i++ {
		if isin[i] < 'A' || isin[i] > 'Z' {
			return fmt.Errorf("isin %q must start with a country code", isin)
		}
	}
	for i := 2; i < 11; i++ {
		c := isin[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return fmt.Errorf("isin %q has invalid character %q", isin, c)
		}
	}
	if isin[11] < '0' || isin[11] > '9' {
		return fmt.Errorf("isin %q check digit must be numeric", isin)
	}

	// Letters expand to two digits (A=10 .. Z=35) before the Luhn pass.
	var digits []int
	for i := 0; i < 11; i++ {
		c := isin[i]
		if c >= 'A' && c <= 'Z' {
			v := int(c-'A') + 10
			digits = append(digits, v/10, v%10)
		} else {
			digits = append(digits, int(c-'0'))
		}
	}

	sum := 0
	double := true
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	check := (10 - sum%10) % 10
	if check != int(isin[11]-'0') {
		return fmt.Errorf("isin %q has invalid check digit", isin)
	}
	return nil
}
