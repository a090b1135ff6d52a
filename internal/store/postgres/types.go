package postgres

import (
	"fmt"
	"math/big"
)

// numericText renders a big integer for a NUMERIC column. Nil maps to "0".
func numericText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseNumeric converts a NUMERIC column read back as text.
func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed numeric %q", s)
	}
	return v, nil
}
