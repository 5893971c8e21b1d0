package postgres

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// parseDec converts a ::text-cast numeric column into a decimal. The
// column name only feeds the error message.
func parseDec(col, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("postgres: parse %s %q: %w", col, raw, err)
	}
	return d, nil
}
