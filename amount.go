package trustroute

import (
	"math/big"
	"regexp"
	"strings"
)

var decimalPattern = regexp.MustCompile(`^(\d+)(?:\.(\d+))?$`)

// ErrInvalidAmount is returned for amounts that are not positive decimals
// representable in USDC base units.
var ErrInvalidAmount = Validation(CodeInvalidAmount, "Invalid amount")

// ToBaseUnits converts a decimal string to integer base units with the given
// number of decimals ("1.5" with 6 decimals is 1500000). Amounts with more
// fractional digits than decimals are rejected rather than rounded.
func ToBaseUnits(amount string, decimals int) (*big.Int, error) {
	m := decimalPattern.FindStringSubmatch(strings.TrimSpace(amount))
	if m == nil {
		return nil, ErrInvalidAmount.WithMessage("Invalid amount %q", amount)
	}

	whole, frac := m[1], m[2]
	if len(frac) > decimals {
		return nil, ErrInvalidAmount.WithMessage("Amount %q has more than %d decimal places", amount, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	units, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, ErrInvalidAmount.WithMessage("Invalid amount %q", amount)
	}
	return units, nil
}

// ParseAmount validates a record amount: a positive decimal with at most
// USDCDecimals fractional digits. It returns the trimmed amount and its
// value in base units.
func ParseAmount(amount string) (string, *big.Int, error) {
	amount = strings.TrimSpace(amount)
	units, err := ToBaseUnits(amount, USDCDecimals)
	if err != nil {
		return "", nil, err
	}
	if units.Sign() <= 0 {
		return "", nil, ErrInvalidAmount.WithMessage("Amount must be greater than zero")
	}
	return amount, units, nil
}
