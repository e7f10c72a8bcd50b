package listings

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// CommissionRate is the marketplace cut used for the payout preview.
// Display only: the stored price is never reduced by it.
const CommissionRate = 0.10

var (
	trPrinter  = message.NewPrinter(language.Turkish)
	liraSymbol = trPrinter.Sprint(currency.Symbol(currency.MustParseISO("TRY")))
)

// ParsePrice parses decimal price text, rejecting hex floats and non-finite values.
func ParsePrice(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	digits := strings.TrimLeft(raw, "+-")
	if len(digits) >= 2 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		return 0, false
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, false
	}
	return price, true
}

// NetAmount derives the payout from raw price text. ok is false when the
// text is not a positive number, in which case nothing should be displayed.
func NetAmount(raw string) (net float64, ok bool) {
	price, ok := ParsePrice(raw)
	if !ok || price <= 0 {
		return 0, false
	}
	return NetFromPrice(price), true
}

// NetFromPrice is price × (1 − CommissionRate) rounded to 2 decimals.
func NetFromPrice(price float64) float64 {
	net := price - price*CommissionRate
	return math.Round(net*100) / 100
}

// FormatNetAmount renders a payout as Turkish lira.
func FormatNetAmount(amount float64) string {
	return FormatLira(amount)
}

// FormatLira renders amount the way tr-TR locales show lira, e.g. "₺1.234,50".
func FormatLira(amount float64) string {
	return liraSymbol + trPrinter.Sprint(number.Decimal(amount, number.Scale(2)))
}

// CommissionPercent is CommissionRate as a whole percentage.
func CommissionPercent() int {
	return int(math.Round(CommissionRate * 100))
}
