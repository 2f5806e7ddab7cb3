package shared

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var moneyPrinter = message.NewPrinter(language.English)

// FormatMinor renders a minor-unit amount as a grouped major-unit string,
// e.g. FormatMinor("NGN", 1250000) == "NGN 12,500.00". Used only for
// human-readable messages and audit metadata; arithmetic stays on int64.
func FormatMinor(currency string, minor int64) string {
	sign := ""
	if minor < 0 {
		// Sign is carried separately; major alone loses it for amounts
		// between -99 and -1 where the integer quotient is zero.
		sign = "-"
		minor = -minor
	}
	return moneyPrinter.Sprintf("%s %s%d.%02d", currency, sign, minor/100, minor%100)
}
