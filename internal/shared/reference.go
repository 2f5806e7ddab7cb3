package shared

import (
	"strings"

	"github.com/google/uuid"
)

// RefundSuffix derives the compensating-transfer reference for an operation.
const RefundSuffix = "-REFUND"

// NewReference generates an operation reference with the given prefix,
// e.g. "WD-3F2A9C41D0B84E6F". The prefix identifies the operation category
// and is what reconciliation keys funding totals on.
func NewReference(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + "-" + id[:16]
}

// RefundReference returns the derived reference used by the compensating
// transfer that reverses the transfer posted under ref.
func RefundReference(ref string) string {
	return ref + RefundSuffix
}
