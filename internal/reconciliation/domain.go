// Package reconciliation compares the ledger's daily totals against the
// gateway's settlement reports, one category at a time.
package reconciliation

import (
	"time"

	"github.com/google/uuid"
)

// Category is one comparable money flow.
type Category string

const (
	CategoryFunding    Category = "wallet_funding"
	CategoryWithdrawal Category = "withdrawal"
	CategoryAirtime    Category = "airtime"
	CategoryData       Category = "data"
)

// Categories lists every flow a run covers, in report order.
var Categories = []Category{CategoryFunding, CategoryWithdrawal, CategoryAirtime, CategoryData}

// Item status values.
const (
	ItemMatched  = "matched"
	ItemMismatch = "amount_mismatch"
)

// Run status values.
const (
	RunMatched  = "matched"
	RunMismatch = "mismatch"
)

// Item is one category's comparison inside a run.
type Item struct {
	ID           uuid.UUID `json:"id"`
	RunID        uuid.UUID `json:"run_id"`
	Category     Category  `json:"category"`
	LedgerTotal  int64     `json:"ledger_total"`
	GatewayTotal int64     `json:"gateway_total"`
	Delta        int64     `json:"delta"`
	Status       string    `json:"status"`
}

// Run is one day's reconciliation over all categories. Discrepancy is the
// sum of absolute per-category deltas.
type Run struct {
	ID          uuid.UUID `json:"id"`
	Day         time.Time `json:"day"`
	Status      string    `json:"status"`
	Discrepancy int64     `json:"discrepancy"`
	Items       []Item    `json:"items,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
