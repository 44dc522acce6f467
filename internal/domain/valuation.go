package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// HoldingValuation is the mark-to-market value of one holding.
type HoldingValuation struct {
	HoldingID     string          `json:"holding_id"`
	AssetID       string          `json:"asset_id"`
	AssetSymbol   string          `json:"asset_symbol"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	Priced        bool            `json:"priced"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	InitialValue  decimal.Decimal `json:"initial_value"`
	Delta         decimal.Decimal `json:"delta"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// WalletValuation is the mark-to-market value of a wallet in its settlement
// currency.
type WalletValuation struct {
	WalletID      string             `json:"wallet_id"`
	UserID        string             `json:"user_id"`
	Currency      string             `json:"currency"`
	Holdings      []HoldingValuation `json:"holdings"`
	CurrentValue  decimal.Decimal    `json:"current_value"`
	InitialValue  decimal.Decimal    `json:"initial_value"`
	Delta         decimal.Decimal    `json:"delta"`
	ChangePercent decimal.Decimal    `json:"change_percent"`
	ComputedAt    time.Time          `json:"computed_at"`
}

// ChangePercent returns (current-initial)/initial*100, or zero when the
// initial value is not positive.
func ChangePercent(current, initial decimal.Decimal) decimal.Decimal {
	if !initial.IsPositive() {
		return decimal.Zero
	}
	return current.Sub(initial).Div(initial).Mul(hundred)
}
