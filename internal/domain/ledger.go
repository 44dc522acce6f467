package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind discriminates the variant carried by a Transaction.
type TransactionKind string

const (
	TransactionKindBuyOrSell TransactionKind = "buy_or_sell"
	TransactionKindTransfer  TransactionKind = "transfer"
)

// TradeSide is the direction of a BuyOrSell transaction.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// TransferDirection is the direction of a Transfer transaction relative to
// the owning wallet.
type TransferDirection string

const (
	TransferIn  TransferDirection = "in"
	TransferOut TransferDirection = "out"
)

// BuyOrSell holds the fields specific to a trade.
type BuyOrSell struct {
	Side       TradeSide       `json:"side"`
	Price      decimal.Decimal `json:"price"`
	CurrencyID string          `json:"currency_id"`
}

// Transfer holds the fields specific to a movement of units between wallets.
type Transfer struct {
	Direction TransferDirection `json:"direction"`
	Source    string            `json:"source,omitempty"`
	Target    string            `json:"target,omitempty"`
}

// Transaction is one ledger entry. Exactly one of BuyOrSell or Transfer is
// set, matching Kind.
type Transaction struct {
	ID        string          `json:"id"`
	WalletID  string          `json:"wallet_id"`
	AssetID   string          `json:"asset_id"`
	Date      time.Time       `json:"date"`
	Kind      TransactionKind `json:"kind"`
	Qty       decimal.Decimal `json:"qty"`
	Note      string          `json:"note,omitempty"`
	BuyOrSell *BuyOrSell      `json:"buy_or_sell,omitempty"`
	Transfer  *Transfer       `json:"transfer,omitempty"`
}

// HoldingKey returns the (wallet, asset) key the transaction contributes to.
func (t Transaction) HoldingKey() HoldingKey {
	return HoldingKey{WalletID: t.WalletID, AssetID: t.AssetID}
}

// Validate checks the variant fields and quantities. Errors wrap
// ErrMalformedInput.
func (t Transaction) Validate() error {
	if t.WalletID == "" || t.AssetID == "" {
		return fmt.Errorf("%w: transaction %s missing wallet or asset", ErrMalformedInput, t.ID)
	}
	if !t.Qty.IsPositive() {
		return fmt.Errorf("%w: transaction %s quantity must be positive", ErrMalformedInput, t.ID)
	}
	switch t.Kind {
	case TransactionKindBuyOrSell:
		if t.BuyOrSell == nil || t.Transfer != nil {
			return fmt.Errorf("%w: transaction %s kind %s has wrong variant", ErrMalformedInput, t.ID, t.Kind)
		}
		if t.BuyOrSell.Side != TradeSideBuy && t.BuyOrSell.Side != TradeSideSell {
			return fmt.Errorf("%w: transaction %s unknown side %q", ErrMalformedInput, t.ID, t.BuyOrSell.Side)
		}
		if t.BuyOrSell.Price.IsNegative() {
			return fmt.Errorf("%w: transaction %s negative price", ErrMalformedInput, t.ID)
		}
	case TransactionKindTransfer:
		if t.Transfer == nil || t.BuyOrSell != nil {
			return fmt.Errorf("%w: transaction %s kind %s has wrong variant", ErrMalformedInput, t.ID, t.Kind)
		}
		if t.Transfer.Direction != TransferIn && t.Transfer.Direction != TransferOut {
			return fmt.Errorf("%w: transaction %s unknown transfer direction %q", ErrMalformedInput, t.ID, t.Transfer.Direction)
		}
	default:
		return fmt.Errorf("%w: transaction %s unknown kind %q", ErrMalformedInput, t.ID, t.Kind)
	}
	return nil
}

// SignedQty is the quantity contribution to the holding: positive for buys
// and inbound transfers, negative for sells and outbound transfers.
func (t Transaction) SignedQty() decimal.Decimal {
	switch {
	case t.BuyOrSell != nil && t.BuyOrSell.Side == TradeSideBuy:
		return t.Qty
	case t.Transfer != nil && t.Transfer.Direction == TransferIn:
		return t.Qty
	default:
		return t.Qty.Neg()
	}
}

// CostBasis is the contribution to the holding's initial value, in the
// trade's currency. Only buys carry a cost.
func (t Transaction) CostBasis() decimal.Decimal {
	if t.BuyOrSell != nil && t.BuyOrSell.Side == TradeSideBuy {
		return t.Qty.Mul(t.BuyOrSell.Price)
	}
	return decimal.Zero
}

// HoldingKey identifies a holding.
type HoldingKey struct {
	WalletID string
	AssetID  string
}

// String returns "wallet:asset", used for lock names and logs.
func (k HoldingKey) String() string {
	return k.WalletID + ":" + k.AssetID
}

// Holding is the derived position of one asset inside one wallet.
type Holding struct {
	ID           string          `json:"id"`
	WalletID     string          `json:"wallet_id"`
	AssetID      string          `json:"asset_id"`
	Qty          decimal.Decimal `json:"qty"`
	InitialValue decimal.Decimal `json:"initial_value"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Wallet is a user's portfolio container with a settlement currency.
type Wallet struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	CurrencyID string    `json:"currency_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Asset is a tradable instrument such as "btc".
type Asset struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Currency is a settlement unit such as "usd".
type Currency struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}
