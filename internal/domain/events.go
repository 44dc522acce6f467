package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Durable streams carrying inbound events and internal requests.
const (
	StreamTransactionCreated    = "events:transaction.created"
	StreamTransactionUpdated    = "events:transaction.updated"
	StreamTransactionDeleted    = "events:transaction.deleted"
	StreamAssetTicksUpserted    = "events:asset_ticks.upserted"
	StreamCurrencyTicksUpserted = "events:currency_ticks.upserted"
	StreamComputeWalletBalance  = "requests:balance.compute"
	StreamBulkComputeBalance    = "requests:balance.bulk_compute"
)

// DeadLetterStream returns the stream that receives messages from stream
// which could not be processed.
func DeadLetterStream(stream string) string {
	return stream + ":dead"
}

// UserBalanceChannel is the pub/sub channel that carries live balance updates
// for a single user.
func UserBalanceChannel(userID string) string {
	return "ch:user:" + userID + ":balance"
}

// UserBalanceChannelPattern matches every UserBalanceChannel.
const UserBalanceChannelPattern = "ch:user:*:balance"

// EventHeader is common to every inbound event.
type EventHeader struct {
	ID     string    `json:"id"`
	Date   time.Time `json:"date"`
	UserID string    `json:"user_id,omitempty"`
}

// TransactionEvent is the payload of the transaction created, updated and
// deleted streams. Previous is optionally set on updates.
type TransactionEvent struct {
	EventHeader
	Transaction Transaction  `json:"transaction"`
	Previous    *Transaction `json:"previous,omitempty"`
}

// AssetTick is an asset price quoted in a currency.
type AssetTick struct {
	AssetSymbol    string          `json:"asset_symbol"`
	VsCurrencyCode string          `json:"vs_currency_code"`
	Timestamp      time.Time       `json:"timestamp"`
	Value          decimal.Decimal `json:"value"`
}

// PriceTick converts the wire tick into a validated cache tick.
func (t AssetTick) PriceTick() (PriceTick, error) {
	return newPriceTick(t.AssetSymbol, t.VsCurrencyCode, t.Timestamp, t.Value)
}

// AssetPriceTicksUpserted announces a batch of new asset prices.
type AssetPriceTicksUpserted struct {
	EventHeader
	Ticks []AssetTick `json:"ticks"`
}

// CurrencyTick is an exchange rate between two currencies.
type CurrencyTick struct {
	CurrencyCode   string          `json:"currency_code"`
	VsCurrencyCode string          `json:"vs_currency_code"`
	Timestamp      time.Time       `json:"timestamp"`
	Value          decimal.Decimal `json:"value"`
}

// PriceTick converts the wire tick into a validated cache tick.
func (t CurrencyTick) PriceTick() (PriceTick, error) {
	return newPriceTick(t.CurrencyCode, t.VsCurrencyCode, t.Timestamp, t.Value)
}

func newPriceTick(left, right string, ts time.Time, value decimal.Decimal) (PriceTick, error) {
	pair, err := NewPair(left, right)
	if err != nil {
		return PriceTick{}, err
	}
	tick := PriceTick{Pair: pair, Timestamp: ts, Value: value}
	if err := tick.Validate(); err != nil {
		return PriceTick{}, err
	}
	return tick, nil
}

// CurrencyPriceTicksUpserted announces a batch of new exchange rates.
type CurrencyPriceTicksUpserted struct {
	EventHeader
	Ticks []CurrencyTick `json:"ticks"`
}

// ComputeWalletBalance requests a fresh valuation of a single wallet.
type ComputeWalletBalance struct {
	RequestID string `json:"request_id"`
	WalletID  string `json:"wallet_id"`
}

// BulkComputeWalletBalance requests valuation of every wallet affected by
// a change to the named assets or currencies.
type BulkComputeWalletBalance struct {
	RequestID   string   `json:"request_id"`
	AssetIDs    []string `json:"asset_ids"`
	CurrencyIDs []string `json:"currency_ids"`
}

// BalanceChangedType is the message type of a live balance update.
const BalanceChangedType = "wallet_balance_changed"

// WalletBalanceChanged is pushed to the wallet owner after a valuation.
type WalletBalanceChanged struct {
	Type    string          `json:"type"`
	Payload WalletValuation `json:"payload"`
}

// EventTrace is a persisted copy of an inbound message.
type EventTrace struct {
	ID        int64           `json:"id"`
	MessageID string          `json:"message_id"`
	Stream    string          `json:"stream"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
