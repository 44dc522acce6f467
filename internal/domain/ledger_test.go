package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(side TradeSide, qty, price int64) Transaction {
	return Transaction{
		ID:        "t1",
		WalletID:  "w1",
		AssetID:   "btc",
		Kind:      TransactionKindBuyOrSell,
		Qty:       decimal.NewFromInt(qty),
		BuyOrSell: &BuyOrSell{Side: side, Price: decimal.NewFromInt(price), CurrencyID: "usd"},
	}
}

func transfer(dir TransferDirection, qty int64) Transaction {
	return Transaction{
		ID:       "t2",
		WalletID: "w1",
		AssetID:  "btc",
		Kind:     TransactionKindTransfer,
		Qty:      decimal.NewFromInt(qty),
		Transfer: &Transfer{Direction: dir},
	}
}

func TestTransaction_SignedQtyAndCost(t *testing.T) {
	tests := []struct {
		name     string
		tx       Transaction
		wantQty  int64
		wantCost int64
	}{
		{name: "buy", tx: trade(TradeSideBuy, 2, 100), wantQty: 2, wantCost: 200},
		{name: "sell", tx: trade(TradeSideSell, 1, 150), wantQty: -1, wantCost: 0},
		{name: "transfer in", tx: transfer(TransferIn, 3), wantQty: 3, wantCost: 0},
		{name: "transfer out", tx: transfer(TransferOut, 3), wantQty: -3, wantCost: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.tx.SignedQty().Equal(decimal.NewFromInt(tt.wantQty)))
			assert.True(t, tt.tx.CostBasis().Equal(decimal.NewFromInt(tt.wantCost)))
		})
	}
}

func TestTransaction_Validate(t *testing.T) {
	noWallet := trade(TradeSideBuy, 1, 1)
	noWallet.WalletID = ""
	zeroQty := trade(TradeSideBuy, 0, 1)
	negPrice := trade(TradeSideBuy, 1, -1)
	badSide := trade("hold", 1, 1)
	mixed := trade(TradeSideBuy, 1, 1)
	mixed.Transfer = &Transfer{Direction: TransferIn}
	badDir := transfer("sideways", 1)
	unknown := trade(TradeSideBuy, 1, 1)
	unknown.Kind = "staking"

	tests := []struct {
		name    string
		tx      Transaction
		wantErr bool
	}{
		{name: "valid buy", tx: trade(TradeSideBuy, 1, 10)},
		{name: "valid transfer", tx: transfer(TransferOut, 1)},
		{name: "missing wallet", tx: noWallet, wantErr: true},
		{name: "zero quantity", tx: zeroQty, wantErr: true},
		{name: "negative price", tx: negPrice, wantErr: true},
		{name: "bad side", tx: badSide, wantErr: true},
		{name: "both variants", tx: mixed, wantErr: true},
		{name: "bad direction", tx: badDir, wantErr: true},
		{name: "unknown kind", tx: unknown, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTransactionEvent_DecodeVariant(t *testing.T) {
	raw := `{"id":"e1","date":"2026-01-02T03:04:05Z","transaction":{
		"id":"t1","wallet_id":"w1","asset_id":"btc","kind":"transfer","qty":"1.5",
		"date":"2026-01-01T00:00:00Z","transfer":{"direction":"in"}}}`

	var ev TransactionEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	require.NoError(t, ev.Transaction.Validate())
	assert.Equal(t, "e1", ev.ID)
	assert.Nil(t, ev.Transaction.BuyOrSell)
	assert.True(t, ev.Transaction.SignedQty().Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, HoldingKey{WalletID: "w1", AssetID: "btc"}, ev.Transaction.HoldingKey())
}

func TestChangePercent(t *testing.T) {
	assert.True(t, ChangePercent(decimal.NewFromInt(150), decimal.NewFromInt(100)).Equal(decimal.NewFromInt(50)))
	assert.True(t, ChangePercent(decimal.NewFromInt(150), decimal.Zero).IsZero())
}
