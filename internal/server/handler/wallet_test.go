package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

type stubWallets struct {
	val      domain.WalletValuation
	wallet   domain.Wallet
	holdings []domain.Holding
	err      error
}

func (s *stubWallets) Value(context.Context, string) (domain.WalletValuation, error) {
	return s.val, s.err
}

func (s *stubWallets) Holdings(context.Context, string) (domain.Wallet, []domain.Holding, error) {
	return s.wallet, s.holdings, s.err
}

func serve(h *WalletHandler, method, path, user string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/wallets/{id}/balance", h.GetBalance)
	mux.HandleFunc("GET /api/wallets/{id}/holdings", h.ListHoldings)
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestWalletHandler_GetBalance(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := &stubWallets{val: domain.WalletValuation{WalletID: "w1", UserID: "u1", CurrentValue: decimal.NewFromInt(10)}}
	h := NewWalletHandler(stub, logger)

	tests := []struct {
		name       string
		user       string
		err        error
		wantStatus int
	}{
		{name: "owner", user: "u1", wantStatus: http.StatusOK},
		{name: "no user header", wantStatus: http.StatusUnauthorized},
		{name: "other user", user: "u2", wantStatus: http.StatusNotFound},
		{name: "missing wallet", user: "u1", err: domain.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "store failure", user: "u1", err: errors.New("postgres: down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub.err = tt.err
			rec := serve(h, http.MethodGet, "/api/wallets/w1/balance", tt.user)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				var got domain.WalletValuation
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, "w1", got.WalletID)
				assert.True(t, got.CurrentValue.Equal(decimal.NewFromInt(10)))
			}
		})
	}
}

func TestWalletHandler_ListHoldings(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := &stubWallets{wallet: domain.Wallet{ID: "w1", UserID: "u1"}}
	h := NewWalletHandler(stub, logger)

	rec := serve(h, http.MethodGet, "/api/wallets/w1/holdings", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"wallet_id":"w1","holdings":[]}`, rec.Body.String())

	rec = serve(h, http.MethodGet, "/api/wallets/w1/holdings", "u2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWalletHandler_RequiresUserHeader(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := &stubWallets{
		val:    domain.WalletValuation{WalletID: "w1", UserID: "u1"},
		wallet: domain.Wallet{ID: "w1", UserID: "u1"},
	}
	h := NewWalletHandler(stub, logger)

	for _, path := range []string{
		"/api/wallets/w1/balance?user_id=u1",
		"/api/wallets/w1/holdings?user_id=u1",
	} {
		rec := serve(h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "w1", path)
	}

	rec := serve(h, http.MethodGet, "/api/wallets/w1/balance", "   ")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("redis: ping: refused") })

	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"redis": ok}, logger).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"redis": ok, "postgres": down}, logger).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["redis"])
}
