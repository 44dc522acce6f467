package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

// UserHeader carries the user id authenticated by the gateway.
const UserHeader = "X-User-ID"

// WalletReader is the read side used by the wallet endpoints.
type WalletReader interface {
	Value(ctx context.Context, walletID string) (domain.WalletValuation, error)
	Holdings(ctx context.Context, walletID string) (domain.Wallet, []domain.Holding, error)
}

// WalletHandler serves wallet balance and holdings.
type WalletHandler struct {
	wallets WalletReader
	logger  *slog.Logger
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(wallets WalletReader, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, logger: logger.With(slog.String("handler", "wallet"))}
}

// GetBalance values the wallet on demand.
// GET /api/wallets/{id}/balance
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}
	val, err := h.wallets.Value(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if val.UserID != user {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, val)
}

// ListHoldings returns the wallet's derived holdings.
// GET /api/wallets/{id}/holdings
func (h *WalletHandler) ListHoldings(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}
	wallet, holdings, err := h.wallets.Holdings(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if wallet.UserID != user {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if holdings == nil {
		holdings = []domain.Holding{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet_id": wallet.ID, "holdings": holdings})
}

// requestUser returns the user authenticated by the gateway.
func requestUser(r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	return user, user != ""
}
