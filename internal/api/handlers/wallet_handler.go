package handlers

import (
	"net/http"
	"strconv"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/services"
	"auction-marketplace/pkg/logger"

	"github.com/labstack/echo/v4"
)

const idempotencyHeader = "Idempotency-Key"

type WalletHandler struct {
	ledger   *services.LedgerService
	payments *services.PaymentService
	log      logger.Logger
}

type DepositRequest struct {
	OwnerID string `param:"owner" validate:"required"`
	Amount  int64  `json:"amount"`
}

type PayForBidRequest struct {
	BidID   string `param:"id" validate:"required"`
	PayerID string `json:"payer_id" validate:"required"`
}

type WalletResponse struct {
	WalletID  string    `json:"wallet_id"`
	OwnerID   string    `json:"owner_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

type EntryResponse struct {
	EntryID      string    `json:"entry_id"`
	Direction    string    `json:"direction"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Cause        string    `json:"cause"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewWalletHandler(ledger *services.LedgerService, payments *services.PaymentService,
	log logger.Logger) *WalletHandler {
	return &WalletHandler{ledger: ledger, payments: payments, log: log}
}

func toEntryResponse(e *domain.LedgerEntry) EntryResponse {
	return EntryResponse{
		EntryID:      e.ID,
		Direction:    string(e.Direction),
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
		Cause:        e.Cause.String(),
		CreatedAt:    e.CreatedAt,
	}
}

func (h *WalletHandler) Deposit(c echo.Context) error {
	var req DepositRequest
	if err := bindAndValidate(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	entry, created, err := h.payments.Deposit(c.Request().Context(), req.OwnerID, req.Amount,
		c.Request().Header.Get(idempotencyHeader))
	if err != nil {
		return respondError(c, h.log, err)
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	return c.JSON(status, toEntryResponse(entry))
}

func (h *WalletHandler) PayForBid(c echo.Context) error {
	var req PayForBidRequest
	if err := bindAndValidate(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	entry, err := h.payments.PayForBid(c.Request().Context(), req.PayerID, req.BidID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, toEntryResponse(entry))
}

func (h *WalletHandler) GetWallet(c echo.Context) error {
	wallet, err := h.ledger.Wallet(c.Request().Context(), c.Param("owner"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, WalletResponse{
		WalletID:  wallet.ID,
		OwnerID:   wallet.OwnerID,
		Balance:   wallet.Balance,
		UpdatedAt: wallet.UpdatedAt,
	})
}

func (h *WalletHandler) ListEntries(c echo.Context) error {
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	entries, err := h.ledger.History(c.Request().Context(), c.Param("owner"), offset, limit)
	if err != nil {
		return respondError(c, h.log, err)
	}
	resp := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toEntryResponse(e))
	}
	return c.JSON(http.StatusOK, resp)
}
