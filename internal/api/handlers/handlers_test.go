package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/infrastructure/memory"
	"auction-marketplace/internal/infrastructure/redis"
	"auction-marketplace/internal/services"
	"auction-marketplace/pkg/clock"
	"auction-marketplace/pkg/logger"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProjections map[string]*redis.AuctionProjection

func (s stubProjections) Get(ctx context.Context, id string) (*redis.AuctionProjection, error) {
	if p, ok := s[id]; ok {
		return p, nil
	}
	return nil, errors.Wrapf(domain.ErrAuctionNotFound, "projection %s", id)
}

type noNotices struct{}

func (noNotices) Publish([]*domain.ChangeEvent) {}

func (noNotices) PublishNotice(context.Context, *domain.AuctionNotice) error { return nil }

type api struct {
	e         *echo.Echo
	clock     *clock.MockClock
	lifecycle *services.LifecycleService
	leases    *memory.LeaseStore
}

func newAPI(t *testing.T) *api {
	t.Helper()
	log := logger.NewNop()
	store := memory.NewStore()
	clk := clock.NewMockClock(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
	leases := memory.NewLeaseStore(clk)
	locker := services.NewLockCoordinator(leases, time.Millisecond, log)
	timeouts := services.LockTimeouts{Wait: 20 * time.Millisecond, Lease: 5 * time.Second}

	auctions := services.NewAuctionManager(store, nil, clk, log)
	bids := services.NewBidService(store, locker, services.FixedIncrement{Step: 100}, noNotices{}, clk, timeouts, log)
	ledger := services.NewLedgerService(store, locker, clk, timeouts, log)
	payments := services.NewPaymentService(store, locker, ledger, timeouts, log)

	e := echo.New()
	e.Validator = NewRequestValidator()
	RegisterRoutes(e,
		NewAuctionHandler(auctions, bids, stubProjections{"a1": {AuctionID: "a1", Price: 500, Status: "open"}}, log),
		NewWalletHandler(ledger, payments, log),
		"auction-service")

	return &api{
		e:         e,
		clock:     clk,
		lifecycle: services.NewLifecycleService(store, locker, noNotices{}, noNotices{}, clk, timeouts, 100, log),
		leases:    leases,
	}
}

func (a *api) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func (a *api) createAuction(t *testing.T) AuctionResponse {
	t.Helper()
	now := a.clock.Now()
	body := `{"seller_id":"seller","title":"Lamp","initial_price":1000,` +
		`"start_time":"` + now.Format(time.RFC3339) + `","end_time":"` + now.Add(time.Hour).Format(time.RFC3339) + `"}`
	rec := a.do(t, http.MethodPost, "/api/v1/auctions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp AuctionResponse
	decode(t, rec, &resp)
	return resp
}

func TestAuctionHandler_CreateAndBid(t *testing.T) {
	a := newAPI(t)
	auction := a.createAuction(t)
	assert.Equal(t, "open", auction.Status)
	assert.Equal(t, int64(1000), auction.CurrentPrice)

	rec := a.do(t, http.MethodPost, "/api/v1/auctions/"+auction.AuctionID+"/bids", `{"bidder_id":"x","price":1100}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var bid BidResponse
	decode(t, rec, &bid)
	assert.Equal(t, "active", bid.Status)

	rec = a.do(t, http.MethodPost, "/api/v1/auctions/"+auction.AuctionID+"/bids", `{"bidder_id":"y","price":1150}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var errResp errorResponse
	decode(t, rec, &errResp)
	assert.Equal(t, "state_conflict", errResp.Kind)
	assert.False(t, errResp.Retryable)

	rec = a.do(t, http.MethodGet, "/api/v1/auctions/"+auction.AuctionID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got AuctionResponse
	decode(t, rec, &got)
	assert.Equal(t, int64(1100), got.CurrentPrice)
	assert.Equal(t, 1, got.BidderCount)

	rec = a.do(t, http.MethodGet, "/api/v1/auctions/"+auction.AuctionID+"/bids?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var bids []BidResponse
	decode(t, rec, &bids)
	assert.Len(t, bids, 1)
}

func TestAuctionHandler_ListBidderBids(t *testing.T) {
	a := newAPI(t)
	auction := a.createAuction(t)
	bidsPath := "/api/v1/auctions/" + auction.AuctionID + "/bids"

	for _, body := range []string{
		`{"bidder_id":"x","price":1100}`,
		`{"bidder_id":"y","price":1200}`,
		`{"bidder_id":"x","price":1300}`,
	} {
		rec := a.do(t, http.MethodPost, bidsPath, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := a.do(t, http.MethodGet, "/api/v1/bidders/x/bids", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []MyBidResponse
	decode(t, rec, &mine)
	require.Len(t, mine, 2)
	assert.Equal(t, int64(1300), mine[0].Price)
	assert.True(t, mine[0].IsWinning)
	assert.Equal(t, int64(1100), mine[1].Price)
	assert.False(t, mine[1].IsWinning)
	assert.Equal(t, int64(1300), mine[1].CurrentPrice)
	assert.Equal(t, "open", mine[1].AuctionStatus)

	rec = a.do(t, http.MethodGet, "/api/v1/bidders/x/bids?page=2&size=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	mine = nil
	decode(t, rec, &mine)
	require.Len(t, mine, 1)
	assert.Equal(t, int64(1100), mine[0].Price)

	rec = a.do(t, http.MethodGet, "/api/v1/bidders/nobody/bids", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestAuctionHandler_ErrorMapping(t *testing.T) {
	a := newAPI(t)
	auction := a.createAuction(t)
	bidsPath := "/api/v1/auctions/" + auction.AuctionID + "/bids"

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed body", http.MethodPost, "/api/v1/auctions", `{`, http.StatusBadRequest},
		{"missing title", http.MethodPost, "/api/v1/auctions", `{"seller_id":"s","initial_price":1}`, http.StatusBadRequest},
		{"missing bidder", http.MethodPost, bidsPath, `{"price":5000}`, http.StatusBadRequest},
		{"zero price", http.MethodPost, bidsPath, `{"bidder_id":"x","price":0}`, http.StatusBadRequest},
		{"self bid", http.MethodPost, bidsPath, `{"bidder_id":"seller","price":5000}`, http.StatusBadRequest},
		{"unknown auction", http.MethodGet, "/api/v1/auctions/nope", "", http.StatusNotFound},
		{"bid on unknown auction", http.MethodPost, "/api/v1/auctions/nope/bids", `{"bidder_id":"x","price":5000}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAuctionHandler_ContentionIsRetryable(t *testing.T) {
	a := newAPI(t)
	auction := a.createAuction(t)

	_, err := a.leases.TryAcquire(context.Background(), domain.AuctionLockName(auction.AuctionID), "sweeper", time.Minute)
	require.NoError(t, err)

	rec := a.do(t, http.MethodPost, "/api/v1/auctions/"+auction.AuctionID+"/bids", `{"bidder_id":"x","price":5000}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	var errResp errorResponse
	decode(t, rec, &errResp)
	assert.True(t, errResp.Retryable)
}

func TestAuctionHandler_Summary(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodGet, "/api/v1/auctions/a1/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var proj redis.AuctionProjection
	decode(t, rec, &proj)
	assert.Equal(t, int64(500), proj.Price)

	rec = a.do(t, http.MethodGet, "/api/v1/auctions/zz/summary", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWalletHandler_DepositAndPay(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/wallets/x/deposits", `{"amount":5000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "idempotency key is required")

	rec = a.do(t, http.MethodPost, "/api/v1/wallets/x/deposits", `{"amount":5000}`, idempotencyHeader, "dep-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first EntryResponse
	decode(t, rec, &first)
	assert.Equal(t, "credit", first.Direction)
	assert.Equal(t, "payment:dep-1", first.Cause)

	rec = a.do(t, http.MethodPost, "/api/v1/wallets/x/deposits", `{"amount":5000}`, idempotencyHeader, "dep-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var replay EntryResponse
	decode(t, rec, &replay)
	assert.Equal(t, first.EntryID, replay.EntryID)

	auction := a.createAuction(t)
	rec = a.do(t, http.MethodPost, "/api/v1/auctions/"+auction.AuctionID+"/bids", `{"bidder_id":"x","price":1200}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var bid BidResponse
	decode(t, rec, &bid)

	rec = a.do(t, http.MethodPost, "/api/v1/bids/"+bid.BidID+"/payment", `{"payer_id":"x"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "auction still open")

	a.clock.Add(2 * time.Hour)
	_, err := a.lifecycle.CloseExpiredAuctions(context.Background(), a.clock.Now())
	require.NoError(t, err)

	rec = a.do(t, http.MethodPost, "/api/v1/bids/"+bid.BidID+"/payment", `{"payer_id":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var payment EntryResponse
	decode(t, rec, &payment)
	assert.Equal(t, "debit", payment.Direction)
	assert.Equal(t, int64(3800), payment.BalanceAfter)

	rec = a.do(t, http.MethodGet, "/api/v1/wallets/x", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var wallet WalletResponse
	decode(t, rec, &wallet)
	assert.Equal(t, int64(3800), wallet.Balance)

	rec = a.do(t, http.MethodGet, "/api/v1/wallets/x/ledger?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []EntryResponse
	decode(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, payment.EntryID, entries[0].EntryID)

	rec = a.do(t, http.MethodGet, "/api/v1/wallets/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"service":"auction-service"`)
}
