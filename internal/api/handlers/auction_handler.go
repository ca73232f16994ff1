package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/infrastructure/redis"
	"auction-marketplace/internal/services"
	"auction-marketplace/pkg/logger"

	"github.com/labstack/echo/v4"
)

type ProjectionReader interface {
	Get(ctx context.Context, auctionID string) (*redis.AuctionProjection, error)
}

type AuctionHandler struct {
	auctionManager *services.AuctionManager
	bidService     *services.BidService
	projections    ProjectionReader
	log            logger.Logger
}

type CreateAuctionRequest struct {
	SellerID     string    `json:"seller_id" validate:"required"`
	Title        string    `json:"title" validate:"required,max=200"`
	InitialPrice int64     `json:"initial_price" validate:"gt=0"`
	StartTime    time.Time `json:"start_time" validate:"required"`
	EndTime      time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
}

type PlaceBidRequest struct {
	AuctionID string `param:"id" validate:"required"`
	BidderID  string `json:"bidder_id" validate:"required"`
	Price     int64  `json:"price"`
}

type AuctionResponse struct {
	AuctionID    string    `json:"auction_id"`
	SellerID     string    `json:"seller_id"`
	Title        string    `json:"title"`
	InitialPrice int64     `json:"initial_price"`
	CurrentPrice int64     `json:"current_price"`
	Status       string    `json:"status"`
	BidderCount  int       `json:"bidder_count"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

type BidResponse struct {
	BidID     string    `json:"bid_id"`
	AuctionID string    `json:"auction_id"`
	BidderID  string    `json:"bidder_id"`
	Price     int64     `json:"price"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type MyBidResponse struct {
	BidResponse
	CurrentPrice  int64  `json:"current_price"`
	AuctionStatus string `json:"auction_status"`
	IsWinning     bool   `json:"is_winning"`
}

func NewAuctionHandler(auctionManager *services.AuctionManager, bidService *services.BidService,
	projections ProjectionReader, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctionManager: auctionManager,
		bidService:     bidService,
		projections:    projections,
		log:            log,
	}
}

func toAuctionResponse(a *domain.Auction) AuctionResponse {
	return AuctionResponse{
		AuctionID:    a.ID,
		SellerID:     a.SellerID,
		Title:        a.Title,
		InitialPrice: a.InitialPrice,
		CurrentPrice: a.CurrentPrice,
		Status:       a.Status.String(),
		BidderCount:  a.BidderCount,
		StartTime:    a.StartTime,
		EndTime:      a.EndTime,
	}
}

func toBidResponse(b *domain.Bid) BidResponse {
	return BidResponse{
		BidID:     b.ID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Price:     b.Price,
		Status:    b.Status.String(),
		CreatedAt: b.CreatedAt,
	}
}

func (h *AuctionHandler) CreateAuction(c echo.Context) error {
	var req CreateAuctionRequest
	if err := bindAndValidate(c, &req); err != nil {
		h.log.Debug("Rejected create auction request", "error", err)
		return badRequest(c, err.Error())
	}

	auction, err := h.auctionManager.CreateAuction(c.Request().Context(), services.CreateAuctionInput{
		SellerID:     req.SellerID,
		Title:        req.Title,
		InitialPrice: req.InitialPrice,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, toAuctionResponse(auction))
}

func (h *AuctionHandler) GetAuction(c echo.Context) error {
	auction, err := h.auctionManager.GetAuction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, toAuctionResponse(auction))
}

// GetSummary serves the search projection; it may lag the auction row.
func (h *AuctionHandler) GetSummary(c echo.Context) error {
	proj, err := h.projections.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, proj)
}

func (h *AuctionHandler) ListBids(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	bids, err := h.bidService.ListBids(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return respondError(c, h.log, err)
	}
	resp := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		resp = append(resp, toBidResponse(b))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AuctionHandler) ListBidderBids(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("size"))
	bids, err := h.bidService.ListMyBids(c.Request().Context(), c.Param("id"), page, size)
	if err != nil {
		return respondError(c, h.log, err)
	}
	resp := make([]MyBidResponse, 0, len(bids))
	for _, b := range bids {
		resp = append(resp, MyBidResponse{
			BidResponse:   toBidResponse(b.Bid),
			CurrentPrice:  b.CurrentPrice,
			AuctionStatus: b.AuctionStatus.String(),
			IsWinning:     b.IsWinning,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AuctionHandler) PlaceBid(c echo.Context) error {
	var req PlaceBidRequest
	if err := bindAndValidate(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	bid, err := h.bidService.SubmitBid(c.Request().Context(), req.AuctionID, req.BidderID, req.Price)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, toBidResponse(bid))
}
