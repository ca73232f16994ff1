package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, auctions *AuctionHandler, wallets *WalletHandler, service string) {
	api := e.Group("/api/v1")
	api.POST("/auctions", auctions.CreateAuction)
	api.GET("/auctions/:id", auctions.GetAuction)
	api.GET("/auctions/:id/summary", auctions.GetSummary)
	api.GET("/auctions/:id/bids", auctions.ListBids)
	api.POST("/auctions/:id/bids", auctions.PlaceBid)
	api.GET("/bidders/:id/bids", auctions.ListBidderBids)

	api.POST("/bids/:id/payment", wallets.PayForBid)
	api.POST("/wallets/:owner/deposits", wallets.Deposit)
	api.GET("/wallets/:owner", wallets.GetWallet)
	api.GET("/wallets/:owner/ledger", wallets.ListEntries)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   service,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
}
