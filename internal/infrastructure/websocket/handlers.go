package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/logger"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	bidTimeout     = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type BidSubmitter interface {
	SubmitBid(ctx context.Context, auctionID, bidderID string, price int64) (*domain.Bid, error)
}

type AuctionReader interface {
	GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error)
}

type clientMessage struct {
	Type  string `json:"type"`
	Price int64  `json:"price"`
}

type WebSocketHandler struct {
	bids        BidSubmitter
	auctions    AuctionReader
	connManager domain.ConnectionManager
	log         logger.Logger
}

func NewWebSocketHandler(bids BidSubmitter, auctions AuctionReader,
	connManager domain.ConnectionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		bids:        bids,
		auctions:    auctions,
		connManager: connManager,
		log:         log,
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["auctionID"]

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	auction, err := h.auctions.GetAuction(r.Context(), auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			http.Error(w, "auction not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to load auction", "auction_id", auctionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if auction.Status.Settled() {
		h.log.Info("Rejected connection - auction has ended", "auction_id", auctionID)
		http.Error(w, "auction has already ended", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewWebSocketConnection(conn, userID, auctionID)
	if err := h.connManager.RegisterConnection(userID, auctionID, wsConn); err != nil {
		h.log.Error("Failed to register connection", "error", err)
		_ = conn.Close()
		return
	}

	go h.handleMessages(wsConn)
}

func (h *WebSocketHandler) handleMessages(conn *WebSocketConnection) {
	defer func() {
		if err := h.connManager.UnregisterConnection(conn); err != nil {
			h.log.Error("Failed to unregister connection", "user_id", conn.UserID(), "error", err)
		}
		_ = conn.Close()
	}()

	conn.conn.SetReadLimit(maxMessageSize)
	for {
		var msg clientMessage
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("Connection closed unexpectedly", "user_id", conn.UserID(), "error", err)
			}
			return
		}

		switch msg.Type {
		case "place_bid":
			h.handleBidMessage(conn, msg)
		case "ping":
			h.reply(conn, map[string]string{"type": "pong"})
		default:
			h.reply(conn, map[string]string{"type": "error", "message": "unknown message type"})
		}
	}
}

func (h *WebSocketHandler) handleBidMessage(conn *WebSocketConnection, msg clientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), bidTimeout)
	defer cancel()

	bid, err := h.bids.SubmitBid(ctx, conn.AuctionID(), conn.UserID(), msg.Price)
	if err != nil {
		kind := domain.Classify(err)
		if kind == domain.KindPersistence {
			h.log.Error("Failed to place bid", "auction_id", conn.AuctionID(), "error", err)
		}
		h.reply(conn, map[string]interface{}{
			"type":      "bid_rejected",
			"reason":    kind.String(),
			"retryable": domain.IsRetryable(err),
			"price":     msg.Price,
		})
		return
	}
	h.reply(conn, map[string]interface{}{
		"type":   "bid_accepted",
		"bid_id": bid.ID,
		"price":  bid.Price,
	})
}

func (h *WebSocketHandler) reply(conn *WebSocketConnection, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("Failed to encode reply", "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		h.log.Debug("Failed to send reply", "user_id", conn.UserID(), "error", err)
	}
}

// WebSocketConnection serialises writes; gorilla connections allow one
// concurrent writer.
type WebSocketConnection struct {
	conn      *websocket.Conn
	userID    string
	auctionID string
	writeMu   sync.Mutex
}

func NewWebSocketConnection(conn *websocket.Conn, userID, auctionID string) *WebSocketConnection {
	return &WebSocketConnection{
		conn:      conn,
		userID:    userID,
		auctionID: auctionID,
	}
}

func (wsc *WebSocketConnection) Send(message []byte) error {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()
	if err := wsc.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return wsc.conn.WriteMessage(websocket.TextMessage, message)
}

func (wsc *WebSocketConnection) Close() error {
	return wsc.conn.Close()
}

func (wsc *WebSocketConnection) UserID() string {
	return wsc.userID
}

func (wsc *WebSocketConnection) AuctionID() string {
	return wsc.auctionID
}
