package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/openpredict/predex/pkg/num"
	"github.com/openpredict/predex/store"
	marketkeeper "github.com/openpredict/predex/x/market/keeper"
	markettypes "github.com/openpredict/predex/x/market/types"
	obtypes "github.com/openpredict/predex/x/orderbook/types"
)

// MarketService is the market keeper surface the handler needs.
type MarketService interface {
	CreateMarket(ctx context.Context, p marketkeeper.CreateParams) (*markettypes.Market, error)
	GetMarket(ctx context.Context, id string) (*markettypes.Market, error)
	ListMarkets(ctx context.Context) ([]*markettypes.Market, error)
	SetStatus(ctx context.Context, id string, to markettypes.MarketStatus) (*markettypes.Market, error)
	DeleteMarket(ctx context.Context, id string) error
	Quote(ctx context.Context, marketID string, outcome int, side obtypes.Side, quantity num.Dec) (*marketkeeper.QuoteResult, error)
	Prices(ctx context.Context, marketID string) ([]num.Dec, error)
	PriceSheet(ctx context.Context, marketID string, quantity num.Dec) (*marketkeeper.PriceSheet, error)
	Stats(ctx context.Context, ids []string) (map[string]*markettypes.MarketStats, error)
	MarketStats(ctx context.Context, id string) (*markettypes.MarketStats, error)
	UpsertPosition(ctx context.Context, p *markettypes.Position) error
	ListPositions(ctx context.Context, marketID string) ([]*markettypes.Position, error)
	AddNews(ctx context.Context, item *store.NewsItem) (*store.NewsItem, error)
	ListNews(ctx context.Context, marketID string, limit int) ([]*store.NewsItem, error)
}

// BookSource serves live order book snapshots.
type BookSource interface {
	Snapshot(marketID string, outcome int) *obtypes.Snapshot
}

// TradeSource lists persisted trades.
type TradeSource interface {
	ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]*obtypes.Trade, error)
}

// MarketHandler handles /v1/markets and /v1/stats.
type MarketHandler struct {
	markets MarketService
	books   BookSource
	trades  TradeSource
}

// NewMarketHandler creates a market handler.
func NewMarketHandler(markets MarketService, books BookSource, trades TradeSource) *MarketHandler {
	return &MarketHandler{markets: markets, books: books, trades: trades}
}

// HandleMarkets handles /v1/markets (GET list, POST create).
func (h *MarketHandler) HandleMarkets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listMarkets(w, r)
	case http.MethodPost:
		h.createMarket(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

// HandleMarket handles /v1/markets/{id} and its sub-resources.
func (h *MarketHandler) HandleMarket(w http.ResponseWriter, r *http.Request) {
	marketID, endpoint := splitPath(r, "/v1/markets/")
	if marketID == "" {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "market id is required")
		return
	}

	switch endpoint {
	case "":
		h.handleMarketRoot(w, r, marketID)
	case "status":
		h.setStatus(w, r, marketID)
	case "open":
		h.openMarket(w, r, marketID)
	case "orderbook":
		h.snapshot(w, r, marketID)
	case "trades":
		h.listTrades(w, r, marketID)
	case "quote":
		h.quote(w, r, marketID)
	case "prices":
		h.prices(w, r, marketID)
	case "stats":
		h.stats(w, r, marketID)
	case "positions":
		h.handlePositions(w, r, marketID)
	case "news":
		h.handleNews(w, r, marketID)
	default:
		WriteErrorMsg(w, http.StatusNotFound, "NOT_FOUND", "endpoint not found")
	}
}

// HandleStats handles /v1/stats?ids=a,b,c (batch).
func (h *MarketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "ids query parameter is required")
		return
	}
	ids := strings.Split(raw, ",")
	stats, err := h.markets.Stats(r.Context(), ids)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"stats": stats})
}

func (h *MarketHandler) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.markets.ListMarkets(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"markets": markets})
}

func (h *MarketHandler) createMarket(w http.ResponseWriter, r *http.Request) {
	var params marketkeeper.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
		return
	}
	m, err := h.markets.CreateMarket(r.Context(), params)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, m)
}

func (h *MarketHandler) handleMarketRoot(w http.ResponseWriter, r *http.Request, marketID string) {
	switch r.Method {
	case http.MethodGet:
		m, err := h.markets.GetMarket(r.Context(), marketID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, m)
	case http.MethodDelete:
		if err := h.markets.DeleteMarket(r.Context(), marketID); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"id": marketID, "deleted": true})
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (h *MarketHandler) setStatus(w http.ResponseWriter, r *http.Request, marketID string) {
	if r.Method != http.MethodPost {
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
		return
	}
	status, ok := markettypes.MarketStatusFromString(req.Status)
	if !ok {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "unknown status "+req.Status)
		return
	}
	m, err := h.markets.SetStatus(r.Context(), marketID, status)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, m)
}

func (h *MarketHandler) openMarket(w http.ResponseWriter, r *http.Request, marketID string) {
	if r.Method != http.MethodPost {
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	m, err := h.markets.SetStatus(r.Context(), marketID, markettypes.MarketStatusOpen)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, m)
}

func (h *MarketHandler) snapshot(w http.ResponseWriter, r *http.Request, marketID string) {
	if r.Method != http.MethodGet {
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	outcome := queryInt(r, "outcome", 0)
	snap := h.books.Snapshot(marketID, outcome)
	WriteJSON(w, http.StatusOK, snap)
}

func (h *MarketHandler) listTrades(w http.ResponseWriter, r *http.Request, marketID string) {
	if r.Method != http.MethodGet {
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	limit := queryInt(r, "limit", 100)
	trades, err := h.trades.ListTradesByMarket(r.Context(), marketID, limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

func (h *MarketHandler) quote(w http.ResponseWriter, r *http.Request, marketID string) {
	if r.Method != http.MethodGet {
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	side, ok := obtypes.SideFromString(r.URL.Query().Get("side"))
	if !ok {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "side must be BID or ASK")
		return
	}
	quantity, err := num.NewDecFromStr(r.URL.Query().Get("quantity"))
	if err != nil {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "quantity must be a decimal number")
		return
	}
	outcome := queryInt(r, "outcome", 0)

	quote, err := h.markets.Quote(r.Context(), marketID, outcome, side, quantity)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, quote)
}

// prices serves the marginal price vector; with ?quantity= it expands to the
// full sheet of per-outcome buy/sell quotes at that size.
func (h *MarketHandler) prices(w http.ResponseWriter, r *http.Request, marketID string) {
	if r.Method != http.MethodGet {
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		quantity, err := num.NewDecFromStr(raw)
		if err != nil {
			WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "quantity must be a decimal number")
			return
		}
		sheet, err := h.markets.PriceSheet(r.Context(), marketID, quantity)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, sheet)
		return
	}
	prices, err := h.markets.Prices(r.Context(), marketID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"marketId": marketID, "prices": prices})
}

func (h *MarketHandler) stats(w http.ResponseWriter, r *http.Request, marketID string) {
	if r.Method != http.MethodGet {
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	stats, err := h.markets.MarketStats(r.Context(), marketID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func (h *MarketHandler) handlePositions(w http.ResponseWriter, r *http.Request, marketID string) {
	switch r.Method {
	case http.MethodGet:
		positions, err := h.markets.ListPositions(r.Context(), marketID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
	case http.MethodPost:
		var p markettypes.Position
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
			return
		}
		p.MarketID = marketID
		if err := h.markets.UpsertPosition(r.Context(), &p); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, &p)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (h *MarketHandler) handleNews(w http.ResponseWriter, r *http.Request, marketID string) {
	switch r.Method {
	case http.MethodGet:
		items, err := h.markets.ListNews(r.Context(), marketID, queryInt(r, "limit", 50))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"news": items})
	case http.MethodPost:
		var item store.NewsItem
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
			return
		}
		item.MarketID = marketID
		saved, err := h.markets.AddNews(r.Context(), &item)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, saved)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}
