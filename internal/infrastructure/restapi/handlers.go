package restapi

import (
	"errors"
	"net/http"
	"strings"

	"portfolio_sync/internal/app/port"
	"portfolio_sync/internal/domain/entity"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIResponse is the envelope of every API response.
type APIResponse struct {
	Data          any    `json:"data,omitempty"`
	Error         string `json:"error,omitempty"`
	StatusMessage string `json:"status_message"`
}

// LoadedHistoryResponse is the body of the loaded history endpoint.
type LoadedHistoryResponse struct {
	Records []entity.TransactionRecord `json:"records"`
	Done    bool                       `json:"done"`
}

// StartSessionRequest is the body of POST /sessions.
type StartSessionRequest struct {
	Owner    string `json:"owner" binding:"required"`
	Currency string `json:"currency"`
}

// errorStatus maps engine errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, entity.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, entity.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, APIResponse{Error: err.Error(), StatusMessage: msg})
}

// PortfolioHandler serves portfolio snapshots.
type PortfolioHandler struct {
	portfolioService port.PortfolioService
	defaultCurrency  string
	logger           *zap.Logger
}

// NewPortfolioHandler creates a new instance of PortfolioHandler.
func NewPortfolioHandler(ps port.PortfolioService, defaultCurrency string, logger *zap.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		portfolioService: ps,
		defaultCurrency:  defaultCurrency,
		logger:           logger.Named("PortfolioHandler"),
	}
}

// GetPortfolioHandler returns the snapshot of one owner. With cached=true the last polled snapshot
// is returned without touching the ledger.
func (h *PortfolioHandler) GetPortfolioHandler(c *gin.Context) {
	owner := c.Param("owner")
	currency := strings.ToLower(c.DefaultQuery("currency", h.defaultCurrency))

	if c.Query("cached") == "true" {
		snap, ok := h.portfolioService.Current(owner, currency)
		if !ok {
			c.JSON(http.StatusNotFound, APIResponse{StatusMessage: "No snapshot has been built for this owner yet."})
			return
		}
		c.JSON(http.StatusOK, APIResponse{Data: snap, StatusMessage: "Cached portfolio returned."})
		return
	}

	snap, err := h.portfolioService.Snapshot(c.Request.Context(), owner, currency)
	if err != nil {
		writeError(c, h.logger, "Failed to build portfolio snapshot.", err)
		return
	}

	msg := "Portfolio retrieved successfully."
	if len(snap.Unpriced()) > 0 {
		msg = "Portfolio retrieved. Some holdings have no price."
	}
	c.JSON(http.StatusOK, APIResponse{Data: snap, StatusMessage: msg})
}

// HistoryHandler serves reconciled transaction history.
type HistoryHandler struct {
	historyService port.HistoryService
	logger         *zap.Logger
}

// NewHistoryHandler creates a new instance of HistoryHandler.
func NewHistoryHandler(hs port.HistoryService, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{historyService: hs, logger: logger.Named("HistoryHandler")}
}

// GetHistoryPageHandler returns the page strictly older than ?before=.
func (h *HistoryHandler) GetHistoryPageHandler(c *gin.Context) {
	page, err := h.historyService.NextPage(c.Request.Context(), c.Param("owner"), c.Query("before"))
	if err != nil {
		writeError(c, h.logger, "Failed to load history page.", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Data: page, StatusMessage: "History page retrieved."})
}

// LoadMoreHandler appends the next page to the owner's loaded history.
func (h *HistoryHandler) LoadMoreHandler(c *gin.Context) {
	page, err := h.historyService.LoadMore(c.Request.Context(), c.Param("owner"))
	if err != nil {
		writeError(c, h.logger, "Failed to load more history; previously loaded pages are kept.", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Data: page, StatusMessage: "History page appended."})
}

// GetLoadedHandler returns every record loaded so far.
func (h *HistoryHandler) GetLoadedHandler(c *gin.Context) {
	records, done := h.historyService.Loaded(c.Param("owner"))
	c.JSON(http.StatusOK, APIResponse{
		Data:          LoadedHistoryResponse{Records: records, Done: done},
		StatusMessage: "Loaded history returned.",
	})
}

// SessionHandler manages polling sessions.
type SessionHandler struct {
	scheduler       port.Scheduler
	defaultCurrency string
	logger          *zap.Logger
}

// NewSessionHandler creates a new instance of SessionHandler.
func NewSessionHandler(s port.Scheduler, defaultCurrency string, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{scheduler: s, defaultCurrency: defaultCurrency, logger: logger.Named("SessionHandler")}
}

// StartSessionHandler starts polling an owner.
func (h *SessionHandler) StartSessionHandler(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Error: err.Error(), StatusMessage: "Invalid session request."})
		return
	}
	if req.Currency == "" {
		req.Currency = h.defaultCurrency
	}

	id, err := h.scheduler.StartSession(req.Owner, req.Currency)
	if err != nil {
		writeError(c, h.logger, "Failed to start session.", err)
		return
	}
	c.JSON(http.StatusCreated, APIResponse{
		Data:          port.SessionInfo{ID: id, Owner: req.Owner, Currency: strings.ToLower(req.Currency)},
		StatusMessage: "Session started.",
	})
}

// ListSessionsHandler lists running sessions.
func (h *SessionHandler) ListSessionsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{Data: h.scheduler.Sessions(), StatusMessage: "Sessions listed."})
}

// StopSessionHandler stops one session.
func (h *SessionHandler) StopSessionHandler(c *gin.Context) {
	if !h.scheduler.StopSession(c.Param("id")) {
		c.JSON(http.StatusNotFound, APIResponse{StatusMessage: "Session not found."})
		return
	}
	c.Status(http.StatusNoContent)
}

// QuoteHandler exposes the quote cache read-only. It never triggers an upstream fetch.
type QuoteHandler struct {
	quotes          port.QuoteCache
	defaultCurrency string
}

// NewQuoteHandler creates a new instance of QuoteHandler.
func NewQuoteHandler(q port.QuoteCache, defaultCurrency string) *QuoteHandler {
	return &QuoteHandler{quotes: q, defaultCurrency: defaultCurrency}
}

// ListQuotesHandler lists every cached quote.
func (h *QuoteHandler) ListQuotesHandler(c *gin.Context) {
	keys := h.quotes.Keys()
	quotes := make([]entity.Quote, 0, len(keys))
	for _, k := range keys {
		if q, ok := h.quotes.Peek(k.AssetID, k.Currency); ok {
			quotes = append(quotes, q)
		}
	}
	c.JSON(http.StatusOK, APIResponse{Data: quotes, StatusMessage: "Cached quotes listed."})
}

// GetQuoteHandler returns the cached quote of one asset.
func (h *QuoteHandler) GetQuoteHandler(c *gin.Context) {
	currency := strings.ToLower(c.DefaultQuery("currency", h.defaultCurrency))
	q, ok := h.quotes.Peek(c.Param("asset"), currency)
	if !ok {
		c.JSON(http.StatusNotFound, APIResponse{StatusMessage: "No cached quote for this asset."})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Data: q, StatusMessage: "Cached quote returned."})
}
