package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"clusterscan/internal/events"
	"clusterscan/internal/engine"
	"clusterscan/internal/logger"
	"clusterscan/internal/performance"
	"clusterscan/internal/rules"
	"clusterscan/internal/storage"
	"clusterscan/internal/symbols"
)

// SignalsRequest is the query of GET /api/signals
type SignalsRequest struct {
	Days    int  `query:"days" default:"30" validate:"gte=1,lte=3650"`
	BuyOnly bool `query:"buy_only"`
	Ultra   bool `query:"ultra"`
}

// SignalsResponse lists ranked signals
type SignalsResponse struct {
	Signals     []rules.Signal `json:"signals"`
	Count       int            `json:"count"`
	Skipped     int            `json:"skipped"`
	Invalid     int            `json:"invalid"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// PerformanceRequest is the query of GET /api/performance
type PerformanceRequest struct {
	Horizon string `query:"horizon" default:"1m" validate:"oneof=1d 1w 2w 3w 1m"`
}

// PerformanceResponse is the per-rule table
type PerformanceResponse struct {
	Horizon string              `json:"horizon"`
	Rules   []performance.Stats `json:"rules"`
}

// EventsRequest is the query of GET /api/events/:symbol
type EventsRequest struct {
	Limit int `query:"limit" default:"50" validate:"gte=1,lte=1000"`
}

func (s *Server) handleSignals(c echo.Context) error {
	var req SignalsRequest
	if errs := bindQuery(c, &req); errs != nil {
		return badRequest(c, errs)
	}

	res, err := s.engine.Signals(c.Request().Context(), engine.SignalQuery{
		Days:   req.Days,
		Filter: rules.Filter{BuyOnly: req.BuyOnly, UltraOnly: req.Ultra},
	})
	if err != nil {
		return s.internalError(c, "signals", err)
	}

	sigs := res.Signals
	if sigs == nil {
		sigs = []rules.Signal{}
	}
	return dataResponse(c, SignalsResponse{
		Signals:     sigs,
		Count:       len(sigs),
		Skipped:     res.Skipped,
		Invalid:     len(res.Invalid),
		GeneratedAt: time.Now().UTC(),
	})
}

func (s *Server) handlePerformance(c echo.Context) error {
	var req PerformanceRequest
	if errs := bindQuery(c, &req); errs != nil {
		return badRequest(c, errs)
	}
	h, err := events.ParseHorizon(req.Horizon)
	if err != nil {
		return badRequest(c, []APIError{{Code: "ERR_ONEOF", Field: "Horizon", Message: err.Error()}})
	}

	stats, err := s.engine.Performance(c.Request().Context(), h)
	if err != nil {
		return s.internalError(c, "performance", err)
	}
	return dataResponse(c, PerformanceResponse{Horizon: h.String(), Rules: stats})
}

func (s *Server) handleSymbolEvents(c echo.Context) error {
	symbol := symbols.Normalize(c.Param("symbol"))
	if !symbols.IsValidSymbol(symbol) {
		return errorResponse(c, http.StatusBadRequest, "ERR_SYMBOL", "invalid symbol")
	}
	var req EventsRequest
	if errs := bindQuery(c, &req); errs != nil {
		return badRequest(c, errs)
	}

	evs, err := s.engine.SymbolEvents(c.Request().Context(), symbol, req.Limit)
	if errors.Is(err, storage.ErrNotFound) {
		return errorResponse(c, http.StatusNotFound, "ERR_NOT_FOUND", "no events for "+symbol)
	}
	if err != nil {
		return s.internalError(c, "symbol events", err)
	}
	return dataResponse(c, evs)
}

// EventResponse is one stored event and the signals it produces
type EventResponse struct {
	Event   events.VolumeEvent `json:"event"`
	Signals []rules.Signal     `json:"signals"`
	Skipped int                `json:"skipped"`
}

func (s *Server) handleEvent(c echo.Context) error {
	symbol := symbols.Normalize(c.Param("symbol"))
	if !symbols.IsValidSymbol(symbol) {
		return errorResponse(c, http.StatusBadRequest, "ERR_SYMBOL", "invalid symbol")
	}
	date, err := time.Parse("2006-01-02", c.Param("date"))
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "ERR_DATE", "date must be YYYY-MM-DD")
	}

	ev, res, err := s.engine.Event(c.Request().Context(), symbol, date)
	if errors.Is(err, storage.ErrNotFound) {
		return errorResponse(c, http.StatusNotFound, "ERR_NOT_FOUND", "no event for "+symbol+" on "+c.Param("date"))
	}
	if err != nil {
		return s.internalError(c, "event", err)
	}

	sigs := res.Signals
	if sigs == nil {
		sigs = []rules.Signal{}
	}
	return dataResponse(c, EventResponse{Event: ev, Signals: sigs, Skipped: res.Skipped})
}

func (s *Server) handleRules(c echo.Context) error {
	return dataResponse(c, s.engine.Evaluator().Rules())
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.engine.Ping(c.Request().Context()); err != nil {
		s.log.Warn("health check failed", logger.Error(err))
		return errorResponse(c, http.StatusServiceUnavailable, "ERR_DB", "database unavailable")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) internalError(c echo.Context, op string, err error) error {
	s.log.Error("request failed", logger.String("op", op), logger.Error(err))
	return errorResponse(c, http.StatusInternalServerError, "ERR_INTERNAL", strings.ToLower(http.StatusText(http.StatusInternalServerError)))
}
