package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"PatternDesk/internal/domain/models"
	domrepo "PatternDesk/internal/domain/repository"
	"PatternDesk/internal/service/ratelimit"
	"PatternDesk/internal/usecase"
	xhttp "PatternDesk/pkg/http"
	xlogger "PatternDesk/pkg/logger"
	"PatternDesk/pkg/util"
)

type listReportsRequest struct {
	Symbol    string `query:"symbol" validate:"omitempty,oneof=EURUSD GBPUSD USDJPY XAUUSD"`
	Timeframe string `query:"timeframe" validate:"omitempty,oneof=M15 H1 H4"`
	Since     string `query:"since"`
	Limit     int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

type pairRequest struct {
	Symbol    string `query:"symbol" validate:"required,oneof=EURUSD GBPUSD USDJPY XAUUSD"`
	Timeframe string `query:"timeframe" validate:"required,oneof=M15 H1 H4"`
}

type recentPatternsRequest struct {
	Symbol    string `query:"symbol" validate:"required,oneof=EURUSD GBPUSD USDJPY XAUUSD"`
	Timeframe string `query:"timeframe" validate:"required,oneof=M15 H1 H4"`
	N         int    `query:"n" default:"10" validate:"gte=1,lte=100"`
}

// ReportsHandler serves the read-only dashboard API. Nothing under it
// writes to the report directory.
type ReportsHandler struct {
	logger  *xlogger.Logger
	reader  domrepo.ReportReader
	board   *usecase.DashboardUseCase
	memory  domrepo.PatternMemory
	limiter *ratelimit.Limiter
	rate    RateLimit
	now     func() time.Time
}

// RateLimit is the per-client token bucket shape.
type RateLimit struct {
	Capacity     float64
	RefillPerSec float64
}

type HandlerOption func(*ReportsHandler)

// WithPatternMemory enables /api/patterns/recent.
func WithPatternMemory(m domrepo.PatternMemory) HandlerOption {
	return func(h *ReportsHandler) { h.memory = m }
}

// WithRateLimit limits /api routes per client IP.
func WithRateLimit(l *ratelimit.Limiter, rate RateLimit) HandlerOption {
	return func(h *ReportsHandler) {
		h.limiter = l
		h.rate = rate
	}
}

func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *ReportsHandler) { h.now = now }
}

func NewReportsHandler(logger *xlogger.Logger, reader domrepo.ReportReader, board *usecase.DashboardUseCase, opts ...HandlerOption) *ReportsHandler {
	h := &ReportsHandler{logger: logger, reader: reader, board: board, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	if h.logger == nil {
		h.logger = xlogger.Nop()
	}
	return h
}

func (h *ReportsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	var mw []echo.MiddlewareFunc
	if h.limiter != nil {
		mw = append(mw, RateLimitMiddleware(h.limiter, h.rate))
	}
	g := e.Group("/api", mw...)
	g.GET("/reports", h.ListReports)
	g.GET("/reports/latest", h.LatestReport)
	g.GET("/summary/latest", h.LatestSummary)
	g.GET("/dashboard", h.Dashboard)
	g.GET("/patterns/recent", h.RecentPatterns)
}

func (h *ReportsHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListReports returns reports newest first with the malformed file count.
// since accepts RFC3339, unix seconds or a lookback such as "6h".
func (h *ReportsHandler) ListReports(c echo.Context) error {
	req := &listReportsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	filter := models.ReportFilter{
		Symbol:    models.Symbol(req.Symbol),
		Timeframe: models.Timeframe(req.Timeframe),
		Limit:     req.Limit,
	}
	if req.Since != "" {
		since, ok := util.ParseSince(req.Since, h.now())
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("since: want RFC3339, unix seconds or a duration, got %q", req.Since))
		}
		filter.Since = since
	}
	list, err := h.reader.ListReports(c.Request().Context(), filter)
	if err != nil {
		h.logger.Error("list reports failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("list reports").WithError(err))
	}
	return xhttp.SuccessResponse(c, list)
}

// LatestReport answers with the pair view. A missing report is state
// "absent", not an HTTP error.
func (h *ReportsHandler) LatestReport(c echo.Context) error {
	req := &pairRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pair := models.Pair{Symbol: models.Symbol(req.Symbol), Timeframe: models.Timeframe(req.Timeframe)}
	view, err := h.board.Pair(c.Request().Context(), pair, h.now())
	if err != nil {
		h.logger.Error("latest report failed", xlogger.String("pair", pair.String()), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("latest report").WithError(err))
	}
	return xhttp.SuccessResponse(c, view)
}

func (h *ReportsHandler) LatestSummary(c echo.Context) error {
	s, found, err := h.reader.LatestSummary(c.Request().Context())
	if err != nil {
		h.logger.Error("latest summary failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("latest summary").WithError(err))
	}
	return xhttp.SuccessResponse(c, h.board.SummaryView(s, found, h.now()))
}

func (h *ReportsHandler) Dashboard(c echo.Context) error {
	b, err := h.board.Board(c.Request().Context(), h.now())
	if err != nil {
		h.logger.Error("dashboard failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("dashboard").WithError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, b)
}

// RecentPatterns reads pattern memory. It is 404 when this process has no
// shared memory backend.
func (h *ReportsHandler) RecentPatterns(c echo.Context) error {
	if h.memory == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("pattern memory is not configured"))
	}
	req := &recentPatternsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snaps, err := h.memory.Recent(c.Request().Context(), models.Symbol(req.Symbol), models.Timeframe(req.Timeframe), req.N)
	if err != nil {
		h.logger.Error("recent patterns failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("recent patterns").WithError(err))
	}
	return xhttp.ListResponse(c, snaps, int64(len(snaps)))
}
