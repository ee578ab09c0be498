package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/calbridge/internal/auth"
	"github.com/hitoshi/calbridge/internal/calendar"
	"github.com/hitoshi/calbridge/internal/metrics"
	"github.com/hitoshi/calbridge/internal/middleware"
	"github.com/hitoshi/calbridge/internal/model"
)

// maxEventPayloadBytes はイベント作成ペイロードの上限サイズ。
const maxEventPayloadBytes = 1 << 20

// CalendarClientInterface はカレンダーハンドラーが必要とするクライアントインターフェース。
type CalendarClientInterface interface {
	ListEvents(ctx context.Context, accessToken string, year, month int) (*calendar.MonthEvents, error)
	CreateEvent(ctx context.Context, accessToken string, payload []byte) error
}

// AccessTokenSource は有効なアクセストークンの取得インターフェース。
// auth.Serviceの部分集合として定義する。
type AccessTokenSource interface {
	ValidAccessTokenForUser(ctx context.Context, userID string) (string, int, error)
}

// CalendarHandler はカレンダープロキシのHTTPハンドラー。
type CalendarHandler struct {
	client      CalendarClientInterface
	tokenSource AccessTokenSource
	metrics     metrics.MetricsCollector
	authConfig  AuthHandlerConfig
}

// NewCalendarHandler はCalendarHandlerを生成する。
func NewCalendarHandler(
	client CalendarClientInterface,
	tokenSource AccessTokenSource,
	collector metrics.MetricsCollector,
	authConfig AuthHandlerConfig,
) *CalendarHandler {
	return &CalendarHandler{
		client:      client,
		tokenSource: tokenSource,
		metrics:     collector,
		authConfig:  authConfig,
	}
}

// ListEvents は指定月のカレンダーイベント一覧を返す。
// year/monthクエリパラメータを省略した場合は現在の月を対象とする。
// GET /api/calendar/events?year=2025&month=6
func (h *CalendarHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	year, month, apiErr := parsePeriod(r)
	if apiErr != nil {
		h.metrics.RecordCalendarRequest("list", http.StatusBadRequest)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	token, ok := h.accessToken(w, r, "list")
	if !ok {
		return
	}

	result, err := h.client.ListEvents(r.Context(), token, year, month)
	if err != nil {
		h.writeProviderError(w, err, "list", "カレンダーイベントの取得に失敗しました。")
		return
	}

	h.metrics.RecordCalendarRequest("list", http.StatusOK)
	writeJSON(w, http.StatusOK, result)
}

// CreateEvent はイベント作成ペイロードをプロバイダーへそのまま転送する。
// POST /api/calendar/events
func (h *CalendarHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxEventPayloadBytes))
	if err != nil || len(payload) == 0 {
		h.metrics.RecordCalendarRequest("create", http.StatusBadRequest)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewEmptyPayloadError())
		return
	}

	token, ok := h.accessToken(w, r, "create")
	if !ok {
		return
	}

	if err := h.client.CreateEvent(r.Context(), token, payload); err != nil {
		h.writeProviderError(w, err, "create", "イベントの追加に失敗しました。")
		return
	}

	h.metrics.RecordCalendarRequest("create", http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]string{"message": "イベントを追加しました。"})
}

// accessToken はリクエストユーザーの有効なアクセストークンを取得する。
// セッション失効時は401を返して資格情報Cookieを消去し、falseを返す。
func (h *CalendarHandler) accessToken(w http.ResponseWriter, r *http.Request, operation string) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		h.metrics.RecordCalendarRequest(operation, http.StatusUnauthorized)
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionExpiredError())
		return "", false
	}

	token, _, err := h.tokenSource.ValidAccessTokenForUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrSessionExpired) {
			h.metrics.RecordCalendarRequest(operation, http.StatusUnauthorized)
			clearAuthCookies(w, h.authConfig)
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionExpiredError())
			return "", false
		}
		slog.Error("failed to obtain access token", slog.String("error", err.Error()))
		h.metrics.RecordCalendarRequest(operation, http.StatusInternalServerError)
		middleware.WriteInternalServerError(w)
		return "", false
	}

	return token, true
}

// writeProviderError はプロバイダーの非200応答をそのままのステータスで転送する。
func (h *CalendarHandler) writeProviderError(w http.ResponseWriter, err error, operation, message string) {
	var apiErr *calendar.ProviderAPIError
	if errors.As(err, &apiErr) {
		h.metrics.RecordCalendarRequest(operation, apiErr.StatusCode)
		slog.Warn("calendar API error forwarded",
			slog.String("operation", operation),
			slog.Int("provider_status", apiErr.StatusCode),
		)
		writeJSON(w, apiErr.StatusCode, map[string]string{"error": message + " " + apiErr.Body})
		return
	}

	slog.Error("calendar request failed",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
	h.metrics.RecordCalendarRequest(operation, http.StatusInternalServerError)
	middleware.WriteInternalServerError(w)
}

// parsePeriod はyear/monthクエリパラメータを解釈する。
// 両方省略された場合は現在の月を返す。不正な値は*model.APIErrorを返す。
func parsePeriod(r *http.Request) (int, int, *model.APIError) {
	yearStr := r.URL.Query().Get("year")
	monthStr := r.URL.Query().Get("month")

	if yearStr == "" && monthStr == "" {
		now := time.Now()
		return now.Year(), int(now.Month()), nil
	}

	year, err := strconv.Atoi(yearStr)
	if err != nil || year < 1 {
		return 0, 0, model.NewInvalidPeriodError("yearの値が不正です。")
	}
	month, err := strconv.Atoi(monthStr)
	if err != nil || month < 1 || month > 12 {
		return 0, 0, model.NewInvalidPeriodError("monthの値が不正です。")
	}

	return year, month, nil
}
