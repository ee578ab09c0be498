// Package calendar はGoogleカレンダーAPIへの薄いプロキシを提供する。
// 月単位のイベント一覧取得と、ペイロードをそのまま転送するイベント作成を含む。
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// defaultEventsEndpoint はプライマリカレンダーのイベントAPIエンドポイント。
const defaultEventsEndpoint = "https://www.googleapis.com/calendar/v3/calendars/primary/events"

// Event はカレンダーイベントの縮約表現。
// start/end/creatorは構造が可変なためそのまま転送する。
type Event struct {
	ID          string          `json:"id"`
	Summary     string          `json:"summary"`
	Description string          `json:"description"`
	Location    string          `json:"location"`
	Start       json.RawMessage `json:"start"`
	End         json.RawMessage `json:"end"`
	Status      string          `json:"status"`
	HTMLLink    string          `json:"htmlLink"`
	Creator     json.RawMessage `json:"creator"`
}

// Period は一覧取得の対象となった月の範囲。
type Period struct {
	Year  int    `json:"year"`
	Month int    `json:"month"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// MonthEvents は月単位のイベント一覧取得の結果。
type MonthEvents struct {
	Events []Event `json:"events"`
	Period Period  `json:"period"`
}

// ProviderAPIError はカレンダーAPIの非200応答を表す。
// ハンドラーはステータスコードと本文をそのままクライアントへ転送する。
type ProviderAPIError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("calendar API returned status %d: %s", e.StatusCode, e.Body)
}

// Client はGoogleカレンダーAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClient の新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   defaultEventsEndpoint,
	}
}

// ListEvents は指定月のイベント一覧を取得する。
// 対象範囲は月初 00:00:00 から月末 23:59:59 まで（UTC表記）。
func (c *Client) ListEvents(ctx context.Context, accessToken string, year, month int) (*MonthEvents, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("月の値が不正です: %d", month)
	}

	timeMin, timeMax := monthWindow(year, month)

	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("timeMin", timeMin)
	q.Set("timeMax", timeMax)
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("カレンダーAPIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("year", year),
			slog.Int("month", month),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("カレンダーAPIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &ProviderAPIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload struct {
		Items []Event `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	events := payload.Items
	if events == nil {
		events = []Event{}
	}
	return &MonthEvents{
		Events: events,
		Period: Period{Year: year, Month: month, Start: timeMin, End: timeMax},
	}, nil
}

// CreateEvent は呼び出し元のペイロードを改変せずカレンダーAPIへ転送する。
// ペイロードの妥当性検証はプロバイダー側に委ねる。
func (c *Client) CreateEvent(ctx context.Context, accessToken string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("カレンダーAPIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("カレンダーAPIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return &ProviderAPIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return nil
}

// monthWindow は指定月の[月初00:00:00, 月末23:59:59]をUTC表記で返す。
func monthWindow(year, month int) (string, string) {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, 0).Add(-time.Second)
	const layout = "2006-01-02T15:04:05Z"
	return first.Format(layout), last.Format(layout)
}
