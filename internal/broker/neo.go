// Package broker provides brokerage integration implementations.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/mydkumarj/Kotak-Algo-Dashboard/internal/errors"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/logging"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

// Environment base URLs for the brokerage gateway.
var envBaseURLs = map[string]string{
	"prod": "https://gw-napi.kotaksecurities.com",
	"stg":  "https://sbx-gw-napi.kotaksecurities.com",
	"dev":  "https://dev-gw-napi.kotaksecurities.com",
}

// NeoBroker implements the Broker interface for the Kotak Neo REST API.
type NeoBroker struct {
	httpClient  *http.Client
	consumerKey string
	baseURL     string

	viewToken     *ViewToken
	sessionTokens *SessionTokens
	authenticated bool

	logger zerolog.Logger
	mu     sync.RWMutex
}

// NeoConfig holds configuration for the Neo broker.
type NeoConfig struct {
	ConsumerKey string
	Environment string
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// NewNeoBroker creates a new Neo broker instance.
func NewNeoBroker(cfg NeoConfig) (*NeoBroker, error) {
	baseURL, ok := envBaseURLs[cfg.Environment]
	if !ok {
		return nil, fmt.Errorf("%w: unknown environment %q", apperrors.ErrConfigInvalid, cfg.Environment)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &NeoBroker{
		httpClient:  &http.Client{Timeout: timeout},
		consumerKey: cfg.ConsumerKey,
		baseURL:     baseURL,
		logger:      cfg.Logger,
	}, nil
}

type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
	Stat string          `json:"stat"`
	// Error variants used across endpoints
	ErrMsg  string `json:"errMsg"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *apiEnvelope) errorMessage() string {
	if e.ErrMsg != "" {
		return e.ErrMsg
	}
	return e.Message
}

// TOTPLogin performs the first authentication step and returns a view token.
func (n *NeoBroker) TOTPLogin(ctx context.Context, mobile, ucc, totpCode string) (*ViewToken, error) {
	body := map[string]string{
		"mobileNumber": mobile,
		"ucc":          ucc,
		"totp":         totpCode,
	}

	var data struct {
		Token string `json:"token"`
		SID   string `json:"sid"`
	}
	if err := n.postJSON(ctx, "/login/1.0/login/v6/totp/login", body, nil, &data); err != nil {
		return nil, err
	}
	if data.Token == "" {
		return nil, apperrors.NewBrokerError("AUTH", "empty view token in login response", apperrors.ErrAuthRejected)
	}

	view := &ViewToken{Token: data.Token, SID: data.SID}

	n.mu.Lock()
	n.viewToken = view
	n.mu.Unlock()

	n.logger.Info().Msg("totp verified, view token issued")
	return view, nil
}

// TOTPValidate performs the second authentication step, exchanging the
// view token plus MPIN for session tokens.
func (n *NeoBroker) TOTPValidate(ctx context.Context, view *ViewToken, mpin string) (*SessionTokens, error) {
	if view == nil {
		return nil, apperrors.ErrInvalidState
	}

	body := map[string]string{"mpin": mpin}
	headers := map[string]string{
		"Auth": view.Token,
		"sid":  view.SID,
	}

	var data struct {
		Token      string `json:"token"`
		SID        string `json:"sid"`
		HSServerID string `json:"hsServerId"`
	}
	if err := n.postJSON(ctx, "/login/1.0/login/v6/totp/validate", body, headers, &data); err != nil {
		return nil, err
	}
	if data.Token == "" {
		return nil, apperrors.NewBrokerError("AUTH", "empty session token in validate response", apperrors.ErrAuthRejected)
	}

	tokens := &SessionTokens{
		SessionToken: data.Token,
		SID:          data.SID,
		ServerID:     data.HSServerID,
		IssuedAt:     time.Now(),
	}

	n.mu.Lock()
	n.sessionTokens = tokens
	n.authenticated = true
	n.mu.Unlock()

	n.logger.Info().Msg("session established")
	return tokens, nil
}

// Logout clears the local session. The gateway has no invalidate endpoint;
// tokens simply lapse server side.
func (n *NeoBroker) Logout(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.viewToken = nil
	n.sessionTokens = nil
	n.authenticated = false
	return nil
}

// IsAuthenticated returns whether a session is established.
func (n *NeoBroker) IsAuthenticated() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.authenticated
}

// Session returns a copy of the current session tokens, or nil.
func (n *NeoBroker) Session() *SessionTokens {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.sessionTokens == nil {
		return nil
	}
	cp := *n.sessionTokens
	return &cp
}

// GetQuotes fetches a one-shot quote snapshot for the given instruments.
func (n *NeoBroker) GetQuotes(ctx context.Context, ids []models.InstrumentID) (map[models.InstrumentID]models.Quote, error) {
	if len(ids) == 0 {
		return map[models.InstrumentID]models.Quote{}, nil
	}

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, string(id.Segment)+"|"+id.Token)
	}

	q := url.Values{}
	q.Set("instrument_tokens", strings.Join(parts, ","))
	q.Set("quote_type", "ltp")

	var rows []struct {
		Segment string  `json:"exchange_segment"`
		Token   string  `json:"instrument_token"`
		LTP     float64 `json:"last_traded_price,string"`
		Bid     float64 `json:"buy_price,string"`
		Ask     float64 `json:"sell_price,string"`
		Volume  int64   `json:"volume,string"`
		TimeMS  int64   `json:"last_trade_time,string"`
	}
	if err := n.getJSON(ctx, "/quotes/v1.0/quotes?"+q.Encode(), &rows); err != nil {
		return nil, err
	}

	out := make(map[models.InstrumentID]models.Quote, len(rows))
	for _, r := range rows {
		id := models.InstrumentID{Segment: models.ExchangeSegment(r.Segment), Token: r.Token}
		out[id] = models.Quote{
			LTP:       r.LTP,
			Bid:       r.Bid,
			Ask:       r.Ask,
			Volume:    r.Volume,
			Timestamp: time.UnixMilli(r.TimeMS),
		}
	}
	return out, nil
}

// ScripMaster fetches the contract master CSV for a segment. The gateway
// publishes per-segment file URLs; we resolve the matching one and stream it.
func (n *NeoBroker) ScripMaster(ctx context.Context, segment models.ExchangeSegment) (io.ReadCloser, error) {
	var data struct {
		FilesPaths []string `json:"filesPaths"`
	}
	if err := n.getJSON(ctx, "/Files/1.0/masterscrip/v2/file-paths", &data); err != nil {
		return nil, err
	}

	var fileURL string
	for _, p := range data.FilesPaths {
		if strings.Contains(p, string(segment)) {
			fileURL = p
			break
		}
	}
	if fileURL == "" {
		return nil, apperrors.NewBrokerError("SCRIP", fmt.Sprintf("no master file for segment %s", segment), apperrors.ErrDataNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransport, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, apperrors.NewBrokerError("SCRIP", fmt.Sprintf("master file fetch returned %d", resp.StatusCode), apperrors.ErrTransport)
	}
	return resp.Body, nil
}

// PlaceOrder submits an order. Never retried; a transport failure leaves
// the caller to reconcile from the order book.
func (n *NeoBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	payload := orderPayload(req)
	payload["GuiOrdId"] = req.LocalID

	var data struct {
		OrderNo string `json:"nOrdNo"`
		Stat    string `json:"stat"`
	}
	if err := n.postForm(ctx, "/Orders/2.0/quick/order/rule/ms/place", payload, &data); err != nil {
		return nil, err
	}
	if data.OrderNo == "" {
		return nil, apperrors.NewBrokerError("ORDER", "no order number in place response", apperrors.ErrSubmitFailed)
	}

	return &OrderResult{BrokerID: data.OrderNo, Status: "submitted"}, nil
}

// ModifyOrder amends price, trigger or quantity on an open order.
func (n *NeoBroker) ModifyOrder(ctx context.Context, brokerID string, req OrderRequest) error {
	payload := orderPayload(req)
	payload["no"] = brokerID

	var data struct {
		OrderNo string `json:"nOrdNo"`
	}
	return n.postForm(ctx, "/Orders/2.0/quick/order/vr/modify", payload, &data)
}

// CancelOrder cancels an open order by broker order number.
func (n *NeoBroker) CancelOrder(ctx context.Context, brokerID string) error {
	payload := map[string]string{"on": brokerID}

	var data struct {
		Result string `json:"result"`
	}
	return n.postForm(ctx, "/Orders/2.0/quick/order/cancel", payload, &data)
}

// GetOrderBook fetches the full order book.
func (n *NeoBroker) GetOrderBook(ctx context.Context) ([]OrderReport, error) {
	var rows []struct {
		OrderNo   string  `json:"nOrdNo"`
		GuiOrdID  string  `json:"GuiOrdId"`
		TrdSym    string  `json:"trdSym"`
		ExSeg     string  `json:"exSeg"`
		TransType string  `json:"trnsTp"`
		PrcType   string  `json:"prcTp"`
		Product   string  `json:"prod"`
		Qty       int     `json:"qty"`
		Price     float64 `json:"prc,string"`
		TrigPrice float64 `json:"trgPrc,string"`
		Status    string  `json:"ordSt"`
		FldQty    int     `json:"fldQty"`
		AvgPrice  float64 `json:"avgPrc,string"`
		RejReason string  `json:"rejRsn"`
		UpdTimeMS int64   `json:"ordEntTm"`
	}
	if err := n.getJSON(ctx, "/Orders/2.0/quick/user/orders", &rows); err != nil {
		return nil, err
	}

	out := make([]OrderReport, 0, len(rows))
	for _, r := range rows {
		out = append(out, OrderReport{
			BrokerID:      r.OrderNo,
			LocalID:       r.GuiOrdID,
			TradingSymbol: r.TrdSym,
			Segment:       models.ExchangeSegment(r.ExSeg),
			Side:          sideFromWire(r.TransType),
			Type:          models.OrderType(r.PrcType),
			Product:       models.ProductType(r.Product),
			Quantity:      r.Qty,
			Price:         r.Price,
			TriggerPrice:  r.TrigPrice,
			Status:        statusFromWire(r.Status),
			FilledQty:     r.FldQty,
			AvgFillPrice:  r.AvgPrice,
			Reason:        r.RejReason,
			UpdatedAt:     time.UnixMilli(r.UpdTimeMS),
		})
	}
	return out, nil
}

// GetPositions fetches the raw position rows.
func (n *NeoBroker) GetPositions(ctx context.Context) ([]PositionReport, error) {
	var rows []struct {
		TrdSym     string  `json:"trdSym"`
		ExSeg      string  `json:"exSeg"`
		Token      string  `json:"tok"`
		Product    string  `json:"prod"`
		FlBuyQty   int     `json:"flBuyQty,string"`
		FlSellQty  int     `json:"flSellQty,string"`
		CfBuyQty   int     `json:"cfBuyQty,string"`
		CfSellQty  int     `json:"cfSellQty,string"`
		BuyAmt     float64 `json:"buyAmt,string"`
		SellAmt    float64 `json:"sellAmt,string"`
		CfBuyAmt   float64 `json:"cfBuyAmt,string"`
		CfSellAmt  float64 `json:"cfSellAmt,string"`
		Multiplier float64 `json:"multiplier,string"`
		LotSize    int     `json:"lotSz,string"`
	}
	if err := n.getJSON(ctx, "/Orders/2.0/quick/user/positions", &rows); err != nil {
		return nil, err
	}

	out := make([]PositionReport, 0, len(rows))
	for _, r := range rows {
		mult := r.Multiplier
		if mult == 0 {
			mult = 1
		}
		out = append(out, PositionReport{
			TradingSymbol: r.TrdSym,
			Segment:       models.ExchangeSegment(r.ExSeg),
			Token:         r.Token,
			Product:       models.ProductType(r.Product),
			FlatBuyQty:    r.FlBuyQty,
			FlatSellQty:   r.FlSellQty,
			CFBuyQty:      r.CfBuyQty,
			CFSellQty:     r.CfSellQty,
			BuyValue:      r.BuyAmt,
			SellValue:     r.SellAmt,
			CFBuyValue:    r.CfBuyAmt,
			CFSellValue:   r.CfSellAmt,
			Multiplier:    mult,
			LotSize:       r.LotSize,
		})
	}
	return out, nil
}

// GetLimits fetches available funds and margin figures as a flat key-value map.
func (n *NeoBroker) GetLimits(ctx context.Context) (map[string]string, error) {
	payload := map[string]string{
		"seg":  "ALL",
		"exch": "ALL",
		"prod": "ALL",
	}

	var data map[string]json.RawMessage
	if err := n.postForm(ctx, "/Orders/2.0/quick/user/limits", payload, &data); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(data))
	for k, raw := range data {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = strings.Trim(string(raw), `"`)
	}
	return out, nil
}

func orderPayload(req OrderRequest) map[string]string {
	am := "NO"
	if req.AMO {
		am = "YES"
	}
	validity := req.Validity
	if validity == "" {
		validity = "DAY"
	}
	return map[string]string{
		"es": string(req.Segment),
		"ts": req.TradingSymbol,
		"tt": wireSide(req.Side),
		"pt": string(req.Type),
		"pc": string(req.Product),
		"qt": strconv.Itoa(req.Quantity),
		"pr": strconv.FormatFloat(req.Price, 'f', 2, 64),
		"tp": strconv.FormatFloat(req.TriggerPrice, 'f', 2, 64),
		"rt": validity,
		"am": am,
		"dq": "0",
		"mp": "0",
	}
}

func wireSide(s models.OrderSide) string {
	if s == models.OrderSideSell {
		return "S"
	}
	return "B"
}

func sideFromWire(s string) models.OrderSide {
	if strings.EqualFold(s, "S") || strings.EqualFold(s, "SELL") {
		return models.OrderSideSell
	}
	return models.OrderSideBuy
}

// statusFromWire maps gateway order states onto the local lifecycle.
func statusFromWire(s string) models.OrderStatus {
	switch strings.ToLower(s) {
	case "complete", "traded", "filled":
		return models.OrderFilled
	case "rejected":
		return models.OrderRejected
	case "cancelled", "canceled":
		return models.OrderCancelled
	case "open", "trigger pending":
		return models.OrderOpen
	case "partially filled", "partial":
		return models.OrderPartiallyFilled
	default:
		return models.OrderPending
	}
}

// --- HTTP plumbing ---

func (n *NeoBroker) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+path, nil)
	if err != nil {
		return err
	}
	return n.do(req, nil, out)
}

func (n *NeoBroker) postJSON(ctx context.Context, path string, body any, headers map[string]string, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return n.do(req, headers, out)
}

// postForm posts a jData form payload, the shape the order endpoints expect.
func (n *NeoBroker) postForm(ctx context.Context, path string, payload map[string]string, out any) error {
	jData, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("jData", string(jData))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return n.do(req, nil, out)
}

func (n *NeoBroker) do(req *http.Request, extraHeaders map[string]string, out any) error {
	n.mu.RLock()
	session := n.sessionTokens
	n.mu.RUnlock()

	req.Header.Set("Authorization", n.consumerKey)
	req.Header.Set("Accept", "application/json")
	if session != nil {
		req.Header.Set("Auth", session.SessionToken)
		req.Header.Set("Sid", session.SID)
		if session.ServerID != "" {
			req.Header.Set("hsServerId", session.ServerID)
		}
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := n.httpClient.Do(req)
	logging.LogAPICall(n.logger, req.Method, req.URL.Path, time.Since(start), err)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, err.Error())
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusUnauthorized:
		n.mu.Lock()
		n.authenticated = false
		n.mu.Unlock()
		return apperrors.ErrSessionExpired
	case http.StatusForbidden, http.StatusBadRequest:
		if strings.Contains(req.URL.Path, "/login/") {
			return apperrors.NewBrokerError("AUTH", apiErrorMessage(raw), apperrors.ErrAuthRejected)
		}
		return apperrors.NewBrokerError(strconv.Itoa(resp.StatusCode), apiErrorMessage(raw), apperrors.ErrTransport)
	default:
		return apperrors.NewBrokerError(strconv.Itoa(resp.StatusCode), apiErrorMessage(raw), apperrors.ErrTransport)
	}

	if out == nil {
		return nil
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return json.Unmarshal(raw, out)
}

func apiErrorMessage(raw []byte) string {
	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if msg := env.errorMessage(); msg != "" {
			return msg
		}
	}
	msg := string(raw)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

var _ Broker = (*NeoBroker)(nil)
