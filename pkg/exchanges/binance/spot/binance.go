package spot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"spot-trader/pkg/cache"
	"spot-trader/pkg/exchanges/common"
)

// Config holds Binance credentials and client tuning.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	BaseURL    string // overrides the production/testnet endpoint
	RecvWindow int64  // ms
	Timeout    time.Duration
	// Local pacing; the venue weight budget is tracked separately.
	RequestsPerSecond float64
	Burst             int
}

// Client is a Binance spot REST client. It is safe for concurrent use.
type Client struct {
	cfg         Config
	baseURL     string
	http        *resty.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	filters     *cache.Sharded[common.SymbolFilters]
	log         *logrus.Entry
}

// filtersTTL bounds how long exchange filters are reused.
const filtersTTL = time.Hour

var _ common.Gateway = (*Client)(nil)

func New(cfg Config) *Client {
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	client := &Client{
		cfg:     cfg,
		baseURL: base,
		http: resty.New().
			SetBaseURL(base).
			SetTimeout(cfg.Timeout).
			SetHeader("Accept", "application/json"),
		filters: cache.New[common.SymbolFilters](filtersTTL),
		log:     logrus.WithField("component", "binance-spot"),
	}
	client.timeSync = common.NewTimeSync(client.GetServerTime, 30*time.Second)
	// 1200 weight/min for spot
	client.rateLimiter = common.NewRateLimiter(1200, time.Minute, cfg.RequestsPerSecond, cfg.Burst)
	return client
}

// WeightUsage reports the request weight the venue counted in the current
// minute, as last seen in a response header.
func (c *Client) WeightUsage() common.WeightUsage {
	return c.rateLimiter.Usage()
}

// APIError is a non-2xx answer from the venue.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	kind   error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance status %d code %d: %s", e.Status, e.Code, e.Msg)
}

// Unwrap exposes the error class (common.ErrTransient, common.ErrOrderRejected, ...).
func (e *APIError) Unwrap() error { return e.kind }

const (
	codeTimestampOutOfWindow = -1021
	codeNoSuchOrder          = -2013
)

func (c *Client) requireKeys() error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New("binance: API key/secret required")
	}
	return nil
}

func (c *Client) timestamp(ctx context.Context) int64 {
	if c.timeSync.Stale() {
		if err := c.timeSync.Sync(ctx); err != nil {
			c.log.WithError(err).Warn("time sync failed, using local clock")
			return time.Now().UnixMilli()
		}
	}
	return c.timeSync.Now()
}

// doSigned signs the query and performs the request.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	params.Set("timestamp", strconv.FormatInt(c.timestamp(ctx), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	req := c.http.R().SetContext(ctx).SetHeader("X-MBX-APIKEY", c.cfg.APIKey)
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		// For GET/DELETE Binance expects signed params in query string.
		req.SetQueryString(encoded)
	default:
		req.SetHeader("Content-Type", "application/x-www-form-urlencoded").SetBody(encoded)
	}
	return c.do(ctx, req, method, path)
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryString(params.Encode())
	}
	return c.do(ctx, req, http.MethodGet, path)
}

func (c *Client) do(ctx context.Context, req *resty.Request, method, path string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}
	res, err := req.Execute(method, path)
	if err != nil {
		return nil, errors.Wrapf(common.ErrTransient, "binance %s %s: %v", method, path, err)
	}

	// Track rate limit usage
	c.rateLimiter.UpdateFromHeader(res.Header().Get("X-MBX-USED-WEIGHT-1M"))

	if res.StatusCode() >= 300 {
		apiErr := parseAPIError(res.StatusCode(), res.Body(), method, path)
		if apiErr.Code == codeTimestampOutOfWindow {
			c.timeSync.Invalidate()
		}
		return nil, errors.Wrapf(apiErr, "binance %s %s", method, path)
	}
	return res.Body(), nil
}

func parseAPIError(status int, body []byte, method, path string) *APIError {
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Msg == "" {
		apiErr.Msg = string(body)
	}
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot || status >= 500:
		apiErr.kind = common.ErrTransient
	case apiErr.Code == codeTimestampOutOfWindow:
		apiErr.kind = common.ErrTransient
	case apiErr.Code == codeNoSuchOrder && method == http.MethodGet:
		apiErr.kind = common.ErrOrderNotFound
	case path == "/api/v3/order" && method == http.MethodPost:
		apiErr.kind = common.ErrOrderRejected
	}
	return apiErr
}

// GetServerTime fetches server time (ms).
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	res, err := c.http.R().SetContext(ctx).Get("/api/v3/time")
	if err != nil {
		return 0, errors.Wrapf(common.ErrTransient, "server time: %v", err)
	}
	if res.StatusCode() >= 300 {
		return 0, parseAPIError(res.StatusCode(), res.Body(), http.MethodGet, "/api/v3/time")
	}
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return 0, errors.Wrap(err, "decode server time")
	}
	return out.ServerTime, nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// GetAccountBalances returns every asset line of the spot account.
func (c *Client) GetAccountBalances(ctx context.Context) ([]common.Balance, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}
	var info accountResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, errors.Wrap(err, "decode account info")
	}
	out := make([]common.Balance, 0, len(info.Balances))
	for _, b := range info.Balances {
		out = append(out, common.Balance{
			Asset:  b.Asset,
			Free:   parseFloat(b.Free),
			Locked: parseFloat(b.Locked),
		})
	}
	return out, nil
}

// orderResponse covers open orders, allOrders, order lookups and RESULT acks.
type orderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	Time          int64  `json:"time"`
	TransactTime  int64  `json:"transactTime"`
}

func (r orderResponse) normalize() common.Order {
	ts := r.Time
	if ts == 0 {
		ts = r.TransactTime
	}
	return common.Order{
		Symbol:          r.Symbol,
		OrderID:         strconv.FormatInt(r.OrderID, 10),
		ClientID:        r.ClientOrderID,
		Side:            common.Side(strings.ToUpper(r.Side)),
		Type:            common.OrderType(strings.ToUpper(r.Type)),
		Status:          mapStatus(r.Status),
		Price:           parseFloat(r.Price),
		OrigQty:         parseFloat(r.OrigQty),
		ExecutedQty:     parseFloat(r.ExecutedQty),
		CumulativeQuote: parseFloat(r.CumQuoteQty),
		Time:            time.UnixMilli(ts),
	}
}

func decodeOrders(body []byte) ([]common.Order, error) {
	var raw []orderResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, "decode orders")
	}
	out := make([]common.Order, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.normalize())
	}
	return out, nil
}

// GetOpenOrders returns the open orders of symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/openOrders", params)
	if err != nil {
		return nil, err
	}
	return decodeOrders(body)
}

// GetOrderHistory returns historical orders; beware of rate limits.
func (c *Client) GetOrderHistory(ctx context.Context, symbol string, limit int) ([]common.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/allOrders", params)
	if err != nil {
		return nil, err
	}
	return decodeOrders(body)
}

// GetOrder fetches a single order by its client order id.
func (c *Client) GetOrder(ctx context.Context, symbol, clientID string) (common.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientID)
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/order", params)
	if err != nil {
		return common.Order{}, err
	}
	var r orderResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return common.Order{}, errors.Wrap(err, "decode order")
	}
	return r.normalize(), nil
}

// PlaceOrder submits one order and returns the venue acknowledgement.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	ordType := req.Type
	if ordType == "" {
		ordType = common.OrderTypeLimit
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", string(ordType))
	params.Set("quantity", formatFloat(req.Qty))
	params.Set("newOrderRespType", "RESULT")
	if ordType == common.OrderTypeLimit {
		params.Set("price", formatFloat(req.Price))
		params.Set("timeInForce", string(toBinanceTIF(req.TimeInForce)))
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return common.Order{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Order{}, errors.Wrap(err, "decode order response")
	}
	return resp.normalize(), nil
}

// CancelOrder cancels one open order by exchange order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.doSigned(ctx, http.MethodDelete, "/api/v3/order", params)
	return err
}

// GetCandles fetches the most recent klines using the public endpoint.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]common.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doPublic(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, "decode klines")
	}
	candles := make([]common.Candle, 0, len(raw))
	for _, item := range raw {
		// Binance returns 12 fields per kline
		if len(item) < 6 {
			continue
		}
		candles = append(candles, common.Candle{
			OpenTime: time.UnixMilli(toInt64(item[0])),
			Open:     toFloat(item[1]),
			High:     toFloat(item[2]),
			Low:      toFloat(item[3]),
			Close:    toFloat(item[4]),
			Volume:   toFloat(item[5]),
		})
	}
	return candles, nil
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
			MinQty     string `json:"minQty"`
		} `json:"filters"`
	} `json:"symbols"`
}

// GetSymbolFilters reads PRICE_FILTER and LOT_SIZE for symbol.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (common.SymbolFilters, error) {
	if f, ok := c.filters.Get(symbol); ok {
		return f, nil
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/api/v3/exchangeInfo", params)
	if err != nil {
		return common.SymbolFilters{}, err
	}
	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return common.SymbolFilters{}, errors.Wrap(err, "decode exchange info")
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		out := common.SymbolFilters{Symbol: symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				out.PriceTick = parseFloat(f.TickSize)
			case "LOT_SIZE":
				out.LotStep = parseFloat(f.StepSize)
				out.MinQty = parseFloat(f.MinQty)
			}
		}
		c.filters.Set(symbol, out)
		return out, nil
	}
	return common.SymbolFilters{}, errors.Errorf("binance: symbol %s not listed", symbol)
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

func toBinanceTIF(tif common.TimeInForce) common.TimeInForce {
	if tif == "" {
		return common.TIFGTC
	}
	return tif
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		return parseFloat(t)
	case float64:
		return t
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	default:
		return 0
	}
}
