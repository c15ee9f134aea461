package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"spot-trader/internal/trader"
	"spot-trader/pkg/config"
)

// Control-panel keys. They apply to stocks added afterwards, except
// THREAD_LOCK which toggles the cycle gate immediately.
const (
	keyMainStrategy       = "MAIN_STRATEGY"
	keyMainStrategyArgs   = "MAIN_STRATEGY_ARGS"
	keyFallbackActivated  = "FALLBACK_ACTIVATED"
	keyFallbackStrategy   = "FALLBACK_STRATEGY"
	keyFallbackArgs       = "FALLBACK_STRATEGY_ARGS"
	keyAcceptableLoss     = "ACCEPTABLE_LOSS_PERCENTAGE"
	keyStopLoss           = "STOP_LOSS_PERCENTAGE"
	keyTakeProfitAt       = "TP_AT_PERCENTAGE"
	keyTakeProfitAmount   = "TP_AMOUNT_PERCENTAGE"
	keyCandlePeriod       = "CANDLE_PERIOD"
	keyPollSeconds        = "TEMPO_ENTRE_TRADES"
	keyDelaySeconds       = "DELAY_ENTRE_ORDENS"
	keyThreadLock         = "THREAD_LOCK"
	keyStocksTraded       = "STOCKS_TRADED"
	keyTrailingActivation = "TRAILING_ACTIVATION_PERCENTAGE"
	keyTrailingGap        = "TRAILING_GAP_PERCENTAGE"
	keyOrderStyle         = "ORDER_STYLE"
)

// Tunables holds the defaults new stocks are created from.
type Tunables struct {
	mu        sync.RWMutex
	defaults  config.AssetConfig
	known     func(string) bool
	scheduler *trader.Scheduler
}

func NewTunables(defaults config.AssetConfig, known func(string) bool, s *trader.Scheduler) *Tunables {
	return &Tunables{defaults: defaults.Clone(), known: known, scheduler: s}
}

// Defaults returns a copy of the current defaults.
func (t *Tunables) Defaults() config.AssetConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.defaults.Clone()
}

// Snapshot renders the tunables with their control-panel keys.
func (t *Tunables) Snapshot() gin.H {
	d := t.Defaults()
	out := gin.H{
		keyMainStrategy:       d.MainStrategy.Name,
		keyMainStrategyArgs:   nonNil(d.MainStrategy.Params),
		keyFallbackActivated:  d.FallbackEnabled,
		keyFallbackStrategy:   d.FallbackStrategy.Name,
		keyFallbackArgs:       nonNil(d.FallbackStrategy.Params),
		keyAcceptableLoss:     d.AcceptableLossPct,
		keyStopLoss:           d.StopLossPct,
		keyTakeProfitAt:       d.TakeProfitAt,
		keyTakeProfitAmount:   d.TakeProfitAmount,
		keyCandlePeriod:       d.CandleInterval,
		keyPollSeconds:        int64(d.PollInterval / time.Second),
		keyDelaySeconds:       int64(d.DelayAfterOrder / time.Second),
		keyTrailingActivation: d.TrailingActivationPct,
		keyTrailingGap:        d.TrailingGapPct,
		keyOrderStyle:         d.OrderStyle,
	}
	if t.scheduler != nil {
		out[keyThreadLock] = t.scheduler.Serialized()
		out[keyStocksTraded] = t.scheduler.Symbols()
	}
	return out
}

func nonNil(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

// Merge applies the recognized keys of update. Unknown keys are returned and
// otherwise ignored. Nothing is applied when any value is invalid.
func (t *Tunables) Merge(update map[string]any) (ignored []string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.defaults.Clone()
	var threadLock *bool
	for key, raw := range update {
		switch key {
		case keyMainStrategy:
			next.MainStrategy.Name, err = asString(key, raw)
			next.MainStrategy.Params = nil
		case keyMainStrategyArgs:
			next.MainStrategy.Params, err = asParams(key, raw)
		case keyFallbackActivated:
			next.FallbackEnabled, err = asBool(key, raw)
		case keyFallbackStrategy:
			next.FallbackStrategy.Name, err = asString(key, raw)
			next.FallbackStrategy.Params = nil
		case keyFallbackArgs:
			next.FallbackStrategy.Params, err = asParams(key, raw)
		case keyAcceptableLoss:
			next.AcceptableLossPct, err = asFloat(key, raw)
		case keyStopLoss:
			next.StopLossPct, err = asFloat(key, raw)
		case keyTakeProfitAt:
			next.TakeProfitAt, err = asFloats(key, raw)
		case keyTakeProfitAmount:
			next.TakeProfitAmount, err = asFloats(key, raw)
		case keyCandlePeriod:
			next.CandleInterval, err = asString(key, raw)
		case keyPollSeconds:
			next.PollInterval, err = asSeconds(key, raw)
		case keyDelaySeconds:
			next.DelayAfterOrder, err = asSeconds(key, raw)
		case keyTrailingActivation:
			next.TrailingActivationPct, err = asFloat(key, raw)
		case keyTrailingGap:
			next.TrailingGapPct, err = asFloat(key, raw)
		case keyOrderStyle:
			next.OrderStyle, err = asString(key, raw)
		case keyThreadLock:
			var v bool
			v, err = asBool(key, raw)
			threadLock = &v
		default:
			ignored = append(ignored, key)
		}
		if err != nil {
			return nil, err
		}
	}
	// args given together with a new strategy name must survive the reset above
	if raw, ok := update[keyMainStrategyArgs]; ok {
		next.MainStrategy.Params, _ = asParams(keyMainStrategyArgs, raw)
	}
	if raw, ok := update[keyFallbackArgs]; ok {
		next.FallbackStrategy.Params, _ = asParams(keyFallbackArgs, raw)
	}

	if err := validateDefaults(next, t.known); err != nil {
		return nil, err
	}
	t.defaults = next
	if threadLock != nil && t.scheduler != nil {
		t.scheduler.SetSerialized(*threadLock)
	}
	return ignored, nil
}

// validateDefaults checks the defaults as if they were an asset.
func validateDefaults(d config.AssetConfig, known func(string) bool) error {
	sample := d.Clone()
	sample.StockCode, sample.OperationCode, sample.QuoteAsset = "SAMPLE", "SAMPLEUSDT", "USDT"
	sample.Normalize()
	return sample.Validate(known)
}

func asString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%s must be a non-empty string", key)
	}
	return strings.TrimSpace(s), nil
}

func asBool(key string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}

func asFloat(key string, v any) (float64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	return f, nil
}

func asFloats(key string, v any) ([]float64, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list of numbers", key)
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		f, ok := item.(float64)
		if !ok {
			return nil, fmt.Errorf("%s must be a list of numbers", key)
		}
		out = append(out, f)
	}
	return out, nil
}

func asParams(key string, v any) (map[string]float64, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object of numbers", key)
	}
	out := make(map[string]float64, len(m))
	for k, item := range m {
		f, ok := item.(float64)
		if !ok {
			return nil, fmt.Errorf("%s.%s must be a number", key, k)
		}
		out[k] = f
	}
	return out, nil
}

func asSeconds(key string, v any) (time.Duration, error) {
	f, err := asFloat(key, v)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.tunables.Snapshot())
}

func (s *Server) updateConfig(c *gin.Context) {
	var update map[string]any
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "body must be a JSON object"})
		return
	}
	ignored, err := s.tunables.Merge(update)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_VALUE", "error": err.Error()})
		return
	}
	s.log.WithFields(logrus.Fields{
		"keys": len(update) - len(ignored), "ignored": ignored, "operator": CurrentOperator(c),
	}).Info("config updated")
	out := s.tunables.Snapshot()
	if len(ignored) > 0 {
		out["ignored"] = ignored
	}
	c.JSON(http.StatusOK, out)
}

type stockRequest struct {
	StockCode        string  `json:"stockCode"`
	OperationCode    string  `json:"operationCode"`
	QuoteAsset       string  `json:"quoteAsset"`
	TradedQuantity   float64 `json:"tradedQuantity"`
	TradedPercentage float64 `json:"tradedPercentage"`
}

func (s *Server) addStock(c *gin.Context) {
	var req stockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	if strings.TrimSpace(req.StockCode) == "" || strings.TrimSpace(req.OperationCode) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_FIELDS", "error": "stockCode and operationCode are required"})
		return
	}

	cfg := s.tunables.Defaults()
	cfg.StockCode = req.StockCode
	cfg.OperationCode = req.OperationCode
	cfg.QuoteAsset = req.QuoteAsset
	if req.TradedQuantity > 0 || req.TradedPercentage > 0 {
		cfg.TradedQuantity = req.TradedQuantity
		cfg.TradedPercentage = req.TradedPercentage
	}
	cfg.Normalize()
	if err := cfg.Validate(s.tunables.known); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_VALUE", "error": err.Error()})
		return
	}

	t, err := s.factory(cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_VALUE", "error": err.Error()})
		return
	}
	if err := s.scheduler.Add(t); err != nil {
		code := "ALREADY_TRADED"
		if errors.Is(err, trader.ErrTraderStopping) {
			code = "STILL_STOPPING"
		}
		c.JSON(http.StatusConflict, gin.H{"code": code, "error": err.Error()})
		return
	}
	s.log.WithFields(logrus.Fields{"symbol": cfg.OperationCode, "operator": CurrentOperator(c)}).Info("stock added")
	c.JSON(http.StatusOK, gin.H{"message": "stock added", keyStocksTraded: s.scheduler.Symbols()})
}

func (s *Server) removeStock(c *gin.Context) {
	code := strings.TrimSpace(c.Query("stockCode"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_FIELDS", "error": "stockCode query parameter is required"})
		return
	}
	n := s.scheduler.Remove(code)
	s.log.WithFields(logrus.Fields{"code": code, "removed": n, "operator": CurrentOperator(c)}).Info("stock removed")
	c.JSON(http.StatusOK, gin.H{"message": "stock removed", "removed": n, keyStocksTraded: s.scheduler.Symbols()})
}
