package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"spot-trader/pkg/exchanges/common"
)

// StrategySpec names a registered strategy and its parameters.
type StrategySpec struct {
	Name   string             `yaml:"name" json:"name"`
	Params map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
}

// Order styles for strategy-driven orders.
const (
	OrderStyleMarket = "market"
	OrderStyleLimit  = "limit"
)

// AssetConfig is the immutable configuration of one traded pair.
// Percentages are base-100 (2 means 2%).
type AssetConfig struct {
	StockCode        string  `yaml:"stock_code" json:"stockCode"`
	OperationCode    string  `yaml:"operation_code" json:"operationCode"`
	QuoteAsset       string  `yaml:"quote_asset" json:"quoteAsset"`
	TradedQuantity   float64 `yaml:"traded_quantity" json:"tradedQuantity"`
	TradedPercentage float64 `yaml:"traded_percentage" json:"tradedPercentage"`

	CandleInterval  string        `yaml:"candle_interval" json:"candleInterval"`
	CandleLimit     int           `yaml:"candle_limit" json:"candleLimit"`
	PollInterval    time.Duration `yaml:"poll_interval" json:"pollInterval"`
	DelayAfterOrder time.Duration `yaml:"delay_after_order" json:"delayAfterOrder"`

	AcceptableLossPct     float64   `yaml:"acceptable_loss_pct" json:"acceptableLossPct"`
	StopLossPct           float64   `yaml:"stop_loss_pct" json:"stopLossPct"`
	TrailingActivationPct float64   `yaml:"trailing_activation_pct" json:"trailingActivationPct"`
	TrailingGapPct        float64   `yaml:"trailing_gap_pct" json:"trailingGapPct"`
	TakeProfitAt          []float64 `yaml:"take_profit_at" json:"takeProfitAt"`
	TakeProfitAmount      []float64 `yaml:"take_profit_amount" json:"takeProfitAmount"`

	FallbackEnabled  bool         `yaml:"fallback_enabled" json:"fallbackEnabled"`
	MainStrategy     StrategySpec `yaml:"main_strategy" json:"mainStrategy"`
	FallbackStrategy StrategySpec `yaml:"fallback_strategy" json:"fallbackStrategy"`

	OrderStyle   string `yaml:"order_style" json:"orderStyle"`
	ExitOnSignal *bool  `yaml:"exit_on_signal" json:"exitOnSignal,omitempty"`
}

// DefaultAsset returns the settings every asset starts from.
func DefaultAsset() AssetConfig {
	exit := true
	return AssetConfig{
		TradedPercentage:      100,
		CandleInterval:        "15m",
		CandleLimit:           1000,
		PollInterval:          30 * time.Minute,
		DelayAfterOrder:       60 * time.Minute,
		AcceptableLossPct:     0,
		StopLossPct:           1,
		TrailingActivationPct: 3,
		TrailingGapPct:        1,
		TakeProfitAt:          []float64{2, 4, 8},
		TakeProfitAmount:      []float64{50, 50, 100},
		FallbackEnabled:       true,
		MainStrategy:          StrategySpec{Name: "ma_rsi_volume"},
		FallbackStrategy:      StrategySpec{Name: "ma_rsi_volume"},
		OrderStyle:            OrderStyleMarket,
		ExitOnSignal:          &exit,
	}
}

// Clone returns a deep copy.
func (a AssetConfig) Clone() AssetConfig {
	out := a
	out.TakeProfitAt = append([]float64(nil), a.TakeProfitAt...)
	out.TakeProfitAmount = append([]float64(nil), a.TakeProfitAmount...)
	out.MainStrategy = a.MainStrategy.clone()
	out.FallbackStrategy = a.FallbackStrategy.clone()
	if a.ExitOnSignal != nil {
		v := *a.ExitOnSignal
		out.ExitOnSignal = &v
	}
	return out
}

func (s StrategySpec) clone() StrategySpec {
	out := StrategySpec{Name: s.Name}
	if s.Params != nil {
		out.Params = make(map[string]float64, len(s.Params))
		for k, v := range s.Params {
			out.Params[k] = v
		}
	}
	return out
}

// ExitsOnSignal reports whether a Flat decision closes an open position.
func (a AssetConfig) ExitsOnSignal() bool {
	return a.ExitOnSignal == nil || *a.ExitOnSignal
}

// Normalize upper-cases codes, derives the quote asset and fills zero values
// from DefaultAsset.
func (a *AssetConfig) Normalize() {
	d := DefaultAsset()
	a.StockCode = strings.ToUpper(strings.TrimSpace(a.StockCode))
	a.OperationCode = strings.ToUpper(strings.TrimSpace(a.OperationCode))
	a.QuoteAsset = strings.ToUpper(strings.TrimSpace(a.QuoteAsset))
	if a.QuoteAsset == "" {
		if strings.HasPrefix(a.OperationCode, a.StockCode) && len(a.OperationCode) > len(a.StockCode) {
			a.QuoteAsset = a.OperationCode[len(a.StockCode):]
		} else if _, quote, ok := common.SplitSymbol(a.OperationCode); ok {
			a.QuoteAsset = quote
		}
	}
	if a.CandleInterval == "" {
		a.CandleInterval = d.CandleInterval
	}
	if a.CandleLimit <= 0 {
		a.CandleLimit = d.CandleLimit
	}
	if a.PollInterval <= 0 {
		a.PollInterval = d.PollInterval
	}
	if a.DelayAfterOrder <= 0 {
		a.DelayAfterOrder = d.DelayAfterOrder
	}
	if a.TrailingActivationPct <= 0 {
		a.TrailingActivationPct = d.TrailingActivationPct
	}
	if a.TrailingGapPct <= 0 {
		a.TrailingGapPct = d.TrailingGapPct
	}
	if a.TradedQuantity <= 0 && a.TradedPercentage <= 0 {
		a.TradedPercentage = d.TradedPercentage
	}
	if a.MainStrategy.Name == "" {
		a.MainStrategy.Name = d.MainStrategy.Name
	}
	if a.FallbackStrategy.Name == "" {
		a.FallbackStrategy.Name = d.FallbackStrategy.Name
	}
	a.OrderStyle = strings.ToLower(a.OrderStyle)
	if a.OrderStyle == "" {
		a.OrderStyle = d.OrderStyle
	}
}

// Validate checks the asset. known reports whether a strategy name is registered.
func (a AssetConfig) Validate(known func(string) bool) error {
	if a.StockCode == "" || a.OperationCode == "" {
		return fmt.Errorf("stock_code and operation_code are required")
	}
	if a.QuoteAsset == "" {
		return fmt.Errorf("%s: cannot derive quote asset, set quote_asset", a.OperationCode)
	}
	if len(a.TakeProfitAt) != len(a.TakeProfitAmount) {
		return fmt.Errorf("%s: take_profit_at and take_profit_amount differ in length (%d vs %d)",
			a.OperationCode, len(a.TakeProfitAt), len(a.TakeProfitAmount))
	}
	for i, at := range a.TakeProfitAt {
		if i > 0 && at < a.TakeProfitAt[i-1] {
			return fmt.Errorf("%s: take_profit_at must be ascending", a.OperationCode)
		}
		if amt := a.TakeProfitAmount[i]; amt <= 0 || amt > 100 {
			return fmt.Errorf("%s: take_profit_amount[%d]=%v outside (0,100]", a.OperationCode, i, amt)
		}
	}
	if a.StopLossPct < 0 || a.StopLossPct >= 100 {
		return fmt.Errorf("%s: stop_loss_pct %v outside [0,100)", a.OperationCode, a.StopLossPct)
	}
	if a.TradedPercentage < 0 || a.TradedPercentage > 100 {
		return fmt.Errorf("%s: traded_percentage %v outside [0,100]", a.OperationCode, a.TradedPercentage)
	}
	if a.PollInterval <= 0 || a.DelayAfterOrder <= 0 {
		return fmt.Errorf("%s: poll_interval and delay_after_order must be positive", a.OperationCode)
	}
	if a.OrderStyle != OrderStyleMarket && a.OrderStyle != OrderStyleLimit {
		return fmt.Errorf("%s: unknown order_style %q", a.OperationCode, a.OrderStyle)
	}
	if known != nil {
		if !known(a.MainStrategy.Name) {
			return fmt.Errorf("%s: unknown main strategy %q", a.OperationCode, a.MainStrategy.Name)
		}
		if a.FallbackEnabled && !known(a.FallbackStrategy.Name) {
			return fmt.Errorf("%s: unknown fallback strategy %q", a.OperationCode, a.FallbackStrategy.Name)
		}
	}
	return nil
}

// AssetsFile is the top-level YAML structure of the traded-asset file.
type AssetsFile struct {
	Defaults yaml.Node   `yaml:"defaults"`
	Assets   []yaml.Node `yaml:"assets"`
}

// LoadAssets reads assets from a YAML file. Each asset entry overrides the
// file's defaults, which in turn override DefaultAsset.
func LoadAssets(path string, known func(string) bool) (AssetConfig, []AssetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AssetConfig{}, nil, err
	}
	return ParseAssets(data, known)
}

// ParseAssets is LoadAssets on an in-memory document.
func ParseAssets(data []byte, known func(string) bool) (AssetConfig, []AssetConfig, error) {
	var file AssetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return AssetConfig{}, nil, err
	}

	defaults := DefaultAsset()
	if !file.Defaults.IsZero() {
		if err := file.Defaults.Decode(&defaults); err != nil {
			return AssetConfig{}, nil, fmt.Errorf("defaults: %w", err)
		}
	}

	assets := make([]AssetConfig, 0, len(file.Assets))
	seen := make(map[string]bool)
	for i := range file.Assets {
		asset := defaults.Clone()
		// yaml.v3 replaces slices but merges maps; strategy params come from the entry alone.
		asset.MainStrategy.Params = nil
		asset.FallbackStrategy.Params = nil
		if err := file.Assets[i].Decode(&asset); err != nil {
			return AssetConfig{}, nil, fmt.Errorf("asset %d: %w", i, err)
		}
		if asset.MainStrategy.Params == nil {
			asset.MainStrategy = mergeStrategy(asset.MainStrategy, defaults.MainStrategy)
		}
		if asset.FallbackStrategy.Params == nil {
			asset.FallbackStrategy = mergeStrategy(asset.FallbackStrategy, defaults.FallbackStrategy)
		}
		asset.Normalize()
		if err := asset.Validate(known); err != nil {
			return AssetConfig{}, nil, err
		}
		if seen[asset.OperationCode] {
			return AssetConfig{}, nil, fmt.Errorf("duplicate asset %s", asset.OperationCode)
		}
		seen[asset.OperationCode] = true
		assets = append(assets, asset)
	}
	return defaults, assets, nil
}

// mergeStrategy keeps default params when the entry names the same strategy.
func mergeStrategy(entry, def StrategySpec) StrategySpec {
	if entry.Name == def.Name {
		return def.clone()
	}
	return entry
}
