package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-trader/internal/indicators"
	"spot-trader/pkg/config"
	"spot-trader/pkg/exchanges/common"
)

func frameFrom(closes []float64, volumes []float64) Frame {
	candles := make([]common.Candle, len(closes))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		vol := 10.0
		if volumes != nil {
			vol = volumes[i]
		}
		candles[i] = common.Candle{
			OpenTime: start.Add(time.Duration(i) * 15 * time.Minute),
			Open:     open,
			High:     max(open, c) + 0.1,
			Low:      min(open, c) - 0.1,
			Close:    c,
			Volume:   vol,
		}
	}
	return Frame{Symbol: "TESTUSDT", Candles: candles}
}

func trend(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// zigzag rises by 2 and falls by 1 alternately, ending on a rise when n is even.
func zigzag(n int) []float64 {
	out := make([]float64, n)
	out[0] = 100
	for i := 1; i < n; i++ {
		if i%2 == 1 {
			out[i] = out[i-1] + 2
		} else {
			out[i] = out[i-1] - 1
		}
	}
	return out
}

func fixed(d Decision, err error) Func {
	return func(Frame, Params) (Decision, error) { return d, err }
}

func TestResolver(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name            string
		primary         Func
		fallback        Func
		fallbackEnabled bool
		want            Decision
	}{
		{"primary decides", fixed(Long, nil), fixed(Flat, nil), true, Long},
		{"indeterminate uses fallback", fixed(Indeterminate, nil), fixed(Flat, nil), true, Flat},
		{"primary error skips fallback", fixed(Indeterminate, boom), fixed(Long, nil), true, Indeterminate},
		{"insufficient history skips fallback", fixed(Indeterminate, indicators.ErrInsufficientData), fixed(Long, nil), true, Indeterminate},
		{"fallback disabled", fixed(Indeterminate, nil), fixed(Long, nil), false, Indeterminate},
		{"fallback error", fixed(Indeterminate, nil), fixed(Long, boom), true, Indeterminate},
		{"both indeterminate", fixed(Indeterminate, nil), fixed(Indeterminate, nil), true, Indeterminate},
		{"panic is contained", func(Frame, Params) (Decision, error) { panic("bad index") }, fixed(Flat, nil), true, Indeterminate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			reg.Register("primary", tt.primary)
			reg.Register("fallback", tt.fallback)
			r := NewResolver(reg, nil)
			got := r.Resolve(Frame{Symbol: "X"}, config.StrategySpec{Name: "primary"}, config.StrategySpec{Name: "fallback"}, tt.fallbackEnabled)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolverUnknownPrimaryIsIndeterminate(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fallback", fixed(Long, nil))
	r := NewResolver(reg, nil)
	assert.Equal(t, Indeterminate, r.Resolve(Frame{}, config.StrategySpec{Name: "missing"}, config.StrategySpec{Name: "fallback"}, true))
}

func TestResolverPassesParams(t *testing.T) {
	reg := NewRegistry()
	reg.Register("param", func(_ Frame, p Params) (Decision, error) {
		if p.Int("period", 0) == 7 {
			return Long, nil
		}
		return Flat, nil
	})
	r := NewResolver(reg, nil)
	spec := config.StrategySpec{Name: "param", Params: map[string]float64{"period": 7}}
	assert.Equal(t, Long, r.Resolve(Frame{}, spec, spec, false))
}

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, []string{
		"bollinger_rsi", "ema_macd", "fvg", "ichimoku", "ma_cross", "ma_rsi_atr",
		"ma_rsi_volume", "rsi", "t3", "vortex_rsi_volume",
	}, reg.Names())
	_, err := reg.Lookup("vortex")
	assert.ErrorAs(t, err, &ErrUnknownStrategy{})
}

func TestBuiltinsNeedHistory(t *testing.T) {
	short := frameFrom(trend(2, 100, 1), nil)
	for _, name := range DefaultRegistry().Names() {
		fn, err := DefaultRegistry().Lookup(name)
		require.NoError(t, err)
		d, err := fn(short, nil)
		assert.Equal(t, Indeterminate, d, name)
		assert.ErrorIs(t, err, indicators.ErrInsufficientData, name)
	}
}

func TestMARSIVolume(t *testing.T) {
	closes := zigzag(60)
	volumes := make([]float64, len(closes))
	for i := range volumes {
		volumes[i] = 10
	}
	volumes[len(volumes)-1] = 100

	d, err := MARSIVolume(frameFrom(closes, volumes), nil)
	require.NoError(t, err)
	assert.Equal(t, Long, d, "uptrend, mid RSI, volume spike")

	d, err = MARSIVolume(frameFrom(trend(60, 200, -1), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Flat, d, "bearish EMA stack")

	d, err = MARSIVolume(frameFrom(closes, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, d, "no volume confirmation")
}

func TestRSIThreshold(t *testing.T) {
	d, err := RSIThreshold(frameFrom(trend(30, 100, -1), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Long, d)

	d, err = RSIThreshold(frameFrom(trend(30, 100, 1), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Flat, d)
}

func TestMACross(t *testing.T) {
	d, err := MACross(frameFrom(trend(40, 100, 1), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Long, d)

	d, err = MACross(frameFrom(trend(40, 100, -1), nil), Params{"fast_period": 3, "slow_period": 8})
	require.NoError(t, err)
	assert.Equal(t, Flat, d)
}

func TestBollingerRSIFollowsMiddleBand(t *testing.T) {
	d, err := BollingerRSI(frameFrom(trend(60, 100, 1), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Long, d)

	d, err = BollingerRSI(frameFrom(trend(60, 200, -1), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Flat, d)
}

func quadratic(n int, start, a float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + a*float64(i*i)
	}
	return out
}

func TestEMAMACD(t *testing.T) {
	d, err := EMAMACD(frameFrom(quadratic(150, 500, -0.01), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Flat, d, "MACD below signal")

	d, err = EMAMACD(frameFrom(quadratic(150, 100, 0.01), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Long, d)
}

func TestMARSIATRFlatOnOverbought(t *testing.T) {
	d, err := MARSIATR(frameFrom(trend(80, 100, 1), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Flat, d)
}

func TestIchimoku(t *testing.T) {
	_, err := Ichimoku(frameFrom(trend(60, 100, 1), nil), nil)
	assert.ErrorIs(t, err, indicators.ErrInsufficientData, "cloud needs senkou+kijun bars")

	d, err := Ichimoku(frameFrom(trend(100, 100, 1), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Long, d, "above the cloud with tenkan over kijun")

	d, err = Ichimoku(frameFrom(trend(100, 300, -1), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Flat, d)
}

func TestVortexRSIVolume(t *testing.T) {
	spike := func(n int) []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = 10
		}
		v[n-1] = 100
		return v
	}

	_, err := VortexRSIVolume(frameFrom(trend(40, 100, 1), spike(40)), nil)
	assert.ErrorIs(t, err, indicators.ErrInsufficientData)

	d, err := VortexRSIVolume(frameFrom(trend(60, 100, 1), spike(60)), nil)
	require.NoError(t, err)
	assert.Equal(t, Long, d)

	d, err = VortexRSIVolume(frameFrom(trend(60, 200, -1), spike(60)), nil)
	require.NoError(t, err)
	assert.Equal(t, Flat, d)

	d, err = VortexRSIVolume(frameFrom(trend(60, 100, 1), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, d, "volume at its average")
}

func TestFVG(t *testing.T) {
	_, err := FVG(frameFrom(trend(2, 100, 1), nil), nil)
	assert.ErrorIs(t, err, indicators.ErrInsufficientData)

	d, err := FVG(frameFrom(trend(10, 100, 1), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Long, d, "each candle opens above the high two bars back")

	d, err = FVG(frameFrom(trend(10, 100, -2), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Flat, d)

	d, err = FVG(frameFrom(trend(10, 100, 0.1), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, d, "overlapping candles leave no gap")
}

func TestT3Cross(t *testing.T) {
	_, err := T3Cross(frameFrom(trend(250, 100, 1), nil), nil)
	assert.ErrorIs(t, err, indicators.ErrInsufficientData, "slow line needs slow_period values")

	d, err := T3Cross(frameFrom(trend(300, 100, 1), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Long, d)

	d, err = T3Cross(frameFrom(trend(300, 500, -1), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, Flat, d)

	d, err = T3Cross(frameFrom(trend(40, 100, 1), nil), Params{"fast_period": 2, "slow_period": 5})
	require.NoError(t, err)
	assert.Equal(t, Long, d)
}
