// Package indicators computes the technical indicator set analysts consume.
// Everything derives from a daily-bar window; the package has no data
// dependencies so providers can feed it from any source.
package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/rs/zerolog/log"
)

// MinBars is the smallest window Compute accepts: MA60 needs 60 closes
const MinBars = 60

// MACDValue is the current MACD reading
type MACDValue struct {
	DIF       float64 `json:"dif"`
	DEA       float64 `json:"dea"`
	Histogram float64 `json:"histogram"`
	Crossover string  `json:"crossover"` // bullish, bearish, none
}

// KDJValue is the current KDJ reading
type KDJValue struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
	J float64 `json:"j"`
}

// KeyLevels are the recent support and resistance prices
type KeyLevels struct {
	Support    float64 `json:"support"`
	Resistance float64 `json:"resistance"`
}

// TechnicalIndicators is the full indicator snapshot for one symbol
type TechnicalIndicators struct {
	Code        string    `json:"code"`
	TradeDate   string    `json:"trade_date"`
	Close       float64   `json:"close"`
	MA5         float64   `json:"ma5"`
	MA20        float64   `json:"ma20"`
	MA60        float64   `json:"ma60"`
	EMA12       float64   `json:"ema12"`
	EMA26       float64   `json:"ema26"`
	MACD        MACDValue `json:"macd"`
	RSI14       float64   `json:"rsi14"`
	KDJ         KDJValue  `json:"kdj"`
	KeyLevels   KeyLevels `json:"key_levels"`
	TrendSignal string    `json:"trend_signal"` // BULLISH, BEARISH, NEUTRAL
}

func sliceToChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func lastOf(ch <-chan float64) (float64, bool) {
	var last float64
	seen := false
	for v := range ch {
		last = v
		seen = true
	}
	return last, seen
}

func sma(values []float64, period int) float64 {
	indicator := trend.NewSmaWithPeriod[float64](period)
	v, _ := lastOf(indicator.Compute(sliceToChan(values)))
	return v
}

func ema(values []float64, period int) float64 {
	indicator := trend.NewEmaWithPeriod[float64](period)
	v, _ := lastOf(indicator.Compute(sliceToChan(values)))
	return v
}

func rsi(values []float64, period int) float64 {
	indicator := momentum.NewRsiWithPeriod[float64](period)
	v, _ := lastOf(indicator.Compute(sliceToChan(values)))
	return v
}

// macd returns the last two (dif, dea) pairs so crossovers are detectable
func macd(values []float64) (cur, prev [2]float64, ok bool) {
	indicator := trend.NewMacdWithPeriod[float64](12, 26, 9)
	macdChan, signalChan := indicator.Compute(sliceToChan(values))

	var pairs [][2]float64
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		pairs = append(pairs, [2]float64{m, s})
	}
	if len(pairs) == 0 {
		return cur, prev, false
	}
	cur = pairs[len(pairs)-1]
	if len(pairs) >= 2 {
		prev = pairs[len(pairs)-2]
	} else {
		prev = cur
	}
	return cur, prev, true
}

// kdj computes the 9-3-3 KDJ series. The recursive 1/3 smoothing is not in
// cinar/indicator v2's stochastic oscillator, so compute it directly.
func kdj(highs, lows, closes []float64) KDJValue {
	const period = 9

	k, d := 50.0, 50.0
	for i := range closes {
		lo := i - period + 1
		if lo < 0 {
			lo = 0
		}
		highest, lowest := highs[lo], lows[lo]
		for j := lo + 1; j <= i; j++ {
			if highs[j] > highest {
				highest = highs[j]
			}
			if lows[j] < lowest {
				lowest = lows[j]
			}
		}

		rsv := 50.0
		if highest > lowest {
			rsv = (closes[i] - lowest) / (highest - lowest) * 100
		}
		k = k*2/3 + rsv/3
		d = d*2/3 + k/3
	}

	return KDJValue{K: k, D: d, J: 3*k - 2*d}
}

// Compute derives the indicator set from aligned OHLCV slices, oldest first
func Compute(closes, highs, lows, volumes []float64) (TechnicalIndicators, error) {
	n := len(closes)
	if n < MinBars {
		return TechnicalIndicators{}, fmt.Errorf("insufficient data: need at least %d bars, got %d", MinBars, n)
	}
	if len(highs) != n || len(lows) != n {
		return TechnicalIndicators{}, fmt.Errorf("misaligned series: closes=%d highs=%d lows=%d", n, len(highs), len(lows))
	}

	out := TechnicalIndicators{
		Close: closes[n-1],
		MA5:   sma(closes, 5),
		MA20:  sma(closes, 20),
		MA60:  sma(closes, 60),
		EMA12: ema(closes, 12),
		EMA26: ema(closes, 26),
		RSI14: rsi(closes, 14),
		KDJ:   kdj(highs, lows, closes),
	}

	if cur, prev, ok := macd(closes); ok {
		out.MACD = MACDValue{
			DIF:       cur[0],
			DEA:       cur[1],
			Histogram: cur[0] - cur[1],
			Crossover: crossover(prev[0]-prev[1], cur[0]-cur[1]),
		}
	}

	out.KeyLevels = keyLevels(highs, lows, 20)
	out.TrendSignal = trendSignal(out)

	log.Debug().
		Float64("close", out.Close).
		Float64("ma20", out.MA20).
		Float64("rsi", out.RSI14).
		Str("trend", out.TrendSignal).
		Msg("Indicators computed")
	return out, nil
}

func crossover(prevHist, curHist float64) string {
	switch {
	case prevHist <= 0 && curHist > 0:
		return "bullish"
	case prevHist >= 0 && curHist < 0:
		return "bearish"
	default:
		return "none"
	}
}

func keyLevels(highs, lows []float64, window int) KeyLevels {
	n := len(lows)
	lo := n - window
	if lo < 0 {
		lo = 0
	}

	support, resistance := lows[lo], highs[lo]
	for i := lo + 1; i < n; i++ {
		if lows[i] < support {
			support = lows[i]
		}
		if highs[i] > resistance {
			resistance = highs[i]
		}
	}
	return KeyLevels{Support: support, Resistance: resistance}
}

// trendSignal condenses the indicator set into the three-way signal
// the technical analyst reports
func trendSignal(t TechnicalIndicators) string {
	score := 0
	if t.Close > t.MA20 {
		score++
	} else if t.Close < t.MA20 {
		score--
	}
	if t.MACD.Histogram > 0 {
		score++
	} else if t.MACD.Histogram < 0 {
		score--
	}
	if t.RSI14 > 55 {
		score++
	} else if t.RSI14 < 45 {
		score--
	}

	switch {
	case score >= 2:
		return "BULLISH"
	case score <= -2:
		return "BEARISH"
	default:
		return "NEUTRAL"
	}
}
