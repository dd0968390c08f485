package marketdata

import (
	"encoding/json"
	"fmt"

	"github.com/kieranlane/gapengine/internal/bars"
)

func cacheKeyBars(symbol string, tf bars.Timeframe, n int) string {
	return fmt.Sprintf("bars:%s:%s:%d", symbol, tf, n)
}

func encodeBars(series []bars.Bar) ([]byte, error) { return json.Marshal(series) }

func decodeBars(raw []byte) ([]bars.Bar, error) {
	var series []bars.Bar
	err := json.Unmarshal(raw, &series)
	return series, err
}

func encodeQuote(q bars.Quote) ([]byte, error) { return json.Marshal(q) }

func decodeQuote(raw []byte) (bars.Quote, error) {
	var q bars.Quote
	err := json.Unmarshal(raw, &q)
	return q, err
}
