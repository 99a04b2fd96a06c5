package domain

import "time"

// Bar is one daily price bar as gathered from a market data vendor. Bars
// are the storage-level representation; providers turn them into aligned
// return and volume series.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	VWAP      float64
}

// DollarVolume approximates the currency value traded during the bar.
func (b Bar) DollarVolume() float64 {
	p := b.VWAP
	if p == 0 {
		p = b.Close
	}
	return p * float64(b.Volume)
}
