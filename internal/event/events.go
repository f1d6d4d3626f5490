package event

import "fmt"

// Kind identifies the concrete type of an event on the wire.
type Kind string

const (
	KindCandle  Kind = "candle"
	KindStatus  Kind = "status"
	KindBreadth Kind = "breadth"
	KindTrend   Kind = "trend"
)

// Channel names. Delivery is all-subscribers-on-channel.
const (
	ChannelCandle  = "market.candle"
	ChannelStatus  = "market.status"
	ChannelBreadth = "market.breadth"
	ChannelTrend   = "market.trend"
)

// CoreChannels returns every channel the bus routes.
func CoreChannels() []string {
	return []string{ChannelCandle, ChannelStatus, ChannelBreadth, ChannelTrend}
}

// Event is implemented by all records that move through the broker.
type Event interface {
	Kind() Kind
}

// New returns a zero value of the given kind, ready for decoding.
func New(k Kind) (Event, error) {
	switch k {
	case KindCandle:
		return &Candle{}, nil
	case KindStatus:
		return &Status{}, nil
	case KindBreadth:
		return &Breadth{}, nil
	case KindTrend:
		return &Trend{}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", k)
	}
}

// Candle is one OHLCV bar fetched from the quote source.
type Candle struct {
	Symbol    string  `json:"symbol"`
	TradeDate string  `json:"trade_date"` // YYYY-MM-DD
	Timestamp int64   `json:"timestamp"`  // µs since epoch
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
	PrevClose float64 `json:"prev_close"`
	Series    string  `json:"series"` // bar interval (e.g. "1m", "1d")
	Source    string  `json:"source"` // originating publisher id
}

func (*Candle) Kind() Kind { return KindCandle }

// Publisher health states reported in Status events.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is the per-cycle health summary a publisher emits on market.status.
// It is the only signal the orchestrator has for a publisher that stops
// making progress without ever returning an error.
type Status struct {
	PublisherID   string `json:"publisher_id"`
	State         string `json:"state"`
	Succeeded     int64  `json:"succeeded"`
	Failed        int64  `json:"failed"`
	FetchMicros   int64  `json:"fetch_micros"` // fetch duration, µs
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     int64  `json:"timestamp"` // µs since epoch
}

func (*Status) Kind() Kind { return KindStatus }

// Breadth aggregates advance/decline statistics across tracked symbols.
// ADRatio is 0 when Declines is 0 (the ratio is undefined).
type Breadth struct {
	Advances  int64   `json:"advances"`
	Declines  int64   `json:"declines"`
	Unchanged int64   `json:"unchanged"`
	Total     int64   `json:"total"`
	ADRatio   float64 `json:"ad_ratio"`
	Sentiment float64 `json:"sentiment"`
	Timestamp int64   `json:"timestamp"` // µs since epoch
}

func (*Breadth) Kind() Kind { return KindBreadth }

// Trend directions.
const (
	TrendBullish  = "bullish"
	TrendBearish  = "bearish"
	TrendSideways = "sideways"
)

// MovingAverage is one computed SMA value.
type MovingAverage struct {
	Period int     `json:"period"`
	Value  float64 `json:"value"`
}

// Trend is a moving-average trend reading for a single symbol.
type Trend struct {
	Symbol    string          `json:"symbol"`
	Averages  []MovingAverage `json:"averages"` // ordered by ascending period
	Direction string          `json:"direction"`
	Strength  float64         `json:"strength"`
	Timestamp int64           `json:"timestamp"` // µs since epoch
}

func (*Trend) Kind() Kind { return KindTrend }
