package trader

import (
	"errors"
	"time"

	"spot-trader/internal/risk"
	"spot-trader/pkg/db"
	"spot-trader/pkg/exchanges/common"
)

// Action is what a cycle did.
type Action string

const (
	ActionNone       Action = "none"
	ActionWait       Action = "wait"
	ActionBuy        Action = "buy"
	ActionSell       Action = "sell"
	ActionStop       Action = "stop"
	ActionTakeProfit Action = "take_profit"
)

// CycleReport describes one completed cycle of a trader.
type CycleReport struct {
	Symbol       string        `json:"symbol"`
	StockCode    string        `json:"stockCode"`
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"duration"`
	Close        float64       `json:"close"`
	Decision     string        `json:"decision"`
	Action       Action        `json:"action"`
	OrdersPlaced int           `json:"ordersPlaced"`
	Cancelled    int           `json:"cancelled"`
	State        risk.State    `json:"state"`
	Phase        string        `json:"phase"`
	Sleep        time.Duration `json:"sleep"`
	Error        string        `json:"error,omitempty"`
	ErrorKind    string        `json:"errorKind,omitempty"`
}

// Acted reports whether the cycle sent or cancelled any order.
func (r CycleReport) Acted() bool {
	return r.OrdersPlaced > 0 || r.Cancelled > 0
}

func (r CycleReport) record() db.CycleRecord {
	return db.CycleRecord{
		Symbol:     r.Symbol,
		Phase:      r.Phase,
		Decision:   r.Decision,
		Action:     string(r.Action),
		ClosePrice: r.Close,
		StopPrice:  r.State.CurrentStopPrice,
		PeakPrice:  r.State.PeakPrice,
		TierIndex:  r.State.TierIndex,
		Holdings:   r.State.Holdings,
		Sleep:      r.Sleep,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		Duration:   r.Duration,
	}
}

// ExitNotice is published when a stop or take-profit fires.
type ExitNotice struct {
	Symbol  string  `json:"symbol"`
	Trigger string  `json:"trigger"`
	Qty     float64 `json:"qty"`
	Tier    int     `json:"tier"`
	Price   float64 `json:"price"`
	Reason  string  `json:"reason"`
}

// ErrorKind classifies a cycle error for reporting.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvariant):
		return "invariant"
	case common.IsTransient(err):
		return "transient"
	case common.IsRejected(err):
		return "rejected"
	default:
		return "other"
	}
}
