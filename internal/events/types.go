package events

// Event enumerates topics published by the trading loops.
type Event string

const (
	// EventCycle carries a trader.CycleReport after every cycle.
	EventCycle Event = "cycle"
	// EventOrder carries a db.OrderRecord for every submitted order.
	EventOrder Event = "order"
	// EventRiskExit carries a trader.ExitNotice when a stop or take-profit fires.
	EventRiskExit Event = "risk.exit"
	// EventTraderStopped carries the symbol of a loop that exited.
	EventTraderStopped Event = "trader.stopped"
)
