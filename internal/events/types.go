package events

// Event enumerates the topics published by the engine.
type Event string

const (
	EventDecision       Event = "decision"
	EventTradeOpened    Event = "trade.opened"
	EventTradeSent      Event = "trade.sent"
	EventTradeFailed    Event = "trade.failed"
	EventTradeFilled    Event = "trade.filled"
	EventPositionClosed Event = "position.closed"
	EventRiskAlert      Event = "risk.alert"
	EventBatchDone      Event = "batch.done"
)
