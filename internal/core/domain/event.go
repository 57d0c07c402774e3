package domain

// EventType enumerates the events emitted by the external wallet engine.
type EventType int

const (
	PaymentPending EventType = iota
	PaymentWaitingConfirmation
	PaymentSucceeded
	PaymentFailed
	PaymentWaitingFeeAcceptance
	PaymentRefundable
	PaymentRefundPending
	PaymentRefunded
	Synced
)

var eventTypeToString = map[EventType]string{
	PaymentPending:              "paymentPending",
	PaymentWaitingConfirmation:  "paymentWaitingConfirmation",
	PaymentSucceeded:            "paymentSucceeded",
	PaymentFailed:               "paymentFailed",
	PaymentWaitingFeeAcceptance: "paymentWaitingFeeAcceptance",
	PaymentRefundable:           "paymentRefundable",
	PaymentRefundPending:        "paymentRefundPending",
	PaymentRefunded:             "paymentRefunded",
	Synced:                      "synced",
}

func (t EventType) String() string {
	return eventTypeToString[t]
}

// PaymentEvent is a single event received from the engine's stream.
// Details is nil for events that carry no payment, like Synced.
type PaymentEvent struct {
	Type    EventType
	Details *Payment
}
