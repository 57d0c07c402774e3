package domain

// PaymentType tells the direction of a payment from the wallet's perspective.
type PaymentType string

const (
	PaymentSend    PaymentType = "send"
	PaymentReceive PaymentType = "receive"
)

// Payment is the engine's view of a single send or receive operation.
type Payment struct {
	ID        string
	Type      PaymentType
	AmountSat uint64
	FeesSat   uint64
	Status    string
	Timestamp int64
}

// PaymentFilter restricts the set of payments returned by the engine.
// Zero values mean "no restriction".
type PaymentFilter struct {
	FromTimestamp int64
	ToTimestamp   int64
	Types         []PaymentType
	Offset        uint32
	Limit         uint32
}

// PaymentStage qualifies a payment-received notification.
type PaymentStage string

const (
	StagePending       PaymentStage = "pending"
	StageConfirmed     PaymentStage = "confirmed"
	StageComplete      PaymentStage = "complete"
	StageFeeAcceptance PaymentStage = "fee_acceptance"
)
