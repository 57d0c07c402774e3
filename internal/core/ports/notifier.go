package ports

import "github.com/dgen-network/walletd/internal/core/domain"

// PaymentNotifier receives user-visible payment notifications from the event
// synchronizer. Implementations must not block.
type PaymentNotifier interface {
	NotifyPaymentReceived(payment domain.Payment, stage domain.PaymentStage)
}
