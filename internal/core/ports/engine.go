package ports

import (
	"context"

	"github.com/dgen-network/walletd/internal/core/domain"
)

// EngineConfig collects the options for connecting to the external wallet
// engine.
type EngineConfig struct {
	Network            string
	APIKey             string
	WorkingDir         string
	LiquidExplorerURL  string
	BitcoinExplorerURL string
}

// EventListener is invoked for every event emitted by the engine. Listeners
// must tolerate out-of-order delivery.
type EventListener func(event domain.PaymentEvent)

// WalletEngine is the external service providing account balance, payment
// execution and event notifications. The daemon never talks to it directly,
// all access goes through the session manager.
type WalletEngine interface {
	Connect(
		ctx context.Context, config EngineConfig, mnemonic string,
	) (EngineHandle, error)
}

// EngineHandle is a live handle to a connected engine. At most one handle
// exists per process at any time.
type EngineHandle interface {
	GetInfo(ctx context.Context) (*domain.WalletInfo, error)
	ListPayments(
		ctx context.Context, filter domain.PaymentFilter,
	) ([]domain.Payment, error)
	AddEventListener(listener EventListener) (string, error)
	RemoveEventListener(id string) error
	SignMessage(ctx context.Context, message string) (string, error)
	RegisterWebhook(ctx context.Context, webhookURL string) error
	UnregisterWebhook(ctx context.Context) error
	CreateBolt12Offer(ctx context.Context, description string) (string, error)
	SendPayment(
		ctx context.Context, destination string, amountSat uint64,
	) (*domain.Payment, error)
	ReceivePayment(
		ctx context.Context, amountSat uint64, description string,
	) (string, error)
	Disconnect() error
}
