// Package inmemory implements the wallet engine ports against in-process
// state. It stands in for the real node-backed engine in tests and local
// development, deriving real keys from the mnemonic so that signatures are
// verifiable.
package inmemory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/google/uuid"
	"github.com/tyler-smith/go-bip39"

	"github.com/dgen-network/walletd/internal/core/domain"
	"github.com/dgen-network/walletd/internal/core/ports"
)

var (
	ErrInvalidMnemonic = errors.New("invalid mnemonic phrase")
	ErrDisconnected    = errors.New("engine handle is disconnected")
)

type Engine struct{}

func NewEngine() ports.WalletEngine {
	return &Engine{}
}

func (e *Engine) Connect(
	_ context.Context, config ports.EngineConfig, mnemonic string,
) (ports.EngineHandle, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")
	privKey, pubKey := btcec.PrivKeyFromBytes(seed[:32])
	pubkey := hex.EncodeToString(pubKey.SerializeCompressed())

	return &Handle{
		config:  config,
		privKey: privKey,
		info: domain.WalletInfo{
			NodeID: pubkey,
			Pubkey: pubkey,
		},
		listeners: make(map[string]ports.EventListener),
	}, nil
}

// Handle is a live in-memory engine session.
type Handle struct {
	config  ports.EngineConfig
	privKey *btcec.PrivateKey

	mtx        sync.Mutex
	closed     bool
	info       domain.WalletInfo
	payments   []domain.Payment
	webhookURL string
	listeners  map[string]ports.EventListener
}

func (h *Handle) GetInfo(_ context.Context) (*domain.WalletInfo, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.closed {
		return nil, ErrDisconnected
	}
	info := h.info
	return &info, nil
}

func (h *Handle) ListPayments(
	_ context.Context, filter domain.PaymentFilter,
) ([]domain.Payment, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.closed {
		return nil, ErrDisconnected
	}

	payments := make([]domain.Payment, 0, len(h.payments))
	for _, payment := range h.payments {
		if filter.FromTimestamp > 0 && payment.Timestamp < filter.FromTimestamp {
			continue
		}
		if filter.ToTimestamp > 0 && payment.Timestamp > filter.ToTimestamp {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, payment.Type) {
			continue
		}
		payments = append(payments, payment)
	}

	if filter.Offset > 0 {
		if int(filter.Offset) >= len(payments) {
			return nil, nil
		}
		payments = payments[filter.Offset:]
	}
	if filter.Limit > 0 && int(filter.Limit) < len(payments) {
		payments = payments[:filter.Limit]
	}
	return payments, nil
}

func (h *Handle) AddEventListener(
	listener ports.EventListener,
) (string, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.closed {
		return "", ErrDisconnected
	}
	id := uuid.NewString()
	h.listeners[id] = listener
	return id, nil
}

func (h *Handle) RemoveEventListener(id string) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if _, ok := h.listeners[id]; !ok {
		return fmt.Errorf("unknown listener %s", id)
	}
	delete(h.listeners, id)
	return nil
}

// SignMessage signs the sha256 digest of the message with the wallet key and
// returns the DER signature hex-encoded.
func (h *Handle) SignMessage(
	_ context.Context, message string,
) (string, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.closed {
		return "", ErrDisconnected
	}
	digest := sha256.Sum256([]byte(message))
	sig := ecdsa.Sign(h.privKey, digest[:])
	return hex.EncodeToString(sig.Serialize()), nil
}

func (h *Handle) RegisterWebhook(_ context.Context, webhookURL string) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.closed {
		return ErrDisconnected
	}
	h.webhookURL = webhookURL
	return nil
}

func (h *Handle) UnregisterWebhook(_ context.Context) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.closed {
		return ErrDisconnected
	}
	if len(h.webhookURL) <= 0 {
		return errors.New("no webhook registered")
	}
	h.webhookURL = ""
	return nil
}

// CreateBolt12Offer derives a deterministic offer from the wallet key and
// the description.
func (h *Handle) CreateBolt12Offer(
	_ context.Context, description string,
) (string, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.closed {
		return "", ErrDisconnected
	}
	digest := sha256.Sum256(append(
		h.privKey.PubKey().SerializeCompressed(), []byte(description)...,
	))
	return "lno1" + hex.EncodeToString(digest[:])[:32], nil
}

func (h *Handle) SendPayment(
	_ context.Context, destination string, amountSat uint64,
) (*domain.Payment, error) {
	h.mtx.Lock()
	if h.closed {
		h.mtx.Unlock()
		return nil, ErrDisconnected
	}
	if amountSat > h.info.BalanceSat {
		h.mtx.Unlock()
		return nil, errors.New("insufficient balance")
	}

	payment := domain.Payment{
		ID:        uuid.NewString(),
		Type:      domain.PaymentSend,
		AmountSat: amountSat,
		Status:    "complete",
		Timestamp: time.Now().Unix(),
	}
	h.payments = append(h.payments, payment)
	h.info.BalanceSat -= amountSat
	h.mtx.Unlock()

	h.EmitEvent(domain.PaymentEvent{
		Type: domain.PaymentSucceeded, Details: &payment,
	})
	return &payment, nil
}

func (h *Handle) ReceivePayment(
	_ context.Context, amountSat uint64, description string,
) (string, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.closed {
		return "", ErrDisconnected
	}
	digest := sha256.Sum256([]byte(
		fmt.Sprintf("%d-%s", amountSat, description),
	))
	return "lni1" + hex.EncodeToString(digest[:])[:32], nil
}

func (h *Handle) Disconnect() error {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.closed {
		return ErrDisconnected
	}
	h.closed = true
	h.listeners = make(map[string]ports.EventListener)
	return nil
}

// EmitEvent fans an event out to every registered listener. Tests use it to
// simulate the engine's stream.
func (h *Handle) EmitEvent(event domain.PaymentEvent) {
	h.mtx.Lock()
	listeners := make([]ports.EventListener, 0, len(h.listeners))
	for _, listener := range h.listeners {
		listeners = append(listeners, listener)
	}
	h.mtx.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// CreditBalance funds the in-memory wallet, tests and local development use
// it to simulate inbound liquidity.
func (h *Handle) CreditBalance(amountSat uint64) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.info.BalanceSat += amountSat
}

func containsType(types []domain.PaymentType, t domain.PaymentType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
