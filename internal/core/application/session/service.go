package session

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"

	"github.com/dgen-network/walletd/internal/core/domain"
	"github.com/dgen-network/walletd/internal/core/ports"
)

const (
	// maxConnectRetries is the number of additional attempts after the
	// first one for retryable failures.
	maxConnectRetries = 3
	// baseConnectDelay throttles every attempt, the first one included, to
	// respect upstream rate limits.
	baseConnectDelay = 5 * time.Second
)

// retryableMarkers are matched against error messages to classify transient
// upstream failures worth retrying.
var retryableMarkers = []string{
	"429", "too many requests", "rate limit", "network", "fetch",
}

// Opts defines the parameters needed for creating a session manager with
// NewManager.
type Opts struct {
	Engine ports.WalletEngine
	Config ports.EngineConfig
	// SleepFn overrides the backoff sleep, used by tests to inject a
	// controllable clock. Defaults to time.Sleep.
	SleepFn func(time.Duration)
}

// Manager owns the single live handle to the external wallet engine. All
// connect/disconnect transitions are funneled through it, callers must never
// hold the handle themselves.
type Manager struct {
	engine ports.WalletEngine
	config ports.EngineConfig
	sleep  func(time.Duration)

	mtx           sync.Mutex
	handle        ports.EngineHandle
	currentUserID string
	connecting    bool
	listeners     map[string]struct{}
}

func NewManager(opts Opts) (*Manager, error) {
	if opts.Engine == nil {
		return nil, ErrNullEngine
	}
	sleep := opts.SleepFn
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Manager{
		engine:    opts.Engine,
		config:    opts.Config,
		sleep:     sleep,
		listeners: make(map[string]struct{}),
	}, nil
}

// Connect establishes the session for the given user. It is idempotent: if
// already connected for the same user it returns immediately. If a connect is
// already in flight the call returns without starting a second attempt, it
// does not join the in-flight one.
func (m *Manager) Connect(ctx context.Context, mnemonic, userID string) error {
	m.mtx.Lock()
	if m.connecting {
		m.mtx.Unlock()
		log.Debug("connection attempt already in flight, skipping")
		return nil
	}
	if m.handle != nil && m.currentUserID == userID {
		m.mtx.Unlock()
		return nil
	}
	m.connecting = true
	switchingUser := m.handle != nil
	m.mtx.Unlock()

	defer func() {
		m.mtx.Lock()
		m.connecting = false
		m.mtx.Unlock()
	}()

	// The phrase must pass checksum validation before any network activity.
	if !bip39.IsMnemonicValid(mnemonic) {
		return ErrInvalidMnemonic
	}

	// Switching users requires a full teardown of the previous session.
	if switchingUser {
		m.Disconnect()
	}

	var lastErr error
	for attempt := 0; attempt <= maxConnectRetries; attempt++ {
		delay := baseConnectDelay << attempt
		log.Debugf(
			"connecting to engine (attempt %d/%d) after %s",
			attempt+1, maxConnectRetries+1, delay,
		)
		m.sleep(delay)

		handle, err := m.engine.Connect(ctx, m.config, mnemonic)
		if err == nil {
			m.mtx.Lock()
			m.handle = handle
			m.currentUserID = userID
			m.mtx.Unlock()
			log.WithField("user", userID).Info("engine connected")
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			break
		}
		log.WithError(err).Warnf(
			"retryable connection failure (attempt %d/%d)",
			attempt+1, maxConnectRetries+1,
		)
	}

	m.mtx.Lock()
	m.handle = nil
	m.currentUserID = ""
	m.mtx.Unlock()
	return lastErr
}

// Disconnect tears down the session: every registered listener is removed
// best-effort, then the engine handle is closed. The manager is always left
// in a state where a subsequent Connect is possible.
func (m *Manager) Disconnect() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.handle == nil {
		return
	}

	for id := range m.listeners {
		if err := m.handle.RemoveEventListener(id); err != nil {
			log.WithError(err).Warnf("failed to remove engine listener %s", id)
		}
	}
	m.listeners = make(map[string]struct{})

	if err := m.handle.Disconnect(); err != nil {
		log.WithError(err).Warn("failed to disconnect from engine")
	}
	m.handle = nil
	m.currentUserID = ""
}

func (m *Manager) IsConnected() bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.handle != nil
}

func (m *Manager) UserID() string {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.currentUserID
}

// AddEventListener registers a listener on the live handle and tracks its id
// so that Disconnect can tear it down.
func (m *Manager) AddEventListener(listener ports.EventListener) (string, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.handle == nil {
		return "", ErrNotConnected
	}
	id, err := m.handle.AddEventListener(listener)
	if err != nil {
		return "", err
	}
	m.listeners[id] = struct{}{}
	return id, nil
}

func (m *Manager) RemoveEventListener(id string) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.handle == nil || len(id) <= 0 {
		return
	}
	if err := m.handle.RemoveEventListener(id); err != nil {
		log.WithError(err).Warnf("failed to remove engine listener %s", id)
	}
	delete(m.listeners, id)
}

func (m *Manager) GetInfo(ctx context.Context) (*domain.WalletInfo, error) {
	handle, err := m.liveHandle()
	if err != nil {
		return nil, err
	}
	return handle.GetInfo(ctx)
}

func (m *Manager) ListPayments(
	ctx context.Context, filter domain.PaymentFilter,
) ([]domain.Payment, error) {
	handle, err := m.liveHandle()
	if err != nil {
		return nil, err
	}
	return handle.ListPayments(ctx, filter)
}

func (m *Manager) SignMessage(ctx context.Context, message string) (string, error) {
	handle, err := m.liveHandle()
	if err != nil {
		return "", err
	}
	return handle.SignMessage(ctx, message)
}

func (m *Manager) RegisterWebhook(ctx context.Context, webhookURL string) error {
	handle, err := m.liveHandle()
	if err != nil {
		return err
	}
	return handle.RegisterWebhook(ctx, webhookURL)
}

func (m *Manager) UnregisterWebhook(ctx context.Context) error {
	handle, err := m.liveHandle()
	if err != nil {
		return err
	}
	return handle.UnregisterWebhook(ctx)
}

func (m *Manager) CreateBolt12Offer(
	ctx context.Context, description string,
) (string, error) {
	handle, err := m.liveHandle()
	if err != nil {
		return "", err
	}
	return handle.CreateBolt12Offer(ctx, description)
}

func (m *Manager) SendPayment(
	ctx context.Context, destination string, amountSat uint64,
) (*domain.Payment, error) {
	handle, err := m.liveHandle()
	if err != nil {
		return nil, err
	}
	return handle.SendPayment(ctx, destination, amountSat)
}

func (m *Manager) ReceivePayment(
	ctx context.Context, amountSat uint64, description string,
) (string, error) {
	handle, err := m.liveHandle()
	if err != nil {
		return "", err
	}
	return handle.ReceivePayment(ctx, amountSat, description)
}

// liveHandle returns the current handle or fails fast, operations never
// connect implicitly.
func (m *Manager) liveHandle() (ports.EngineHandle, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.handle == nil {
		return nil, ErrNotConnected
	}
	return m.handle, nil
}

func isRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
