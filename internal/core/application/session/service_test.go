package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dgen-network/walletd/internal/core/application/session"
	"github.com/dgen-network/walletd/internal/core/domain"
	"github.com/dgen-network/walletd/internal/core/ports"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon about"

var ctx = context.Background()

func TestNewManagerRequiresEngine(t *testing.T) {
	_, err := session.NewManager(session.Opts{})
	require.EqualError(t, err, session.ErrNullEngine.Error())
}

func TestConnectInvalidMnemonic(t *testing.T) {
	engine := &mockEngine{}
	manager := newTestManager(t, engine, nil)

	err := manager.Connect(ctx, "not a valid phrase", "alice")
	require.EqualError(t, err, session.ErrInvalidMnemonic.Error())
	require.False(t, manager.IsConnected())
	// Validation happens before any engine activity, nothing is called.
	engine.AssertNotCalled(t, "Connect")
}

func TestConnectThrottlesEveryAttempt(t *testing.T) {
	handle := newMockHandle()
	engine := &mockEngine{}
	engine.On("Connect", mock.Anything, mock.Anything, testMnemonic).
		Return(handle, nil)

	var delays []time.Duration
	manager := newTestManager(t, engine, func(d time.Duration) {
		delays = append(delays, d)
	})

	require.NoError(t, manager.Connect(ctx, testMnemonic, "alice"))
	require.True(t, manager.IsConnected())
	require.Equal(t, "alice", manager.UserID())
	require.Equal(t, []time.Duration{5 * time.Second}, delays)
}

func TestConnectRetriesWithExponentialBackoff(t *testing.T) {
	handle := newMockHandle()
	engine := &mockEngine{}
	engine.On("Connect", mock.Anything, mock.Anything, testMnemonic).
		Return(nil, errors.New("429 too many requests")).Twice()
	engine.On("Connect", mock.Anything, mock.Anything, testMnemonic).
		Return(handle, nil).Once()

	var delays []time.Duration
	manager := newTestManager(t, engine, func(d time.Duration) {
		delays = append(delays, d)
	})

	require.NoError(t, manager.Connect(ctx, testMnemonic, "alice"))
	require.True(t, manager.IsConnected())
	require.Equal(t, []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second,
	}, delays)
}

func TestConnectGivesUpAfterRetryBudget(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Connect", mock.Anything, mock.Anything, testMnemonic).
		Return(nil, errors.New("network error"))

	var delays []time.Duration
	manager := newTestManager(t, engine, func(d time.Duration) {
		delays = append(delays, d)
	})

	err := manager.Connect(ctx, testMnemonic, "alice")
	require.EqualError(t, err, "network error")
	require.False(t, manager.IsConnected())
	require.Empty(t, manager.UserID())
	require.Equal(t, []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second,
	}, delays)
	engine.AssertNumberOfCalls(t, "Connect", 4)
}

func TestConnectDoesNotRetryFatalErrors(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Connect", mock.Anything, mock.Anything, testMnemonic).
		Return(nil, errors.New("invalid api key"))

	manager := newTestManager(t, engine, func(time.Duration) {})

	err := manager.Connect(ctx, testMnemonic, "alice")
	require.EqualError(t, err, "invalid api key")
	engine.AssertNumberOfCalls(t, "Connect", 1)
}

func TestConnectIdempotentForSameUser(t *testing.T) {
	handle := newMockHandle()
	engine := &mockEngine{}
	engine.On("Connect", mock.Anything, mock.Anything, testMnemonic).
		Return(handle, nil)

	manager := newTestManager(t, engine, func(time.Duration) {})

	require.NoError(t, manager.Connect(ctx, testMnemonic, "alice"))
	require.NoError(t, manager.Connect(ctx, testMnemonic, "alice"))
	engine.AssertNumberOfCalls(t, "Connect", 1)
}

func TestConnectSwitchingUserDisconnectsFirst(t *testing.T) {
	aliceHandle := newMockHandle()
	bobHandle := newMockHandle()
	engine := &mockEngine{}
	engine.On("Connect", mock.Anything, mock.Anything, testMnemonic).
		Return(aliceHandle, nil).Once()
	engine.On("Connect", mock.Anything, mock.Anything, testMnemonic).
		Return(bobHandle, nil).Once()

	manager := newTestManager(t, engine, func(time.Duration) {})

	require.NoError(t, manager.Connect(ctx, testMnemonic, "alice"))
	require.NoError(t, manager.Connect(ctx, testMnemonic, "bob"))
	require.Equal(t, "bob", manager.UserID())
	aliceHandle.AssertCalled(t, "Disconnect")
	bobHandle.AssertNotCalled(t, "Disconnect")
}

func TestConnectDropsConcurrentAttempts(t *testing.T) {
	handle := newMockHandle()
	engine := &mockEngine{}
	engine.On("Connect", mock.Anything, mock.Anything, testMnemonic).
		Return(handle, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	manager := newTestManager(t, engine, func(time.Duration) {
		started <- struct{}{}
		<-release
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, manager.Connect(ctx, testMnemonic, "alice"))
	}()

	// The first attempt is parked inside the backoff sleep. The concurrent
	// one must return immediately without touching the engine.
	<-started
	require.NoError(t, manager.Connect(ctx, testMnemonic, "alice"))
	engine.AssertNumberOfCalls(t, "Connect", 0)

	close(release)
	wg.Wait()
	require.True(t, manager.IsConnected())
	engine.AssertNumberOfCalls(t, "Connect", 1)
}

func TestDisconnectRemovesTrackedListeners(t *testing.T) {
	handle := newMockHandle()
	handle.On("AddEventListener", mock.Anything).Return("lst-1", nil).Once()
	handle.On("AddEventListener", mock.Anything).Return("lst-2", nil).Once()
	handle.On("RemoveEventListener", "lst-1").Return(nil)
	handle.On("RemoveEventListener", "lst-2").
		Return(errors.New("already gone"))

	engine := &mockEngine{}
	engine.On("Connect", mock.Anything, mock.Anything, testMnemonic).
		Return(handle, nil)

	manager := newTestManager(t, engine, func(time.Duration) {})
	require.NoError(t, manager.Connect(ctx, testMnemonic, "alice"))

	_, err := manager.AddEventListener(func(domain.PaymentEvent) {})
	require.NoError(t, err)
	_, err = manager.AddEventListener(func(domain.PaymentEvent) {})
	require.NoError(t, err)

	// Listener removal failures are tolerated, teardown always completes.
	manager.Disconnect()
	require.False(t, manager.IsConnected())
	handle.AssertCalled(t, "RemoveEventListener", "lst-1")
	handle.AssertCalled(t, "RemoveEventListener", "lst-2")
	handle.AssertCalled(t, "Disconnect")
}

func TestDisconnectWhileDisconnectedIsNoop(t *testing.T) {
	manager := newTestManager(t, &mockEngine{}, nil)
	manager.Disconnect()
	require.False(t, manager.IsConnected())
}

func TestOperationsFailFastWhenDisconnected(t *testing.T) {
	manager := newTestManager(t, &mockEngine{}, nil)

	_, err := manager.GetInfo(ctx)
	require.EqualError(t, err, session.ErrNotConnected.Error())
	_, err = manager.ListPayments(ctx, domain.PaymentFilter{})
	require.EqualError(t, err, session.ErrNotConnected.Error())
	_, err = manager.SignMessage(ctx, "msg")
	require.EqualError(t, err, session.ErrNotConnected.Error())
	err = manager.RegisterWebhook(ctx, "https://example.com/hook")
	require.EqualError(t, err, session.ErrNotConnected.Error())
	_, err = manager.AddEventListener(func(domain.PaymentEvent) {})
	require.EqualError(t, err, session.ErrNotConnected.Error())
}

func newTestManager(
	t *testing.T, engine ports.WalletEngine, sleep func(time.Duration),
) *session.Manager {
	if sleep == nil {
		sleep = func(time.Duration) {}
	}
	manager, err := session.NewManager(session.Opts{
		Engine:  engine,
		Config:  ports.EngineConfig{Network: "testnet"},
		SleepFn: sleep,
	})
	require.NoError(t, err)
	return manager
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Connect(
	ctx context.Context, config ports.EngineConfig, mnemonic string,
) (ports.EngineHandle, error) {
	args := m.Called(ctx, config, mnemonic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.EngineHandle), args.Error(1)
}

type mockHandle struct {
	mock.Mock
}

func newMockHandle() *mockHandle {
	handle := &mockHandle{}
	handle.On("Disconnect").Return(nil).Maybe()
	return handle
}

func (m *mockHandle) Disconnect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockHandle) GetInfo(ctx context.Context) (*domain.WalletInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WalletInfo), args.Error(1)
}

func (m *mockHandle) ListPayments(
	ctx context.Context, filter domain.PaymentFilter,
) ([]domain.Payment, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Payment), args.Error(1)
}

func (m *mockHandle) AddEventListener(
	listener ports.EventListener,
) (string, error) {
	args := m.Called(listener)
	return args.String(0), args.Error(1)
}

func (m *mockHandle) RemoveEventListener(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *mockHandle) SignMessage(
	ctx context.Context, message string,
) (string, error) {
	args := m.Called(ctx, message)
	return args.String(0), args.Error(1)
}

func (m *mockHandle) RegisterWebhook(
	ctx context.Context, webhookURL string,
) error {
	args := m.Called(ctx, webhookURL)
	return args.Error(0)
}

func (m *mockHandle) UnregisterWebhook(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockHandle) CreateBolt12Offer(
	ctx context.Context, description string,
) (string, error) {
	args := m.Called(ctx, description)
	return args.String(0), args.Error(1)
}

func (m *mockHandle) SendPayment(
	ctx context.Context, destination string, amountSat uint64,
) (*domain.Payment, error) {
	args := m.Called(ctx, destination, amountSat)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *mockHandle) ReceivePayment(
	ctx context.Context, amountSat uint64, description string,
) (string, error) {
	args := m.Called(ctx, amountSat, description)
	return args.String(0), args.Error(1)
}
