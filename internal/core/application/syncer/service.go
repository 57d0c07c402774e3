// Package syncer keeps an in-memory mirror of the wallet state up to date by
// consuming the engine's event stream, with a timer-based fallback for the
// cases where events stop flowing.
package syncer

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dgen-network/walletd/internal/core/domain"
	"github.com/dgen-network/walletd/internal/core/ports"
)

// DefaultPollInterval is the fallback refresh period.
const DefaultPollInterval = time.Minute

// WalletSession is the view of the connection manager the syncer needs.
type WalletSession interface {
	IsConnected() bool
	GetInfo(ctx context.Context) (*domain.WalletInfo, error)
	ListPayments(
		ctx context.Context, filter domain.PaymentFilter,
	) ([]domain.Payment, error)
	AddEventListener(listener ports.EventListener) (string, error)
}

// Opts defines the parameters needed for creating a syncer service with
// NewService.
type Opts struct {
	Session  WalletSession
	Notifier ports.PaymentNotifier
	// PollInterval overrides the fallback refresh period, zero means
	// DefaultPollInterval.
	PollInterval time.Duration
	// Foreground reports whether the app is in a state where background
	// refreshes are worth doing. Nil means always.
	Foreground func() bool
}

// Service mirrors the wallet state (balance snapshot and payment list) from
// the engine and forwards user-visible payment notifications.
type Service struct {
	session      WalletSession
	notifier     ports.PaymentNotifier
	pollInterval time.Duration
	foreground   func() bool

	mtx                    sync.Mutex
	listening              bool
	pollingStarted         bool
	didCompleteInitialSync bool
	info                   *domain.WalletInfo
	payments               []domain.Payment
	infoObservers          []func(domain.WalletInfo)
}

func NewService(opts Opts) (*Service, error) {
	if opts.Session == nil {
		return nil, ErrNullSession
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	foreground := opts.Foreground
	if foreground == nil {
		foreground = func() bool { return true }
	}
	return &Service{
		session:      opts.Session,
		notifier:     opts.Notifier,
		pollInterval: pollInterval,
		foreground:   foreground,
	}, nil
}

// StartEventListening subscribes to the engine's event stream and starts the
// polling fallback. It is idempotent. The polling loop is started at most
// once for the whole lifetime of the service, it survives Reset and keeps
// ticking across reconnections.
func (s *Service) StartEventListening() error {
	s.mtx.Lock()
	if s.listening {
		s.mtx.Unlock()
		return nil
	}
	s.mtx.Unlock()

	if _, err := s.session.AddEventListener(s.handleEvent); err != nil {
		return err
	}

	s.mtx.Lock()
	s.listening = true
	startPolling := !s.pollingStarted
	s.pollingStarted = true
	s.mtx.Unlock()

	if startPolling {
		go s.poll()
	}
	log.Debug("wallet event listening started")
	return nil
}

// Reset drops the mirrored state so that a later session starts from a clean
// slate. The polling loop is deliberately left running.
func (s *Service) Reset() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.listening = false
	s.didCompleteInitialSync = false
	s.info = nil
	s.payments = nil
}

// Info returns the latest wallet snapshot, nil if none was fetched yet.
func (s *Service) Info() *domain.WalletInfo {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.info == nil {
		return nil
	}
	info := *s.info
	return &info
}

// Payments returns the latest mirrored payment list.
func (s *Service) Payments() []domain.Payment {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	payments := make([]domain.Payment, len(s.payments))
	copy(payments, s.payments)
	return payments
}

func (s *Service) DidCompleteInitialSync() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.didCompleteInitialSync
}

// OnWalletInfoChanged registers an observer called whenever a refresh yields
// a snapshot that differs from the previous one.
func (s *Service) OnWalletInfoChanged(observer func(domain.WalletInfo)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.infoObservers = append(s.infoObservers, observer)
}

func (s *Service) handleEvent(event domain.PaymentEvent) {
	log.Debugf("wallet event received: %s", event.Type)

	switch event.Type {
	case domain.Synced:
		s.markSynced()
		s.refreshAll()
	case domain.PaymentPending, domain.PaymentWaitingConfirmation,
		domain.PaymentSucceeded, domain.PaymentWaitingFeeAcceptance:
		s.maybeNotify(event)
		s.refreshAll()
	case domain.PaymentFailed, domain.PaymentRefundable,
		domain.PaymentRefundPending, domain.PaymentRefunded:
		s.refreshAll()
	}
}

// maybeNotify forwards the event as a user-visible notification. Send
// payments and everything happening before the initial sync completes stay
// silent.
func (s *Service) maybeNotify(event domain.PaymentEvent) {
	if s.notifier == nil || event.Details == nil {
		return
	}
	if !s.DidCompleteInitialSync() {
		return
	}
	if event.Details.Type != domain.PaymentReceive {
		return
	}

	var stage domain.PaymentStage
	switch event.Type {
	case domain.PaymentPending:
		stage = domain.StagePending
	case domain.PaymentWaitingConfirmation:
		stage = domain.StageConfirmed
	case domain.PaymentSucceeded:
		stage = domain.StageComplete
	case domain.PaymentWaitingFeeAcceptance:
		stage = domain.StageFeeAcceptance
	default:
		return
	}
	s.notifier.NotifyPaymentReceived(*event.Details, stage)
}

func (s *Service) markSynced() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !s.didCompleteInitialSync {
		s.didCompleteInitialSync = true
		log.Info("wallet initial sync completed")
	}
}

// refreshAll refetches the snapshot and the payment list concurrently. The
// two refreshes are independent, one failing does not prevent the other from
// landing.
func (s *Service) refreshAll() {
	ctx := context.Background()
	g := errgroup.Group{}
	g.Go(func() error {
		info, err := s.session.GetInfo(ctx)
		if err != nil {
			log.WithError(err).Warn("failed to refresh wallet info")
			return err
		}
		s.publishInfo(info)
		return nil
	})
	g.Go(func() error {
		payments, err := s.session.ListPayments(ctx, domain.PaymentFilter{})
		if err != nil {
			log.WithError(err).Warn("failed to refresh payments")
			return err
		}
		s.mtx.Lock()
		s.payments = payments
		s.mtx.Unlock()
		return nil
	})
	// nolint
	g.Wait()
}

// publishInfo stores the snapshot and wakes the observers, but only when it
// actually differs from the previous one.
func (s *Service) publishInfo(info *domain.WalletInfo) {
	s.mtx.Lock()
	if !domain.WalletInfoChanged(s.info, info) {
		s.mtx.Unlock()
		return
	}
	s.info = info
	observers := make([]func(domain.WalletInfo), len(s.infoObservers))
	copy(observers, s.infoObservers)
	s.mtx.Unlock()

	for _, observer := range observers {
		observer(*info)
	}
}

// poll is the fallback for missed events. It skips ticks while disconnected
// or backgrounded and never stops once started.
func (s *Service) poll() {
	ticker := time.NewTicker(s.pollInterval)
	for range ticker.C {
		if !s.session.IsConnected() || !s.foreground() {
			continue
		}
		s.refreshAll()
	}
}
