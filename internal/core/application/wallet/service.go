// Package wallet is the facade the rest of the app talks to: it glues the
// secret vault, the engine session and the event syncer into the
// unlock/lock lifecycle.
package wallet

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"
	"go.uber.org/ratelimit"
)

// mnemonicKeyPrefix prefixes the vault entry holding a user's mnemonic.
const mnemonicKeyPrefix = "walletMnemonic_"

// SecretVault is the view of the vault service the facade needs.
type SecretVault interface {
	WalletPassword(userID string) string
	UnlockAndFetch(userID, storageKey, password string) (string, error)
	SaveSecret(userID, storageKey, password, secret string) error
	ClearSecret(userID, storageKey, password string) error
}

// Session is the view of the connection manager the facade needs.
type Session interface {
	Connect(ctx context.Context, mnemonic, userID string) error
	Disconnect()
	IsConnected() bool
}

// EventSyncer is the view of the syncer the facade needs.
type EventSyncer interface {
	StartEventListening() error
	Reset()
}

// Opts defines the parameters needed for creating a wallet service with
// NewService.
type Opts struct {
	Vault   SecretVault
	Session Session
	Syncer  EventSyncer
}

// Service drives the wallet lifecycle end to end.
type Service struct {
	vault   SecretVault
	session Session
	syncer  EventSyncer

	mtx      sync.Mutex
	limiters map[string]ratelimit.Limiter
}

func NewService(opts Opts) (*Service, error) {
	if opts.Vault == nil {
		return nil, ErrNullVault
	}
	if opts.Session == nil {
		return nil, ErrNullSession
	}
	if opts.Syncer == nil {
		return nil, ErrNullSyncer
	}
	return &Service{
		vault:    opts.Vault,
		session:  opts.Session,
		syncer:   opts.Syncer,
		limiters: make(map[string]ratelimit.Limiter),
	}, nil
}

// UnlockWallet fetches the user's mnemonic from the vault, connects the
// engine session and starts the event sync. Unlock attempts are rate limited
// per user so that a misbehaving caller cannot hammer the vault.
func (s *Service) UnlockWallet(ctx context.Context, userID string) error {
	s.limiter(userID).Take()

	password := s.vault.WalletPassword(userID)
	mnemonic, err := s.vault.UnlockAndFetch(
		userID, mnemonicKeyPrefix+userID, password,
	)
	if err != nil {
		return err
	}
	if len(mnemonic) <= 0 {
		return ErrNoWalletFound
	}

	if err := s.session.Connect(ctx, mnemonic, userID); err != nil {
		return err
	}
	if err := s.syncer.StartEventListening(); err != nil {
		return err
	}
	log.WithField("user", userID).Info("wallet unlocked")
	return nil
}

// LockWallet tears down the engine session and drops the mirrored state. The
// saved mnemonic is untouched.
func (s *Service) LockWallet() {
	s.session.Disconnect()
	s.syncer.Reset()
	log.Info("wallet locked")
}

// SaveMnemonic validates and stores the user's mnemonic in the vault.
func (s *Service) SaveMnemonic(userID, mnemonic string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return ErrInvalidMnemonic
	}
	password := s.vault.WalletPassword(userID)
	return s.vault.SaveSecret(
		userID, mnemonicKeyPrefix+userID, password, mnemonic,
	)
}

// ClearMnemonic removes the saved mnemonic from the vault.
func (s *Service) ClearMnemonic(userID string) error {
	password := s.vault.WalletPassword(userID)
	return s.vault.ClearSecret(userID, mnemonicKeyPrefix+userID, password)
}

// GenerateMnemonic returns a fresh 12-word phrase.
func (s *Service) GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func (s *Service) ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

func (s *Service) IsLocked() bool {
	return !s.session.IsConnected()
}

func (s *Service) limiter(userID string) ratelimit.Limiter {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.limiters[userID]; !ok {
		s.limiters[userID] = ratelimit.New(1)
	}
	return s.limiters[userID]
}
