package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"
	"github.com/urfave/cli/v2"

	"github.com/dgen-network/walletd/internal/config"
	"github.com/dgen-network/walletd/internal/core/application/lnaddress"
	"github.com/dgen-network/walletd/internal/core/application/session"
	"github.com/dgen-network/walletd/internal/core/application/syncer"
	"github.com/dgen-network/walletd/internal/core/application/vault"
	"github.com/dgen-network/walletd/internal/core/application/wallet"
	"github.com/dgen-network/walletd/internal/core/domain"
	"github.com/dgen-network/walletd/internal/core/ports"
	"github.com/dgen-network/walletd/internal/infrastructure/engine/inmemory"
	"github.com/dgen-network/walletd/internal/infrastructure/storage/keystore"
	"github.com/dgen-network/walletd/pkg/logstore"
	"github.com/dgen-network/walletd/pkg/securestore"
	boltsecurestore "github.com/dgen-network/walletd/pkg/securestore/bolt"
)

func main() {
	app := cli.NewApp()

	app.Version = "0.1.0"
	app.Name = "walletd"
	app.Usage = "lightning wallet session daemon"
	app.Action = runDaemon
	app.Commands = append(
		app.Commands,
		&cli.Command{
			Name:   "genseed",
			Usage:  "generate a new wallet mnemonic",
			Action: genSeed,
		},
	)

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("failed to start")
	}
}

func runDaemon(_ *cli.Context) error {
	if err := config.InitConfig(); err != nil {
		return err
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	datadir := config.GetDatadir()

	logStore, err := logstore.Open(
		filepath.Join(datadir, config.LogsLocation), "logs.db", logstore.Opts{},
	)
	if err != nil {
		return err
	}
	defer logStore.Close()
	log.AddHook(logstore.NewHook(logStore))

	keyStore, err := keystore.NewStore(datadir, nil)
	if err != nil {
		return err
	}
	defer keyStore.Close()

	vaultDir := filepath.Join(datadir, config.VaultLocation)
	opener := func(userID string) (securestore.SecureStorage, error) {
		return boltsecurestore.NewSecureStorage(
			vaultDir, fmt.Sprintf("wallet-%s.db", userID),
		)
	}
	secretVault, err := vault.NewService(opener, keyStore)
	if err != nil {
		return err
	}

	sessionMgr, err := session.NewManager(session.Opts{
		Engine: inmemory.NewEngine(),
		Config: config.GetEngineConfig(),
	})
	if err != nil {
		return err
	}

	eventSyncer, err := syncer.NewService(syncer.Opts{
		Session:      sessionMgr,
		Notifier:     logNotifier{},
		PollInterval: config.GetDuration(config.PollIntervalKey),
	})
	if err != nil {
		return err
	}
	eventSyncer.OnWalletInfoChanged(func(info domain.WalletInfo) {
		log.WithFields(log.Fields{
			"balance_sat":         info.BalanceSat,
			"pending_receive_sat": info.PendingReceiveSat,
			"pending_send_sat":    info.PendingSendSat,
		}).Info("wallet info updated")
	})

	walletSvc, err := wallet.NewService(wallet.Opts{
		Vault:   secretVault,
		Session: sessionMgr,
		Syncer:  eventSyncer,
	})
	if err != nil {
		return err
	}

	registrar, err := lnaddress.NewService(lnaddress.Opts{
		Session: sessionMgr,
		BaseURL: config.GetString(config.RegistrarURLKey),
	})
	if err != nil {
		return err
	}

	log.Info("daemon started")

	ctx := context.Background()
	userID := config.GetString(config.UserIDKey)
	if config.GetBool(config.AutoUnlockKey) {
		if err := walletSvc.UnlockWallet(ctx, userID); err != nil {
			log.WithError(err).Warn("failed to auto-unlock wallet")
		} else if webhookURL := config.GetString(
			config.WebhookURLKey,
		); len(webhookURL) > 0 {
			registration, err := registrar.Setup(
				ctx, config.GetString(config.UsernameKey), webhookURL,
			)
			if err != nil {
				log.WithError(err).Warn("failed to set up lightning address")
			} else {
				log.WithField(
					"address", registration.LightningAddress,
				).Info("lightning address ready")
			}
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	walletSvc.LockWallet()
	log.Info("exiting")
	return nil
}

func genSeed(_ *cli.Context) error {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return err
	}
	fmt.Println(mnemonic)
	return nil
}

// logNotifier surfaces payment notifications in the daemon log. A UI embeds
// the services directly and brings its own ports.PaymentNotifier.
type logNotifier struct{}

func (n logNotifier) NotifyPaymentReceived(
	payment domain.Payment, stage domain.PaymentStage,
) {
	log.WithFields(log.Fields{
		"payment_id": payment.ID,
		"amount_sat": payment.AmountSat,
		"stage":      stage,
	}).Info("payment received")
}

var _ ports.PaymentNotifier = (*logNotifier)(nil)
