// Package lnaddress manages the wallet's registration with the external
// lightning address registrar, the service that maps username@domain to the
// wallet's BOLT12 offer.
package lnaddress

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dgen-network/walletd/internal/core/domain"
)

const (
	// maxRegistrationAttempts bounds the username negotiation, counting the
	// initial attempt and every suffixed variant.
	maxRegistrationAttempts = 20
	// requestTimeout bounds each registrar round-trip.
	requestTimeout = 30 * time.Second
	// conflictBackoffUnit is the base pause between conflicting attempts.
	conflictBackoffUnit = 100 * time.Millisecond
	// maxBackoffSteps caps the conflict backoff growth.
	maxBackoffSteps = 5
)

var invalidUsernameChars = regexp.MustCompile(`[^a-z0-9._-]`)

// WalletSession is the view of the connection manager the registrar needs.
type WalletSession interface {
	IsConnected() bool
	GetInfo(ctx context.Context) (*domain.WalletInfo, error)
	SignMessage(ctx context.Context, message string) (string, error)
	RegisterWebhook(ctx context.Context, webhookURL string) error
	UnregisterWebhook(ctx context.Context) error
	CreateBolt12Offer(ctx context.Context, description string) (string, error)
}

// Registration is the outcome of a successful lightning address setup.
type Registration struct {
	RequestedUsername string
	ActualUsername    string
	Lnurl             string
	LightningAddress  string
	Bip353Address     string
	// UsernameModified tells whether a numeric suffix had to be appended
	// to work around a conflict.
	UsernameModified bool
}

// Opts defines the parameters needed for creating a registrar service with
// NewService.
type Opts struct {
	Session WalletSession
	// BaseURL is the registrar endpoint, its host is also the lightning
	// address domain.
	BaseURL string
	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
	// NowFn overrides the clock used for signed timestamps.
	NowFn func() time.Time
	// SleepFn overrides the conflict backoff sleep.
	SleepFn func(time.Duration)
}

// Service negotiates, recovers and removes lightning address registrations.
type Service struct {
	session WalletSession
	client  *httpClient
	baseURL string
	domain  string
	now     func() time.Time
	sleep   func(time.Duration)
}

func NewService(opts Opts) (*Service, error) {
	if opts.Session == nil {
		return nil, ErrNullSession
	}
	if len(opts.BaseURL) <= 0 {
		return nil, ErrMissingBaseURL
	}
	parsed, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid registrar base url: %w", err)
	}
	now := opts.NowFn
	if now == nil {
		now = time.Now
	}
	sleep := opts.SleepFn
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Service{
		session: opts.Session,
		client:  newHTTPClient(opts.HTTPClient, requestTimeout),
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		domain:  parsed.Host,
		now:     now,
		sleep:   sleep,
	}, nil
}

// Register claims a username on the registrar. On conflicts it retries with
// numeric suffixes (username1, username2, ...) until one is free or the
// attempt budget is exhausted.
func (s *Service) Register(
	ctx context.Context, username, webhookURL string,
) (*Registration, error) {
	offer, err := s.session.CreateBolt12Offer(ctx, "Lightning address payment")
	if err != nil {
		return nil, err
	}
	return s.register(ctx, username, offer, webhookURL)
}

// Update re-registers the current username with a freshly generated offer,
// typically after a webhook URL change.
func (s *Service) Update(
	ctx context.Context, username, webhookURL string,
) (*Registration, error) {
	return s.Register(ctx, username, webhookURL)
}

// Recover asks the registrar for an existing registration tied to this
// wallet's pubkey. Not being registered is a normal outcome: a missing
// registration, an unreachable registrar and a timeout all yield (nil, nil),
// the caller falls back to a fresh registration.
func (s *Service) Recover(
	ctx context.Context, webhookURL string,
) (*Registration, error) {
	pubkey, err := s.pubkey(ctx)
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("%d-%s", s.now().Unix(), webhookURL)
	signature, err := s.session.SignMessage(ctx, message)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.do(
		ctx, http.MethodPost,
		fmt.Sprintf("%s/lnurlpay/%s/recover", s.baseURL, pubkey),
		recoverRequest{
			Time:       s.now().Unix(),
			WebhookURL: webhookURL,
			Signature:  signature,
		},
	)
	if err != nil {
		log.WithError(err).Debug("lightning address recover unreachable")
		return nil, nil
	}
	if resp.status == http.StatusNotFound {
		return nil, nil
	}
	if resp.status != http.StatusOK {
		return nil, fmt.Errorf(
			"failed to recover lightning address: status %d", resp.status,
		)
	}

	var parsed registerResponse
	if err := parsed.unmarshal(resp.body); err != nil {
		return nil, err
	}
	username := usernameOf(parsed.LightningAddress)
	return &Registration{
		RequestedUsername: username,
		ActualUsername:    username,
		Lnurl:             parsed.Lnurl,
		LightningAddress:  parsed.LightningAddress,
		Bip353Address:     parsed.Bip353Address,
	}, nil
}

// Unregister removes the registration and the engine webhook. A registrar
// that does not know the registration is fine, the webhook is dropped anyway.
func (s *Service) Unregister(ctx context.Context, webhookURL string) error {
	pubkey, err := s.pubkey(ctx)
	if err != nil {
		return err
	}

	timestamp := s.now().Unix()
	message := fmt.Sprintf("%d-%s", timestamp, webhookURL)
	signature, err := s.session.SignMessage(ctx, message)
	if err != nil {
		return err
	}

	resp, err := s.client.do(
		ctx, http.MethodDelete,
		fmt.Sprintf("%s/lnurlpay/%s", s.baseURL, pubkey),
		unregisterRequest{
			Time:       timestamp,
			WebhookURL: webhookURL,
			Signature:  signature,
		},
	)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK && resp.status != http.StatusNotFound {
		return fmt.Errorf(
			"failed to unregister lightning address: status %d", resp.status,
		)
	}
	return s.session.UnregisterWebhook(ctx)
}

// Setup is the recover-first flow ran at wallet startup: reuse an existing
// registration when the registrar knows one, register from scratch otherwise.
// With an empty username the pubkey prefix is used.
func (s *Service) Setup(
	ctx context.Context, username, webhookURL string,
) (*Registration, error) {
	if recovered, err := s.Recover(ctx, webhookURL); err != nil {
		return nil, err
	} else if recovered != nil {
		log.WithField("username", recovered.ActualUsername).
			Debug("recovered existing lightning address")
		return recovered, nil
	}

	if len(username) <= 0 {
		pubkey, err := s.pubkey(ctx)
		if err != nil {
			return nil, err
		}
		if len(pubkey) > 16 {
			pubkey = pubkey[:16]
		}
		username = pubkey
	}
	return s.Register(ctx, FormatUsername(username), webhookURL)
}

// FormatUsername normalizes a free-form username to the registrar's charset.
func FormatUsername(username string) string {
	username = strings.ToLower(strings.TrimSpace(username))
	username = strings.ReplaceAll(username, " ", ".")
	return invalidUsernameChars.ReplaceAllString(username, "")
}

func (s *Service) register(
	ctx context.Context, username, offer, webhookURL string,
) (*Registration, error) {
	for attempt := 0; attempt < maxRegistrationAttempts; attempt++ {
		candidate := username
		if attempt > 0 {
			candidate = username + strconv.Itoa(attempt)
		}

		registration, err := s.registerOnce(ctx, candidate, offer, webhookURL)
		if err == nil {
			registration.RequestedUsername = username
			registration.UsernameModified = attempt > 0
			return registration, nil
		}
		if err != ErrUsernameConflict {
			return nil, err
		}
		log.Debugf("lightning address username %s already taken", candidate)

		if attempt < maxRegistrationAttempts-1 {
			steps := attempt + 1
			if steps > maxBackoffSteps {
				steps = maxBackoffSteps
			}
			s.sleep(time.Duration(steps) * conflictBackoffUnit)
		}
	}
	return nil, fmt.Errorf(
		"failed to register lightning address after %d attempts: %w",
		maxRegistrationAttempts, ErrUsernameConflict,
	)
}

func (s *Service) registerOnce(
	ctx context.Context, username, offer, webhookURL string,
) (*Registration, error) {
	pubkey, err := s.pubkey(ctx)
	if err != nil {
		return nil, err
	}

	// A stale webhook from a previous run must not shadow the new one. The
	// engine may not have one registered, failures here are irrelevant.
	if err := s.session.UnregisterWebhook(ctx); err != nil {
		log.WithError(err).Debug("no stale webhook to unregister")
	}
	if err := s.session.RegisterWebhook(ctx, webhookURL); err != nil {
		return nil, err
	}

	timestamp := s.now().Unix()
	message := fmt.Sprintf(
		"%d-%s-%s-%s", timestamp, webhookURL, username, offer,
	)
	signature, err := s.session.SignMessage(ctx, message)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.do(
		ctx, http.MethodPost,
		fmt.Sprintf("%s/lnurlpay/%s", s.baseURL, pubkey),
		registerRequest{
			Time:       timestamp,
			WebhookURL: webhookURL,
			Username:   username,
			Offer:      offer,
			Signature:  signature,
		},
	)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusConflict {
		return nil, ErrUsernameConflict
	}
	if resp.status != http.StatusOK {
		return nil, fmt.Errorf(
			"failed to register lightning address: status %d", resp.status,
		)
	}

	var parsed registerResponse
	if err := parsed.unmarshal(resp.body); err != nil {
		return nil, err
	}
	lightningAddress := parsed.LightningAddress
	if len(lightningAddress) <= 0 {
		lightningAddress = s.address(username)
	}
	bip353Address := parsed.Bip353Address
	if len(bip353Address) <= 0 {
		bip353Address = s.address(username)
	}
	return &Registration{
		ActualUsername:   username,
		Lnurl:            parsed.Lnurl,
		LightningAddress: lightningAddress,
		Bip353Address:    bip353Address,
	}, nil
}

func (s *Service) pubkey(ctx context.Context) (string, error) {
	info, err := s.session.GetInfo(ctx)
	if err != nil {
		return "", err
	}
	return info.Pubkey, nil
}

func (s *Service) address(username string) string {
	return fmt.Sprintf("%s@%s", username, s.domain)
}

func usernameOf(lightningAddress string) string {
	if at := strings.Index(lightningAddress, "@"); at >= 0 {
		return lightningAddress[:at]
	}
	return lightningAddress
}
