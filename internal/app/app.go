// Package app wires the settlement services from Settings for the binaries.
package app

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"estatesettle/internal/alert"
	"estatesettle/internal/distribution"
	"estatesettle/internal/governance"
	"estatesettle/internal/handlers"
	"estatesettle/internal/ledger"
	"estatesettle/internal/models"
	"estatesettle/internal/relay"
	"estatesettle/internal/store"
	"estatesettle/internal/treasury"
	"estatesettle/pkg/config"
)

// App holds one process's services. Only Redis may be nil.
type App struct {
	Settings   config.Settings
	Store      *store.Store
	Redis      *redis.Client
	Alerts     alert.Fanout
	Notary     ledger.Notarizer
	Executor   ledger.Executor
	Engine     *distribution.Engine
	Admin      *distribution.Admin
	Governance *governance.Service
	Treasury   *treasury.Service
}

// New builds the services on db. Missing ledger keys degrade to
// ledger.Unconfigured; a missing redis disables the cooldown guard and
// cross-process notification push.
func New(s config.Settings, db *gorm.DB, rdb *redis.Client) (*App, error) {
	a := &App{Settings: s, Store: store.New(db), Redis: rdb}

	a.Alerts = alert.Fanout{alert.NewLog(logrus.WithField("module", "alert"))}
	if s.DiscordToken != "" && s.DiscordAlertChannel != "" {
		d, err := alert.NewDiscord(s.DiscordToken, s.DiscordAlertChannel)
		if err != nil {
			return nil, err
		}
		a.Alerts = append(a.Alerts, d)
	}

	if err := a.initLedger(); err != nil {
		return nil, err
	}

	opts := []distribution.Option{
		distribution.WithAuditLog(a.Store),
		distribution.WithAlerter(a.Alerts),
		distribution.WithPayer(ledger.NewPayer(a.Executor)),
	}
	if rdb != nil {
		opts = append(opts, distribution.WithCooldownGuard(distribution.NewRedisCooldown(rdb)))
	}
	a.Engine = distribution.NewEngine(a.Store, distribution.Config{
		LockTimeout:       s.LockTimeout,
		ProcessingTimeout: s.ProcessingTimeout,
		ManualCooldown:    s.ManualCooldown,
		RunTimeout:        s.RunTimeout,
		PayoutBatch:       s.PayoutBatch,
	}, opts...)
	a.Admin = distribution.NewAdmin(a.Store, nil)
	a.Governance = governance.NewService(a.Store)
	a.Treasury = treasury.NewService(a.Store, a.Executor)
	return a, nil
}

func (a *App) initLedger() error {
	a.Notary, a.Executor = ledger.Unconfigured{}, ledger.Unconfigured{}
	s := a.Settings
	if s.TreasuryKey == "" {
		logrus.Warn("> TREASURY_KEY not set, treasury transfers and payouts are disabled")
		return nil
	}
	ks := ledger.NewKeyStore(s.KeyStoreDir)
	treasuryKey, err := ks.ParseKey(s.TreasuryKey, s.KeyPassword)
	if err != nil {
		return fmt.Errorf("treasury key: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(s.PayoutMint)
	if err != nil {
		return fmt.Errorf("PAYOUT_MINT: %w", err)
	}
	notaryKey := treasuryKey
	if s.NotaryKey != "" {
		if notaryKey, err = ks.ParseKey(s.NotaryKey, s.KeyPassword); err != nil {
			return fmt.Errorf("notary key: %w", err)
		}
	}
	client := rpc.New(s.SolanaRPC)
	a.Executor = ledger.NewSPLExecutor(client, treasuryKey, mint, s.PayoutDecimals)
	a.Notary = ledger.NewMemoNotarizer(client, notaryKey)
	logrus.Infof("> ledger signer %s on %s", treasuryKey.PublicKey(), s.SolanaRPC)
	return nil
}

// OutboxRouter delivers messages in-process. push may be nil.
func (a *App) OutboxRouter(push relay.Broadcaster) *relay.Router {
	return relay.NewRouter().
		Register(models.OutboxNotarize, relay.NewNotarizeHandler(a.Notary, a.Store)).
		Register(models.OutboxNotify, relay.NewNotifyHandler(a.Store, push)).
		Register(models.OutboxPayout, relay.NewPayoutHandler(a.Engine))
}

// Broadcaster is the cross-process notification push, or nil without redis.
func (a *App) Broadcaster() relay.Broadcaster {
	if a.Redis == nil {
		return nil
	}
	return relay.NewRedisBroadcaster(a.Redis)
}

// PayoutTimeout bounds one payout delivery: a full batch of transfers, each
// waited on until confirmed or unknown.
func (a *App) PayoutTimeout() time.Duration {
	return time.Duration(a.Settings.PayoutBatch)*ledger.MaxTransferWait + 30*time.Second
}

// Relay drains the outbox: in "direct" mode by delivering each message here,
// in "queue" mode by publishing notarizations and notifications for the
// worker. Payouts are always settled here so their outcome drives the retry.
func (a *App) Relay(pub relay.Publisher) *relay.Relay {
	return relay.New(a.Store, a.relayHandler(pub), relay.WithKindTimeout(models.OutboxPayout, a.PayoutTimeout()))
}

func (a *App) relayHandler(pub relay.Publisher) relay.Handler {
	if a.Settings.OutboxMode != "queue" {
		return a.OutboxRouter(a.Broadcaster())
	}
	q := relay.NewQueueHandler(pub, a.Settings.OutboxQueue)
	return relay.NewRouter().
		Register(models.OutboxNotarize, q).
		Register(models.OutboxNotify, q).
		Register(models.OutboxPayout, relay.NewPayoutHandler(a.Engine))
}

// Handler builds the HTTP handlers around hub.
func (a *App) Handler(hub *handlers.Hub) *handlers.Handler {
	return &handlers.Handler{
		Distributions: a.Engine,
		Admin:         a.Admin,
		Governance:    a.Governance,
		Treasury:      a.Treasury,
		Queries:       a.Store,
		Hub:           hub,
		Log:           logrus.WithField("module", "api"),
	}
}

// Close releases the redis client.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
