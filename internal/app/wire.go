package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openverse-labs/nftmarket/internal/admin"
	"github.com/openverse-labs/nftmarket/internal/asset"
	"github.com/openverse-labs/nftmarket/internal/cache/redis"
	"github.com/openverse-labs/nftmarket/internal/config"
	"github.com/openverse-labs/nftmarket/internal/crypto"
	"github.com/openverse-labs/nftmarket/internal/domain"
	"github.com/openverse-labs/nftmarket/internal/ledger"
	"github.com/openverse-labs/nftmarket/internal/market"
	"github.com/openverse-labs/nftmarket/internal/notify"
	"github.com/openverse-labs/nftmarket/internal/order"
	"github.com/openverse-labs/nftmarket/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Engine
	Authority *admin.Authority
	Assets    *asset.Registry
	Funds     *ledger.Ledger
	Market    *market.Manager
	Engine    *order.Manager

	// Events is the relay channel between the engine and the fan-out
	// workers. Every committed transition lands here.
	Events chan domain.Event

	// Journal stores
	Items        domain.MarketItemStore
	WalletOrders domain.WalletOrderStore
	MarketOrders domain.MarketItemOrderStore
	Settlements  domain.SettlementStore
	Audit        domain.AuditStore

	// Caches
	SignalBus    domain.SignalBus
	RateLimiter  domain.RateLimiter
	ListingCache domain.ListingCache

	// Notifications
	Notifier *notify.Notifier

	// APIKey is the resolved operator API key; empty disables auth.
	APIKey string
}

// parseAddr validates and decodes a hex address from config.
func parseAddr(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("wire: %s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Authority, assets, ledger ---
	admins := make([]common.Address, 0, len(cfg.Admin.Admins))
	for _, s := range cfg.Admin.Admins {
		addr, err := parseAddr("admin.admins", s)
		if err != nil {
			return nil, nil, err
		}
		admins = append(admins, addr)
	}
	if len(admins) == 0 {
		return nil, nil, fmt.Errorf("wire: at least one admin address is required")
	}
	authority := admin.New(admins)
	seed := admins[0]
	for _, s := range cfg.Admin.PaymentTokens {
		token, err := parseAddr("admin.payment_tokens", s)
		if err != nil {
			return nil, nil, err
		}
		if err := authority.SetPermittedPaymentToken(seed, token, true); err != nil {
			return nil, nil, fmt.Errorf("wire: seed payment token: %w", err)
		}
	}
	for _, s := range cfg.Admin.NFTContracts {
		contract, err := parseAddr("admin.nft_contracts", s)
		if err != nil {
			return nil, nil, err
		}
		if err := authority.SetPermittedNFT(seed, contract, true); err != nil {
			return nil, nil, fmt.Errorf("wire: seed nft contract: %w", err)
		}
	}
	if cfg.Admin.MembershipRequired {
		if err := authority.SetMembershipRequired(seed, true); err != nil {
			return nil, nil, fmt.Errorf("wire: seed membership flag: %w", err)
		}
	}
	deps.Authority = authority
	deps.Assets = asset.NewRegistry()
	deps.Funds = ledger.New()

	// --- Engine ---
	treasury, err := parseAddr("engine.treasury", cfg.Engine.Treasury)
	if err != nil {
		return nil, nil, err
	}
	buffer := cfg.Engine.JournalBuffer
	if buffer <= 0 {
		buffer = 256
	}
	deps.Events = make(chan domain.Event, buffer)
	// emit must never block the engine mutex; a full relay drops the event
	// from the fan-out path while the engine state stays consistent.
	emit := func(ev domain.Event) {
		select {
		case deps.Events <- ev:
		default:
			logger.Warn("event relay full, dropping event",
				slog.String("type", string(ev.Type)),
			)
		}
	}

	mkt, capToken := market.NewManager(deps.Assets, authority, logger,
		market.WithEmitter(emit),
	)
	deps.Market = mkt
	deps.Engine = order.NewManager(mkt, capToken, deps.Assets, authority, deps.Funds,
		order.Config{Treasury: treasury, FeeBps: int64(cfg.Engine.FeeBps)},
		logger,
		order.WithEmitter(emit),
	)

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Items = postgres.NewMarketItemStore(pool)
	deps.WalletOrders = postgres.NewWalletOrderStore(pool)
	deps.MarketOrders = postgres.NewMarketItemOrderStore(pool)
	deps.Settlements = postgres.NewSettlementStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.ListingCache = redis.NewListingCache(redisClient)

	// --- Operator API key ---
	if cfg.Operator.ApiKey != "" || cfg.Operator.EncryptedKeyPath != "" {
		key, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:     cfg.Operator.ApiKey,
			EncryptedPath: cfg.Operator.EncryptedKeyPath,
			Password:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: operator key: %w", err)
		}
		deps.APIKey = key
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
