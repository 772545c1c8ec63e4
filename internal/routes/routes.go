package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/escrowpay/internal/auth"
	"github.com/congo-pay/escrowpay/internal/config"
	"github.com/congo-pay/escrowpay/internal/escrow"
	"github.com/congo-pay/escrowpay/internal/funding"
	"github.com/congo-pay/escrowpay/internal/idempotency"
	"github.com/congo-pay/escrowpay/internal/identity"
	"github.com/congo-pay/escrowpay/internal/ledger"
	"github.com/congo-pay/escrowpay/internal/logging"
	"github.com/congo-pay/escrowpay/internal/middleware"
	"github.com/congo-pay/escrowpay/internal/notification"
	"github.com/congo-pay/escrowpay/internal/payout"
	"github.com/congo-pay/escrowpay/internal/venue"
	"github.com/congo-pay/escrowpay/internal/wallet"
)

const (
	loginAttemptsPerWindow = 5
	rateLimitWindow        = time.Minute
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes and returns the
// background components the caller must start and shut down.
func Setup(app *fiber.App, d Deps) (*Background, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}
	ctx := context.Background()

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(logging.Component(d.Logger, "http")))

	RegisterHealthRoutes(app, d)

	// Storage backends: Postgres when configured, in-memory for local runs.
	var (
		ledgerBackend *ledger.Ledger
		walletRepo    wallet.Repository
		identityRepo  identity.Repository
		venueRepo     venue.Repository
		escrowStore   escrow.Store
		idemStore     idempotency.Store
	)
	idemOpts := idempotency.Options{TTL: d.Cfg.IdempotencyTTL}
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
		venueRepo = venue.NewPostgresRepository(d.DB)
		escrowStore = escrow.NewPostgresStore(d.DB)
		idemStore = idempotency.NewPostgresStore(d.DB, idemOpts)
	} else {
		d.Logger.Warn("DATABASE_URL not set; using in-memory storage")
		ledgerBackend = ledger.NewInMemory()
		walletRepo = wallet.NewMemoryRepository()
		identityRepo = identity.NewMemoryRepository()
		venueRepo = venue.NewMemoryRepository()
		escrowStore = escrow.NewMemoryStore()
		idemStore = idempotency.NewMemoryStore(idemOpts)
	}
	ledgerBackend = ledgerBackend.WithTimeout(d.Cfg.LedgerTimeout)
	if err := ledgerBackend.EnsureSystemAccount(ctx, d.Cfg.CommissionAccount); err != nil {
		return nil, fmt.Errorf("ensure commission account: %w", err)
	}

	bg := &Background{}
	var notifier notification.Notifier = notification.NewLoggerNotifier(logging.Component(d.Logger, "notification"))
	if d.Cfg.AMQPURL != "" {
		amqpNotifier, err := notification.NewAMQPNotifier(d.Cfg.AMQPURL, logging.Component(d.Logger, "notification"))
		if err != nil {
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		notifier = amqpNotifier
		bg.closers = append(bg.closers, amqpNotifier.Close)
	}
	bg.Dispatcher = notification.NewDispatcher(notifier, d.Logger)
	bg.Settler = payout.NewSettler(payout.StaticProcessor{}, d.Logger)

	walletSvc := wallet.NewService(walletRepo, ledgerBackend).WithCurrency(d.Cfg.Currency)
	identitySvc := identity.NewService(identityRepo)
	venueSvc := venue.NewService(venueRepo, walletSvc)
	authSvc := auth.NewService(d.Cfg, identityRepo)
	fundingSvc, err := funding.NewService(ctx, ledgerBackend, walletSvc, nil)
	if err != nil {
		return nil, err
	}
	escrowSvc := escrow.NewService(escrow.Deps{
		Store:       escrowStore,
		Ledger:      ledgerBackend,
		Idempotency: idemStore,
		Identities:  identitySvc,
		Wallets:     walletSvc,
		Venues:      venueSvc,
		Dispatcher:  bg.Dispatcher,
		Payouts:     bg.Settler,
		Logger:      d.Logger,
	}, escrow.Options{
		TTL:               d.Cfg.EscrowTTL,
		CommissionAccount: d.Cfg.CommissionAccount,
		Currency:          d.Cfg.Currency,
	})
	bg.Reconciler = escrow.NewReconciler(escrowSvc, d.Cfg.ReconcileSchedule, d.Cfg.ReconcileBatch, d.Logger)

	provisionWallet := func(ctx context.Context, userID string) (string, error) {
		w, err := walletSvc.EnsureForOwner(ctx, userID)
		return w.ID, err
	}
	identityHandler := identity.NewHandler(identitySvc, provisionWallet, logging.Component(d.Logger, "identity"))
	authHandler := auth.NewHandler(identitySvc, authSvc, walletSvc)
	walletHandler := wallet.NewHandler(walletSvc)
	fundingHandler := funding.NewHandler(fundingSvc)
	venueHandler := venue.NewHandler(venueSvc)
	escrowHandler := escrow.NewHandler(escrowSvc)

	// A nil *redis.Client must stay a nil interface for the limiter.
	var limiterClient redis.UniversalClient
	if d.Cache != nil {
		limiterClient = d.Cache
	}
	limiter := middleware.NewRateLimiter(limiterClient, logging.Component(d.Logger, "ratelimit"))
	idem := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	authRequired := middleware.JWTAuth(authSvc)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterIdentityRoutes(api, identityHandler)
	RegisterAuthRoutes(api, authHandler,
		limiter.Limit("login", loginAttemptsPerWindow, rateLimitWindow, middleware.LoginSubject),
		authRequired)

	protected := api.Group("", authRequired)
	RegisterProfileRoutes(protected, identityHandler)
	RegisterWalletRoutes(protected, walletHandler, idem)
	RegisterFundingRoutes(protected, fundingHandler, idem)
	RegisterVenueRoutes(protected, venueHandler, idem)
	RegisterEscrowRoutes(protected, escrowHandler, idem,
		limiter.Limit("redeem", d.Cfg.RedeemRateLimit, rateLimitWindow, middleware.UserSubject))

	return bg, nil
}
