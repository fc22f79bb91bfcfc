package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/oidcbridge/oidcbridge/pkg/config"
	dirpostgres "github.com/oidcbridge/oidcbridge/pkg/directory/postgres"
	"github.com/oidcbridge/oidcbridge/pkg/eligibility"
	"github.com/oidcbridge/oidcbridge/pkg/groupsync"
	"github.com/oidcbridge/oidcbridge/pkg/httputil"
	"github.com/oidcbridge/oidcbridge/pkg/identity"
	"github.com/oidcbridge/oidcbridge/pkg/login"
	"github.com/oidcbridge/oidcbridge/pkg/observability"
	"github.com/oidcbridge/oidcbridge/pkg/provision"
	"github.com/oidcbridge/oidcbridge/pkg/settings"
	"github.com/oidcbridge/oidcbridge/pkg/store"
	tsoidc "github.com/oidcbridge/oidcbridge/pkg/tokensource/oidc"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := login.NewSessionManager(db, cfg.Session.TTL)
	configStore := settings.NewDBStore(db, log)
	if err := migrate(ctx, db, sessions, configStore); err != nil {
		log.Fatalf("Failed to apply database schema: %v", err)
	}

	metrics := observability.NewMetrics(nil)

	loader := settings.NewLoader(configStore, log)
	accounts := dirpostgres.NewAccounts(db)
	groups := dirpostgres.NewGroups(db)
	groupMappings := store.NewGroupMappings(db, log)
	identityMappings := store.NewIdentityMappings(db, log)

	provisioner := provision.NewService(accounts, groups, provision.NewHTTPFetcher(nil), log).
		WithProvisionedCounter(metrics.AccountsProvisioned)
	lookup := identity.NewLookupService(accounts, identityMappings, provisioner, log)
	engine := groupsync.NewEngine(groups, groupMappings, log)
	checker := eligibility.NewChecker(log)

	flow := login.NewFlow(loader, checker, lookup, engine, identityMappings, metrics, log)
	source := tsoidc.NewReloading(loader, log)

	handlers := login.NewHandlers(source, flow, sessions, metrics, log)
	handlers.SecureCookies = cfg.Server.SecureCookies
	handlers.SessionTTL = cfg.Session.TTL

	router := mux.NewRouter()
	router.Use(httputil.RecoveryMiddleware(log))
	router.Use(httputil.LoggingMiddleware(log))
	handlers.Register(router)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")
	if cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", metrics.Handler()).Methods("GET")
	}

	scheduler := startCleanupJob(cfg.Cleanup, db, sessions, accounts, identityMappings, metrics, log)
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("starting identity bridge")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB, sessions *login.SessionManager, configStore *settings.DBStore) error {
	if err := dirpostgres.Migrate(ctx, db); err != nil {
		return err
	}
	if err := store.Migrate(ctx, db); err != nil {
		return err
	}
	if err := sessions.Migrate(ctx); err != nil {
		return err
	}
	return configStore.Migrate(ctx)
}

// startCleanupJob schedules the retention pass: expired sessions are
// deleted, and accounts whose identity mappings have all gone unseen
// past the retention window are disabled and their mappings removed.
func startCleanupJob(cfg config.CleanupConfig, db *sql.DB, sessions *login.SessionManager,
	accounts *dirpostgres.Accounts, identities *store.IdentityMappings,
	metrics *observability.Metrics, log *logrus.Logger) *cron.Cron {
	scheduler := cron.New()

	_, err := scheduler.AddFunc(cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if deleted, err := sessions.CleanupExpired(ctx); err != nil {
			log.WithError(err).Error("session cleanup failed")
		} else if deleted > 0 {
			log.WithField("deleted", deleted).Info("removed expired sessions")
		}

		threshold := time.Now().Add(-cfg.IdentityRetention)
		expired, err := identities.FindExpired(ctx, threshold)
		if err != nil {
			log.WithError(err).Error("expired identity lookup failed")
			return
		}
		for _, accountID := range expired {
			if err := accounts.SetEnabled(ctx, accountID, false); err != nil {
				log.WithError(err).WithField("account", accountID).Error("failed to disable expired account")
				continue
			}
			removed, err := identities.Remove(ctx, accountID)
			if err != nil {
				log.WithError(err).WithField("account", accountID).Error("failed to prune identity mappings")
				continue
			}
			metrics.ExpiredIdentitiesPruned.Add(float64(removed))
			log.WithFields(logrus.Fields{
				"account": accountID,
				"removed": removed,
			}).Info("pruned expired identity")
		}
	})
	if err != nil {
		log.Fatalf("Invalid cleanup schedule %q: %v", cfg.Schedule, err)
	}

	scheduler.Start()
	return scheduler
}
