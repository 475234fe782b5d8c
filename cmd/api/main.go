package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"practicedesk.io/internal/audit"
	"practicedesk.io/internal/auth"
	"practicedesk.io/internal/config"
	"practicedesk.io/internal/finalise"
	"practicedesk.io/internal/httpapi"
	"practicedesk.io/internal/notify"
	"practicedesk.io/internal/obs"
	"practicedesk.io/internal/store/pg"
	"practicedesk.io/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config (defaults to $PRACTICE_CONFIG)")
		issue      = flag.Bool("issue-token", false, "Print a bearer token for the principal given by -sub/-group/-role/-firm/-business and exit")
		sub        = flag.String("sub", "", "Principal id for -issue-token")
		group      = flag.String("group", string(auth.GroupAccountingFirm), "Tenant group for -issue-token")
		role       = flag.String("role", string(auth.RolePartner), "Role for -issue-token")
		firm       = flag.String("firm", "", "Firm id for -issue-token")
		business   = flag.String("business", "", "Business id for -issue-token")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	tokens, err := auth.NewTokenService(cfg.Auth.Secret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	if *issue {
		if err := issueToken(tokens, cfg.Auth.TokenTTL, *sub, *group, *role, *firm, *business); err != nil {
			log.Fatalf("issue token: %v", err)
		}
		return
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		store  finalise.Store
		probe  httpapi.ReadyProbe
		ledger audit.PendingLedger
		rdb    *redis.Client
		db     *pg.Store
	)
	if cfg.Postgres.DSN != "" {
		db, err = pg.Open(cfg.Postgres.DSN, pg.PoolOptions{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = db
		probe = httpapi.ReadyProbe{Store: db}
	} else {
		store = finalise.NewMemoryStore()
		log.Printf("PRACTICE_PG_DSN not set; using in-memory store")
		if cfg.Redis.Addr != "" {
			rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			redisLedger := audit.NewRedisLedger(rdb, cfg.Redis.Prefix)
			ledger = redisLedger
			probe = httpapi.ReadyProbe{Ledger: redisLedger}
		} else {
			ledger = audit.NewMemoryLedger()
		}
	}

	opts := []finalise.Option{}
	if ledger != nil {
		opts = append(opts, finalise.WithLedger(ledger))
	}

	var kafka *notify.KafkaNotifier
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err = notify.NewKafkaNotifier(notify.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Timeout: cfg.Kafka.Timeout,
		})
		if err != nil {
			log.Fatalf("kafka notifier: %v", err)
		}
		opts = append(opts, finalise.WithNotifier(kafka))
	}
	var shares *stream.Stream
	if kafka == nil {
		shares = stream.New()
		opts = append(opts, finalise.WithNotifier(shares))
	}

	machine, err := finalise.NewMachine(store, opts...)
	if err != nil {
		log.Fatalf("machine: %v", err)
	}

	trusted, err := cfg.HTTP.TrustedPrefixes()
	if err != nil {
		log.Fatalf("trusted proxies: %v", err)
	}
	api := httpapi.New(machine, tokens, probe, version,
		httpapi.WithRateLimit(cfg.HTTP.RateLimit.RPS, cfg.HTTP.RateLimit.Burst),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithTrustedProxies(trusted),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if ledger != nil {
		go repairLoop(ctx, store, ledger, cfg.Repair.Interval)
	}
	if shares != nil {
		go logShares(shares.Subscribe(ctx))
	}

	log.Printf("Starting practicedesk-api %s on %s", version, srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	machine.Wait()
	if kafka != nil {
		_ = kafka.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Println("Stopped")
}

// repairLoop resolves pending audit records left by interrupted writes.
func repairLoop(ctx context.Context, store finalise.Store, ledger audit.PendingLedger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := finalise.Repair(ctx, store, ledger, finalise.WithMinAge(every))
			if err != nil {
				obs.Error("audit repair failed", map[string]any{"err": err.Error()})
				continue
			}
			if n := len(report.Unresolved); n > 0 {
				obs.Warn("audit repair left unresolved records", map[string]any{"count": n})
			}
		}
	}
}

// logShares records in-process share events when Kafka is disabled.
func logShares(events <-chan notify.Event) {
	for evt := range events {
		obs.Info("document shared", map[string]any{
			"entity_type": evt.EntityType,
			"entity_id":   evt.EntityID,
			"client_id":   evt.ClientID,
			"request_id":  evt.RequestID,
		})
	}
}

func issueToken(tokens *auth.TokenService, ttl time.Duration, sub, group, role, firm, business string) error {
	g, err := auth.ParseTenantGroup(group)
	if err != nil {
		return err
	}
	r, err := auth.ParseRole(role)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(auth.Principal{ID: sub, TenantGroup: g, Role: r, FirmID: firm, BusinessID: business}, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
