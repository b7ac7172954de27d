package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"Provability/internal/api"
	"Provability/internal/attestation"
	"Provability/internal/escrow"
	"Provability/internal/genesis"
	"Provability/internal/index"
	"Provability/internal/logger"
	"Provability/internal/metrics"
	"Provability/internal/protocol"
	"Provability/internal/storage"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the escrow API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), a.cfg)
		},
	}

	f := cmd.Flags()
	f.String("http", "", "HTTP API listen address")
	f.Bool("metrics", true, "expose GET /metrics")
	f.String("postgres-url", "", "PostgreSQL URL for the metadata index")
	f.Float64("rate-limit", 0, "requests per second per client, 0 disables")
	f.Int("rate-burst", 0, "per-client burst size")
	f.String("verifier", "", "attestation verifier: bls or mock")

	return cmd
}

// serve opens the ledger and runs the API, plus the index mirror when configured,
// until ctx is cancelled.
func serve(ctx context.Context, cfg Config) error {
	verifier, err := newVerifier(cfg.Verifier, cfg.HTTP)
	if err != nil {
		return err
	}

	db, err := storage.New(cfg.Data)
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}
	defer db.Close()

	m := metrics.New()
	engineOpts := []escrow.Option{escrow.WithRecorder(m)}
	apiOpts := []api.Option{api.WithRateLimit(cfg.RateLimit, cfg.RateBurst)}

	if cfg.Metrics {
		apiOpts = append(apiOpts, api.WithMetrics(m))
	}

	var mirror *index.Mirror

	if cfg.PostgresURL != "" {
		pg, err := index.OpenPostgres(ctx, index.PostgresConfig{
			URL:            cfg.PostgresURL,
			MaxConnections: 10,
			MaxIdle:        5,
			ConnMaxLife:    30 * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("open index:\n%w", err)
		}
		defer pg.Close()

		mirror = index.NewMirror(pg, index.DefaultBuffer)
		engineOpts = append(engineOpts, escrow.WithEventSink(mirror))
		apiOpts = append(apiOpts, api.WithIndex(pg))
	}

	eng := escrow.New(db, verifier, engineOpts...)

	applied, err := genesis.Apply(eng, cfg.Genesis)
	if err != nil {
		return fmt.Errorf("apply genesis:\n%w", err)
	}

	locked, open, err := lockedInVaults(eng)
	if err != nil {
		return fmt.Errorf("scan bounties:\n%w", err)
	}
	m.SetVaultLocked(float64(locked))

	logger.Info("starting escrow node",
		"data", cfg.Data,
		"http", cfg.HTTP,
		"verifier", cfg.Verifier,
		"index", mirror != nil,
		"genesis_applied", applied,
		"open_bounties", open,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return api.New(cfg.HTTP, eng, apiOpts...).Run(gctx)
	})

	if mirror != nil {
		g.Go(func() error {
			return mirror.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if mirror != nil && mirror.Dropped() > 0 {
		logger.Warn("index missed events", "dropped", mirror.Dropped(), "failed", mirror.Failed())
	}

	return nil
}

// newVerifier builds the configured attestation verifier. The mock trusts any bytes, so
// it is refused unless the API listens on loopback only.
func newVerifier(name, httpAddr string) (attestation.Verifier, error) {
	switch name {
	case "", "bls":
		return attestation.NewBLSVerifier(), nil
	case "mock":
		if !isLoopback(httpAddr) {
			return nil, fmt.Errorf("mock verifier requires a loopback http address, got %q", httpAddr)
		}
		logger.Warn("mock verifier accepts any attestation; do not use outside development")
		return attestation.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown verifier %q", name)
	}
}

// isLoopback reports whether addr binds to a loopback host. An empty host binds every
// interface.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}

	if host == "localhost" {
		return true
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}

// lockedInVaults sums the escrow held by open bounties.
func lockedInVaults(eng *escrow.Engine) (total uint64, open int, err error) {
	err = eng.Bounties(func(b *protocol.Bounty) error {
		if b.State == protocol.BountyOpen {
			total += b.Amount
			open++
		}
		return nil
	})

	return total, open, err
}
