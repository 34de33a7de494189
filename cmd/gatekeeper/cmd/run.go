package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/gatekeeper/admission"
	"github.com/rustyeddy/gatekeeper/config"
	"github.com/rustyeddy/gatekeeper/control"
	"github.com/rustyeddy/gatekeeper/gateway"
	"github.com/rustyeddy/gatekeeper/journal"
	"github.com/rustyeddy/gatekeeper/ledger"
	"github.com/rustyeddy/gatekeeper/risk"
	"github.com/rustyeddy/gatekeeper/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the admission service from a config file",
	Long: `Start the gatekeeper: restore state from the journal, then serve
trade proposals from the bus and operator commands over HTTP until
interrupted.

Example:
  gatekeeper run -f gatekeeper.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	j, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	// The journal's parameter set wins over the config file when it is
	// newer: a hot reload survives a restart.
	params := cfg.Risk
	if saved, ok, err := j.LoadParams(); err != nil {
		return fmt.Errorf("load params: %w", err)
	} else if ok && saved.Version > params.Version {
		log.Info().Int("version", saved.Version).Msg("using journaled risk parameters")
		params = saved
	}
	store, err := risk.NewParamStore(params)
	if err != nil {
		return fmt.Errorf("risk params: %w", err)
	}

	ttl, _ := config.Duration(cfg.Ledger.ReservationTTL, 2*time.Minute)
	led := ledger.New(ledger.Config{
		InitialCash:         cfg.Ledger.InitialCash,
		MaxPortfolioRiskPct: params.MaxPortfolioRiskPct,
		ReservationTTL:      ttl,
	})

	positions, cash, err := j.LoadPositions()
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	if len(positions) > 0 || cash > 0 {
		led.Restore(positions, cash)
		log.Info().Int("positions", len(positions)).Float64("cash", cash).
			Msg("restored portfolio from journal")
	}
	led.OnEvent(func(ev ledger.Event) {
		if err := j.AppendLedgerEvent(ev); err != nil {
			log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("journal ledger event")
		}
	})

	engine := admission.New(led, store, nil)

	tick, _ := config.Duration(cfg.Supervisor.TickInterval, 5*time.Second)
	super := supervisor.New(led, store, j, tick)
	go super.Run(ctx)

	sweep, _ := config.Duration(cfg.Ledger.SweepInterval, 15*time.Second)
	sweeper := admission.NewSweeper(led, sweep)
	go sweeper.Run(ctx)

	ctrl := &http.Server{
		Addr:    cfg.Control.ListenAddr,
		Handler: control.New(led, store, super),
	}
	go func() {
		log.Info().Str("addr", cfg.Control.ListenAddr).Msg("control surface listening")
		if err := ctrl.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("control server")
		}
	}()

	gwCfg := gateway.DefaultConfig()
	gwCfg.DedupWindow, _ = config.Duration(cfg.Gateway.DedupWindow, gwCfg.DedupWindow)
	gwCfg.AdmitTimeout, _ = config.Duration(cfg.Gateway.AdmitTimeout, gwCfg.AdmitTimeout)
	gwCfg.PublishBackoff, _ = config.Duration(cfg.Gateway.PublishBackoff, gwCfg.PublishBackoff)
	if cfg.Gateway.PublishRetries > 0 {
		gwCfg.PublishRetries = cfg.Gateway.PublishRetries
	}

	dedup := gateway.NewDedupAuto(cfg.Gateway.RedisAddr)
	bus := gateway.NewMemBus()
	gw := gateway.New(bus, engine, led, dedup, j, gwCfg)

	log.Info().Str("config", runConfigPath).Msg("gatekeeper running")
	if err := gw.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("gateway: %w", err)
	}

	// Shutdown: stop admitting, close the control surface, persist the
	// final portfolio state.
	engine.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control shutdown")
	}

	snap := led.Snapshot()
	if err := j.SavePositions(led.Positions(), snap.AvailableCash); err != nil {
		log.Error().Err(err).Msg("persist positions at shutdown")
	}

	log.Info().Msg("gatekeeper stopped")
	return nil
}
