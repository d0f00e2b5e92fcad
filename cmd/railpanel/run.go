package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/coreman2200/funtimes-railpanel/internal/bus"
	"github.com/coreman2200/funtimes-railpanel/internal/config"
	diag "github.com/coreman2200/funtimes-railpanel/internal/diagnostics"
	"github.com/coreman2200/funtimes-railpanel/internal/element"
	"github.com/coreman2200/funtimes-railpanel/internal/keypad"
	"github.com/coreman2200/funtimes-railpanel/internal/led"
	"github.com/coreman2200/funtimes-railpanel/internal/panel"
	"github.com/coreman2200/funtimes-railpanel/internal/speed"
	"github.com/coreman2200/funtimes-railpanel/internal/storage"
	"github.com/coreman2200/funtimes-railpanel/internal/ws"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control panel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addr != "" {
			cfg.Addr = addr
		}
		return runPanel(cmd.Context(), cfg)
	},
}

func init() {
	runCmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address; overrides config")
}

func runPanel(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	table := element.MustDefault()
	dev := openDevices(cfg)
	defer dev.Close()

	region, err := dev.openRegion(cfg)
	if err != nil {
		return err
	}
	store := storage.NewAdapter(region, table.Len())
	switch err := store.Restore(table); {
	case err == nil:
		log.Info().Msg("restored stored panel state")
	case errors.Is(err, storage.ErrNoSnapshot):
		log.Info().Msg("no stored panel state; starting from defaults")
	default:
		log.Warn().Err(err).Msg("stored panel state not applied; starting from defaults")
	}

	remote := keypad.NewQueue(64)
	scale := speed.Scale{Min: cfg.Throttle.Min, Max: cfg.Throttle.Max}
	state := ws.NewState(remote, dev.simSpeed, scale, log.Logger)
	state.Driver = dev.driver
	sink := diag.Counted(state)

	mirror, err := led.New(table, led.Options{
		Chips:    dev.expanders,
		Power:    dev.power,
		LocoChip: cfg.Expanders.LocoChip,
		Log:      log.Logger,
		Diag:     sink,
	})
	if err != nil {
		return err
	}

	emitter := bus.NewEmitter(dev.transport, log.Logger)
	proc, err := panel.NewProcessor(panel.Options{
		Table:   table,
		LEDs:    mirror,
		Bus:     emitter,
		Store:   store,
		Display: dev.display,
		Log:     log.Logger,
		Diag:    sink,
	})
	if err != nil {
		return err
	}

	router, err := keypad.NewRouter(keypad.DefaultKeyMap(table), table)
	if err != nil {
		return err
	}
	keys := []panel.KeySource{{Scanner: remote, Origin: "remote"}}
	if dev.matrix != nil {
		keys = append([]panel.KeySource{{Scanner: dev.matrix, Origin: "keypad"}}, keys...)
	}

	loop := panel.NewLoop(proc, panel.LoopOptions{
		Router:   router,
		Keys:     keys,
		Bus:      emitter,
		Speed:    dev.throttle,
		Scale:    scale,
		Display:  dev.display,
		Diag:     sink,
		Publish:  state.Publish,
		Interval: time.Duration(cfg.IntervalMs) * time.Millisecond,
		Log:      log.Logger,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      state.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("driver", dev.driver).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	err = loop.Run(ctx)
	log.Info().Msg("shutting down")
	_ = srv.Close()
	return err
}
