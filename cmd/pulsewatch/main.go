// Command pulsewatch runs the single packet-processing worker that turns
// live (or replayed) combat traffic into a running combat model, exposed
// read-only over HTTP/WebSocket. Grounded on rustyguts-bken/server/main.go's
// flag-driven startup, context-cancel-on-signal shutdown, and
// errgroup.Wait() lifecycle, adapted from a chat server to this capture
// engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/evilsocket/islazy/tui"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akzios/bpsr-tools-sub002/internal/api"
	"github.com/akzios/bpsr-tools-sub002/internal/capture"
	"github.com/akzios/bpsr-tools-sub002/internal/combat"
	"github.com/akzios/bpsr-tools-sub002/internal/config"
	"github.com/akzios/bpsr-tools-sub002/internal/fightlog"
	"github.com/akzios/bpsr-tools-sub002/internal/logging"
	"github.com/akzios/bpsr-tools-sub002/internal/reference"
	"github.com/akzios/bpsr-tools-sub002/internal/telemetry"
)

func main() {
	cfg, err := config.ParseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "pulsewatch: parse flags:", err)
		os.Exit(1)
	}

	logs, err := logging.New(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pulsewatch: build loggers:", err)
		os.Exit(1)
	}
	defer logs.Sync()

	printStartupSummary(cfg)

	dispatchCfg := combat.Config{
		AutoClearOnTimeout: cfg.AutoClearOnTimeout,
		IdleClear:          time.Duration(cfg.IdleClearMs) * time.Millisecond,
	}
	dispatch := combat.NewDispatcher(dispatchCfg, nil, logs.Dispatch)

	var fetcher *reference.Fetcher
	if cfg.ReferenceFetchURL != "" {
		fetcher = reference.NewFetcher(cfg.ReferenceFetchURL, cfg.ReferenceFetchTimeout, cfg.NegativeCacheTTL, 256, dispatch, logs.Reference)
	}

	var fight *fightlog.Writer
	if cfg.EnableFightLog {
		fight, err = fightlog.NewWriter("logs", strconv.FormatInt(time.Now().UnixMilli(), 10), logs.FightLog)
		if err != nil {
			logs.FightLog.Fatal("pulsewatch: open fight log", zap.Error(err))
		}
	}

	var capSrc capture.Source
	if cfg.Interface == "" {
		logs.Capture.Warn("pulsewatch: no -iface given, idling with an empty replay source")
		capSrc = capture.NewReplaySource(nil)
	} else {
		capSrc = capture.NewLiveSource(cfg.Interface, cfg.CapturePort, logs.Capture)
	}

	engine := telemetry.NewEngine(cfg, logs, capSrc, dispatch, fetcher, fight)
	server := api.NewServer(dispatch, logs.API)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gctx)
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.LocalPort)
		logs.API.Info("pulsewatch: listening", zap.String("addr", addr))

		if err := server.Start(addr); err != nil && gctx.Err() == nil {
			return fmt.Errorf("api server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	if fight != nil {
		if err := fight.Snapshot(dispatch.Snapshot()); err != nil {
			logs.FightLog.Warn("pulsewatch: final snapshot write failed", zap.Error(err))
		}

		if err := fight.Close(); err != nil {
			logs.FightLog.Warn("pulsewatch: fight log close failed", zap.Error(err))
		}
	}

	printShutdownSummary(dispatch)

	if runErr != nil && runErr != context.Canceled {
		logs.Capture.Error("pulsewatch: exited with error", zap.Error(runErr))
		os.Exit(1)
	}
}

func printStartupSummary(cfg config.Options) {
	tui.Table(os.Stdout, []string{"Setting", "Value"}, [][]string{
		{"interface", cfg.Interface},
		{"capturePort", fmt.Sprintf("%d", cfg.CapturePort)},
		{"localPort", fmt.Sprintf("%d", cfg.LocalPort)},
		{"flowIdleMs", fmt.Sprintf("%d", cfg.FlowIdleMs)},
		{"idleClearMs", fmt.Sprintf("%d", cfg.IdleClearMs)},
		{"autoClearOnTimeout", fmt.Sprintf("%t", cfg.AutoClearOnTimeout)},
		{"enableFightLog", fmt.Sprintf("%t", cfg.EnableFightLog)},
		{"referenceFetchURL", cfg.ReferenceFetchURL},
	})
}

func printShutdownSummary(dispatch *combat.Dispatcher) {
	snap := dispatch.Snapshot()

	rows := make([][]string, 0, len(snap))
	for uid, a := range snap {
		rows = append(rows, []string{
			fmt.Sprintf("%d", uid),
			a.Name,
			fmt.Sprintf("%d", a.Damage.Total),
			fmt.Sprintf("%d", a.Healing.Total),
		})
	}

	tui.Table(os.Stdout, []string{"UID", "Name", "Damage", "Healing"}, rows)
}
