package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/invisiwind/invisiwind/internal/api"
	"github.com/invisiwind/invisiwind/internal/config"
	"github.com/invisiwind/invisiwind/internal/logger"
	"github.com/invisiwind/invisiwind/internal/rules"
	"github.com/invisiwind/invisiwind/internal/window"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the invisiwind API server",
	Long: `Start the local HTTP API. The server lists windows and processes,
hides and shows windows, manages rules and streams window changes over a
WebSocket. It only listens on the loopback interface.`,
	Example: `  # Start server on default port (7878)
  invisiwind serve

  # Start server on custom port
  invisiwind serve --port 9090

  # Keep applying rules to new windows
  invisiwind serve --watch-rules`,
	RunE: runServe,
}

var serveWatchRules bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveWatchRules, "watch-rules", false, "apply rules whenever the window list changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	svc := newService(cfg)
	defer svc.Close()

	finder := newFinder()
	watcher := window.NewWatcher(svc.Enumerator(), time.Duration(cfg.RefreshIntervalMs)*time.Millisecond)
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to start window watcher: %w", err)
	}
	defer watcher.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveWatchRules {
		go watchRules(ctx, watcher, configMgr.Rules, func(records []window.Record) {
			set, err := rules.Compile(configMgr.Rules())
			if err != nil {
				log.Warn().Err(err).Msg("Invalid rules")
				return
			}
			names, err := finder.Names()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to list processes")
				return
			}
			actions := set.Plan(records, names, configMgr.Get().HideFromTaskbar)
			if len(actions) > 0 {
				rules.Apply(ctx, svc, actions)
			}
		})
	}

	server := api.NewServer(svc, watcher, finder, configMgr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Host, cfg.Server.Port)
	}()

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("url", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("invisiwind is running, press Ctrl+C to stop")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// watchRules calls apply with every new window snapshot while rules exist.
func watchRules(ctx context.Context, watcher *window.Watcher, current func() []config.Rule, apply func([]window.Record)) {
	updates := watcher.Subscribe()
	defer watcher.Unsubscribe(updates)

	if len(current()) > 0 {
		apply(watcher.Snapshot())
	}
	for {
		select {
		case <-ctx.Done():
			return
		case records, ok := <-updates:
			if !ok {
				return
			}
			if len(current()) > 0 {
				apply(records)
			}
		}
	}
}
