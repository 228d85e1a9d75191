package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bosley/scorequeue/config"
	"github.com/bosley/scorequeue/logx"
	"github.com/bosley/scorequeue/metrics"
	"github.com/bosley/scorequeue/monitor"
	"github.com/bosley/scorequeue/queue"
	"github.com/bosley/scorequeue/scoring"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scoring worker",
	Long: `Run polls the request store, scores each request's audio with the configured
strategy and writes the result. It stops on SIGINT or SIGTERM once the
current job has finished.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		return runWorker(cmd.Context(), cfg)
	},
}

func init() {
	runCmd.Flags().String("claim", "scan", "claim mode: scan or rename")
	runCmd.Flags().String("status-addr", "", "status server address, e.g. :8090 (disabled when empty)")
	runCmd.Flags().Bool("watch", false, "wake on new requests instead of waiting for the next poll")
	runCmd.Flags().Duration("poll-interval", time.Second, "time between scans")

	bind("queue.claim", runCmd.Flags().Lookup("claim"))
	bind("status_addr", runCmd.Flags().Lookup("status-addr"))
	bind("watch", runCmd.Flags().Lookup("watch"))
	bind("poll_interval", runCmd.Flags().Lookup("poll-interval"))

	rootCmd.AddCommand(runCmd)
}

func runWorker(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logx.Log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	store, err := queue.Open(cfg.QueueOptions())
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer store.Close()

	scfg := cfg.ScoringConfig()
	scorer, err := scoring.New(scfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)
	metrics.SetBuildInfo(version, commit, date)

	mon, err := monitor.New(monitor.Config{
		Queue:           store,
		Scorer:          scorer,
		Fallback:        scfg.Fallback(),
		AudioDir:        cfg.AudioDirectory(),
		DefaultLanguage: cfg.DefaultLanguage,
		PollInterval:    cfg.PollInterval,
		Watch:           cfg.Watch,
		ReclaimAfter:    reclaimAfter(cfg),
		StatusAddr:      cfg.StatusAddr,
		Gatherer:        reg,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize monitor: %w", err)
	}

	if err := mon.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	// The job in flight may be an external scorer run up to its timeout.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Scorer.Timeout+cfg.Scorer.Exec.WaitDelay+5*time.Second)
	defer stopCancel()
	if err := mon.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop monitor: %w", err)
	}
	logx.Log.Debug().Msg("Program exiting")
	return nil
}

// reclaimAfter only returns abandoned claims when claims exist.
func reclaimAfter(cfg config.Config) time.Duration {
	if queue.ClaimMode(cfg.Queue.Claim) != queue.ClaimRename {
		return 0
	}
	return cfg.Queue.ReclaimAfter
}
