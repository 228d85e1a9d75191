package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bosley/scorequeue/config"
	"github.com/bosley/scorequeue/monitor"
	"github.com/bosley/scorequeue/queue"
	"github.com/bosley/scorequeue/scoring"
)

var scoreCmd = &cobra.Command{
	Use:   "score <file.wav>",
	Short: "Score one recording with the configured strategy and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		lang, _ := cmd.Flags().GetString("lang")
		lang = language(lang, cfg)

		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		scfg := cfg.ScoringConfig()
		scorer, err := scoring.New(scfg)
		if err != nil {
			return err
		}
		if l, ok := scorer.(scoring.Loader); ok {
			if err := l.Load(cmd.Context()); err != nil && scfg.Fallback() == nil {
				return fmt.Errorf("failed to load scorer: %w", err)
			}
			defer l.Close()
		}

		scored := monitor.NewDispatcher(scorer, scfg.Fallback()).Dispatch(cmd.Context(), path, lang)
		res := scored.Result(lang, time.Now())

		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		if res.Status == queue.StatusError {
			return fmt.Errorf("scoring failed: %s", res.Error)
		}
		return nil
	},
}

func init() {
	scoreCmd.Flags().String("lang", "", "language of the recording (default: default_language)")

	rootCmd.AddCommand(scoreCmd)
}
