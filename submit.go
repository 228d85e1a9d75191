package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bosley/scorequeue/client"
	"github.com/bosley/scorequeue/config"
	"github.com/bosley/scorequeue/queue"
)

var submitCmd = &cobra.Command{
	Use:   "submit <file.wav>",
	Short: "Submit a recording to a running worker and wait for its score",
	Long: `Submit copies the recording into the audio directory, enqueues a request for
it and polls for the result once per second until submit.timeout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		lang, _ := cmd.Flags().GetString("lang")
		name, _ := cmd.Flags().GetString("name")
		target, _ := cmd.Flags().GetString("target-text")

		store, err := queue.Open(cfg.QueueOptions())
		if err != nil {
			return fmt.Errorf("failed to open queue: %w", err)
		}
		defer store.Close()

		c := client.New(store, client.Options{
			AudioDir: cfg.AudioDirectory(),
			Timeout:  cfg.Submit.Timeout,
		})
		got, err := c.Submit(cmd.Context(), client.Submission{
			Path:       args[0],
			Name:       name,
			Lang:       language(lang, cfg),
			TargetText: target,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "score: %.2f\n", got.Score)
		if got.ModelType != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "model: %s\n", got.ModelType)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "processing time: %s\n", got.ProcessingTime)
		return nil
	},
}

func init() {
	submitCmd.Flags().String("lang", "", "language of the recording: en, de, es, fr, jp, ru, zh (default: default_language)")
	submitCmd.Flags().String("name", "", "job name (default: the file name without extension)")
	submitCmd.Flags().String("target-text", "", "text the speaker was asked to read")
	submitCmd.Flags().Duration("timeout", client.DefaultTimeout, "how long to wait for the score")

	bind("submit.timeout", submitCmd.Flags().Lookup("timeout"))

	rootCmd.AddCommand(submitCmd)
}
