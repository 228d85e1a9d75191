// Command scorequeue runs the audio scoring worker and its producer tools.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bosley/scorequeue/config"
	"github.com/bosley/scorequeue/logx"
)

// Set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "scorequeue",
	Short: "File queue worker that scores pronunciation recordings",
	Long: `scorequeue watches a request store for *.request jobs, scores the WAV file
each one names and writes <wav_file>.result next to the other results.

The worker is started with "run". "submit" plays the producer side and
"score" scores a single file without a queue.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logx.Configure(viper.GetString("log_level"), viper.GetString("log_format"), nil)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./scorequeue.yaml or ~/.config/scorequeue/scorequeue.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "console", "log format: console or json")
	rootCmd.PersistentFlags().String("backend", "fs", "queue backend: fs, redis or sqlite")
	rootCmd.PersistentFlags().String("input-dir", "", "request store directory")
	rootCmd.PersistentFlags().String("output-dir", "", "result store directory")
	rootCmd.PersistentFlags().String("strategy", "simple", "scorer strategy: simple, model or exec")

	bind("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	bind("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	bind("queue.backend", rootCmd.PersistentFlags().Lookup("backend"))
	bind("queue.input_dir", rootCmd.PersistentFlags().Lookup("input-dir"))
	bind("queue.output_dir", rootCmd.PersistentFlags().Lookup("output-dir"))
	bind("scorer.strategy", rootCmd.PersistentFlags().Lookup("strategy"))
}

func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("scorequeue")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "scorequeue"))
		}
	}

	config.BindEnv(v)

	if err := v.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintln(os.Stderr, "Failed to read config file:", err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
