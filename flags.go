package main

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bosley/scorequeue/config"
)

// bind ties a flag to a config key. Unset flags leave the key to the
// config file, environment or default.
func bind(key string, flag *pflag.Flag) {
	if flag == nil {
		panic("unknown flag for " + key)
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// language returns the --lang value, or default_language when it is unset.
func language(lang string, cfg config.Config) string {
	if lang == "" {
		return cfg.DefaultLanguage
	}
	return lang
}
