package main

import (
	"fmt"
	"strings"

	"github.com/lockforge/lockd/internal/config"
	"github.com/spf13/viper"
)

// envReplacer maps flags like `--my-param` to env vars like `LOCKD_MY_PARAM`.
var envReplacer = strings.NewReplacer("-", "_")

func init() {
	viper.SetEnvPrefix("LOCKD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(envReplacer)

	viper.SetDefault(urlFlagName, fmt.Sprintf("http://127.0.0.1:%d", config.DefaultPort))
	viper.SetDefault(timeoutFlagName, defaultTimeout)

	// Client flags default to their LOCKD_* env var.
	urlFlag.Value = viper.GetString(urlFlagName)
	callerFlag.Value = viper.GetString(callerFlagName)
	timeoutFlag.Value = viper.GetDuration(timeoutFlagName)
}
