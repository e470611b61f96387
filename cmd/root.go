// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	datastoreEngineFlag = "datastore-engine"
	datastoreEngineConf = "model.engine"
	datastoreURIFlag    = "datastore-uri"
	datastoreURIConf    = "model.uri"
)

// NewRootCommand enables all children commands to read flags from CLI flags, environment variables prefixed with WRO, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("WRO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/wro", "$HOME/.wro", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetDefault(datastoreEngineFlag, "")
	viper.SetDefault(datastoreURIFlag, "")
	err := viper.ReadInConfig()
	if err == nil {
		viper.SetDefault(datastoreEngineFlag, viper.Get(datastoreEngineConf))
		viper.SetDefault(datastoreURIFlag, viper.Get(datastoreURIConf))
	}

	return &cobra.Command{
		Use:   "wro",
		Short: "A web resource optimizer serving bundled and minimized CSS and JavaScript",
		Long: `A web resource optimizer serving bundled and minimized CSS and JavaScript.

Resources are grouped by a model, run through chains of pre- and post-processors,
cached, and served over HTTP with long-lived caching headers.`,
	}
}
