// Package util provides common utilities for spf13/cobra CLI utilities
// that can be used for various commands within this project.
package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// MustBindPFlag attempts to bind a specific key to a pflag (as used by cobra) and panics
// if the binding fails with a non-nil error.
func MustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func MustBindEnv(input ...string) {
	if err := viper.BindEnv(input...); err != nil {
		panic("failed to bind env key: " + err.Error())
	}
}

// PrepareTempConfigDir points HOME to a temporary directory and returns the
// $HOME/.wro directory searched for config.yaml.
func PrepareTempConfigDir(t *testing.T) string {
	_, err := os.Stat("/etc/wro/config.yaml")
	require.ErrorIs(t, err, os.ErrNotExist, "Config file at /etc/wro/config.yaml would disturb test result.")

	homedir := t.TempDir()
	t.Setenv("HOME", homedir)

	confdir := filepath.Join(homedir, ".wro")
	require.NoError(t, os.Mkdir(confdir, 0750))

	return confdir
}

// PrepareTempConfigFile writes config to $HOME/.wro/config.yaml and returns its path.
func PrepareTempConfigFile(t *testing.T, config string) string {
	confdir := PrepareTempConfigDir(t)
	path := filepath.Join(confdir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0600))
	return path
}
