package main

import (
	"os"

	"github.com/wrogo/wro/cmd"
	"github.com/wrogo/wro/cmd/run"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	runCmd := run.NewRunCommand()
	rootCmd.AddCommand(runCmd)

	migrateCmd := cmd.NewMigrateCommand()
	rootCmd.AddCommand(migrateCmd)

	validateModelCmd := cmd.NewValidateModelCommand()
	rootCmd.AddCommand(validateModelCmd)

	versionCmd := cmd.NewVersionCommand()
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
