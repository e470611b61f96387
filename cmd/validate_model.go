package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wrogo/wro/cmd/util"
	"github.com/wrogo/wro/pkg/model"
	"github.com/wrogo/wro/pkg/model/sqlmodel"
	"github.com/wrogo/wro/pkg/resource"
)

const modelPathFlag = "model-path"

// ValidationResult is printed by validate-model.
type ValidationResult struct {
	Groups       []string            `json:"groups"`
	Version      string              `json:"version"`
	DanglingRefs map[string][]string `json:"danglingRefs,omitempty"`
	Cycles       []string            `json:"cycles,omitempty"`
}

// NewValidateModelCommand returns the command loading a model and reporting
// its structural problems. Loading failures exit non-zero.
func NewValidateModelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-model",
		Short: "Validate a wro model",
		Long:  "Load a model from a file or a database, and report its groups, dangling group references and cycles.",
		RunE:  runValidateModel,
		Args:  cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			flags := cmd.Flags()

			util.MustBindPFlag(modelPathFlag, flags.Lookup(modelPathFlag))
			util.MustBindPFlag(datastoreEngineFlag, flags.Lookup(datastoreEngineFlag))
			util.MustBindPFlag(datastoreURIFlag, flags.Lookup(datastoreURIFlag))
		},
	}

	flags := cmd.Flags()
	flags.String(modelPathFlag, "", "the YAML or JSON model file to validate")
	flags.String(datastoreEngineFlag, "", "the datastore engine holding the model, when no model file is given")
	flags.String(datastoreURIFlag, "", "the connection uri of the datastore holding the model")

	return cmd
}

func runValidateModel(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	m, err := loadModel(ctx, viper.GetString(modelPathFlag), viper.GetString(datastoreEngineFlag), viper.GetString(datastoreURIFlag))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(Validate(m))
}

func loadModel(ctx context.Context, path, engine, uri string) (*resource.Model, error) {
	if path != "" {
		return model.NewFileFactory(path).Create(ctx)
	}
	if engine == "" {
		return nil, fmt.Errorf("one of '--%s' or '--%s' is required", modelPathFlag, datastoreEngineFlag)
	}

	factory, err := sqlmodel.New(ctx, sqlmodel.Config{Engine: engine, URI: uri})
	if err != nil {
		return nil, err
	}
	defer factory.Close()
	return factory.Create(ctx)
}

// Validate reports the structure of m.
func Validate(m *resource.Model) ValidationResult {
	report := model.Analyze(m)

	names := m.Names()
	sort.Strings(names)

	result := ValidationResult{
		Groups:  names,
		Version: fmt.Sprintf("%016x", model.Fingerprint(m)),
		Cycles:  report.Cycles,
	}
	if len(report.DanglingRefs) > 0 {
		result.DanglingRefs = report.DanglingRefs
	}
	return result
}
