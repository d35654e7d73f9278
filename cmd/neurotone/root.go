// cmd/neurotone/root.go
package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/SyedDaiam9101/neurotone-service/internal/config"
	"github.com/SyedDaiam9101/neurotone-service/internal/logger"
)

const (
	serviceName    = "neurotone-service"
	serviceVersion = "1.0.0"
)

type commandContext struct {
	configFlag string
}

// load reads configuration with cmd's flags bound on top and sets up the
// root logger
func (c *commandContext) load(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(strings.TrimSpace(c.configFlag), cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: serviceName,
		Writer:  cmd.ErrOrStderr(),
	})
	return cfg, log, nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "neurotone",
		Short:         "Speech based dementia screening service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path")
	pf.String("checkpoint", "", "Path to the classification head checkpoint")
	pf.String("base-model", "", "Representation model identifier, resolved under --model-dir")
	pf.String("model-dir", "", "Directory holding exported ONNX models")
	pf.String("onnx-library", "", "Path to the onnxruntime shared library")
	pf.Int("sample-rate", 0, "Target sample rate in Hz")
	pf.Int("max-length-samples", 0, "Fixed model input length in samples")
	pf.Bool("mock", false, "Use the mock encoder instead of ONNX (for testing)")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (console, json)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newPredictCommand(ctx))

	return rootCmd
}
