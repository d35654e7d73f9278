// cmd/neurotone/predict_command.go
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"
)

func newPredictCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "predict <audio-file>",
		Short: "Score one audio file offline with the same pipeline as the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("file does not exist: %s", args[0])
				}
				return fmt.Errorf("read audio: %w", err)
			}

			cfg, log, err := ctx.load(cmd)
			if err != nil {
				return err
			}
			p, cleanup, err := buildPredictor(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := p.Predict(cmd.Context(), raw)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if math.IsNaN(res.Probability) {
					return errors.New("model produced a non-finite probability")
				}
				return json.NewEncoder(out).Encode(map[string]any{
					"probability": res.Probability,
					"label":       res.Label,
				})
			}
			fmt.Fprintf(out, "probability: %.6f\n", res.Probability)
			if res.Label != "" {
				fmt.Fprintf(out, "label: %s\n", res.Label)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}
