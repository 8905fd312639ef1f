package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/savegress/pamflow/internal/config"
	"github.com/savegress/pamflow/internal/hl7v2"
	"github.com/savegress/pamflow/internal/logging"
)

// newRootCmd creates the root pamflow command with all subcommands registered.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pamflow",
		Short:         "pamflow - HL7v2 ADT/PAM validation, identifier issuance and scenario replay",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().String("config", "", "YAML configuration file (defaults to $PAMFLOW_CONFIG, then the environment)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newShiftCmd())
	root.AddCommand(newGenerateCmd())
	root.AddCommand(newReplayCmd())
	return root
}

// loadConfig reads the --config file, then $PAMFLOW_CONFIG, then the
// environment. An unreadable $PAMFLOW_CONFIG falls back to the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.Load(path)
	}

	if path := os.Getenv("PAMFLOW_CONFIG"); path != "" {
		cfg, err := config.Load(path)
		if err == nil {
			return cfg, nil
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "failed to load config from %s: %v, using environment\n", path, err)
	}

	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads the configuration and builds the command logger.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logging.New(cfg, cmd.ErrOrStderr()), nil
}

// readMessages reads a message file, or stdin for "-", and splits it on
// MSH boundaries.
func readMessages(cmd *cobra.Command, path string) ([]string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}

	messages := hl7v2.SplitMessages(string(data))
	if len(messages) == 0 {
		return nil, fmt.Errorf("no HL7 messages found in %s", path)
	}
	return messages, nil
}

// writeMessages prints messages one segment per line, separated by a blank line.
func writeMessages(w io.Writer, messages []string) error {
	for i, msg := range messages {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		text := strings.ReplaceAll(hl7v2.Normalize(msg), hl7v2.SegmentTerminator, "\n")
		if _, err := io.WriteString(w, strings.TrimRight(text, "\n")+"\n"); err != nil {
			return err
		}
	}
	return nil
}
