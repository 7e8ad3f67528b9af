package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neurovisor/neurovisor/internal/config"
	"github.com/neurovisor/neurovisor/internal/output"
)

var Version = "dev"

var (
	jsonFlag    bool
	verboseFlag bool
	quietFlag   bool
	ConfigDir   string
)

func NewRootCmd() *cobra.Command {
	cmd := newRootCmd()
	addServeCommand(cmd)
	addPoolCommand(cmd)
	addAgentCommand(cmd)
	addSessionsCommand(cmd)
	addDashboardCommand(cmd)
	return cmd
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "neurovisor",
		Short:         "Firecracker microVM fleet orchestrator for sandboxed agent code execution",
		Long:          "neurovisor — maintains a warm pool of Firecracker microVMs and executes untrusted code fragments from a tool-using LLM agent inside them.",
		Version:       fmt.Sprintf("neurovisor v%s", Version),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verboseFlag && quietFlag {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			if jsonFlag {
				quietFlag = true
			}
			output.SetFlags(jsonFlag, quietFlag, verboseFlag)
			config.SetConfigDir(ConfigDir)
			return nil
		},
	}

	rootCmd.SetVersionTemplate("{{.Version}}\n")

	pflags := rootCmd.PersistentFlags()
	pflags.BoolVarP(&jsonFlag, "json", "j", false, "Output as JSON")
	pflags.BoolVarP(&verboseFlag, "verbose", "v", false, "Extra detail to stderr")
	pflags.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	pflags.StringVar(&ConfigDir, "config-dir", "", "Override config directory (default: ~/.neurovisor)")

	if v := os.Getenv("NEUROVISOR_HOME"); v != "" && ConfigDir == "" {
		ConfigDir = v
	}
	if os.Getenv("NEUROVISOR_JSON") == "1" {
		jsonFlag = true
	}

	return rootCmd
}

func Execute() error {
	return NewRootCmd().Execute()
}
