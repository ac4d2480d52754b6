// Package cli implements the persistctl command tree
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ammar0144/persist4go/pkg/config"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type globalOptions struct {
	ConfigPath string
	JSON       bool
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	globals := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "persistctl",
		Short:         "Inspect persist4go mappings and connectivity",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)

	cmd.PersistentFlags().StringVar(&globals.ConfigPath, "config", "", "YAML configuration file")
	cmd.PersistentFlags().BoolVar(&globals.JSON, "json", false, "Print output as JSON")

	cmd.AddCommand(newVersionCommand(out, build, globals))
	cmd.AddCommand(newExplainCommand(out, globals))
	cmd.AddCommand(newPingCommand(out, globals))
	return cmd
}

func newVersionCommand(out io.Writer, build BuildInfo, globals *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if globals.JSON {
				return printJSON(out, build)
			}
			_, err := fmt.Fprintf(out, "version=%s commit=%s build_time=%s\n", build.Version, build.Commit, build.BuildTime)
			return err
		},
	}
}

func loadConfig(globals *globalOptions) (config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: globals.ConfigPath})
	if err != nil {
		return config.Config{}, mapCommandError(err)
	}
	return cfg, nil
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
