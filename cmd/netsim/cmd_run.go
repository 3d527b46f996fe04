package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/najoast/netsim/bootstrap"
	"github.com/najoast/netsim/config"
	"github.com/najoast/netsim/logging"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Validate the topology and run the network until interrupted",
		Long: `Validate the topology, spawn one actor per declared node plus the
supervisor, and serve the display until SIGINT or SIGTERM.

Examples:
  netsim run                                  # input.toml, defaults
  netsim run --config netsim.yaml             # settings from a file
  netsim run --topology net.toml --heterogeneous`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.NewLoader().Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cmd.Flags().Changed("topology") {
				cfg.Simulation.TopologyFile, _ = cmd.Flags().GetString("topology")
			}
			if cmd.Flags().Changed("heterogeneous") {
				cfg.Simulation.Heterogeneous, _ = cmd.Flags().GetBool("heterogeneous")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			out, closeOut := logOutput(cfg.Log.Output, cmd)
			defer closeOut()
			log := logging.New(cfg.Log.Level.String(), cfg.Log.Format, out)

			topo, err := config.LoadTopology(cfg.Simulation.TopologyFile)
			if err != nil {
				return err
			}

			app, err := bootstrap.NewApplication(cfg, topo, bootstrap.Options{Logger: log})
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}

	cmd.Flags().String("config", "", "Configuration file (yaml or json)")
	cmd.Flags().String("topology", "", "Topology file, overrides simulation.topology_file")
	cmd.Flags().Bool("heterogeneous", false, "Assign relay implementations round-robin")

	return cmd
}

// logOutput resolves the log destination. The returned func releases it.
func logOutput(name string, cmd *cobra.Command) (io.Writer, func()) {
	switch name {
	case "stdout":
		return cmd.OutOrStdout(), func() {}
	case "stderr", "":
		return cmd.ErrOrStderr(), func() {}
	default:
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "cannot open log file %s, using stderr: %v\n", name, err)
			return cmd.ErrOrStderr(), func() {}
		}
		return f, func() { _ = f.Close() }
	}
}
