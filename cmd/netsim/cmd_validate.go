package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/najoast/netsim/config"
	"github.com/najoast/netsim/logging"
	"github.com/najoast/netsim/topology"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a topology file without running it",
		Long: `Check a topology file for:
  - Duplicate ids and self references
  - Duplicate neighbors and undeclared neighbors
  - Drop probabilities outside [0, 1]
  - Originators with other than 1 or 2 relays, responders with fewer than 2
  - One-sided connections

Examples:
  netsim validate --topology input.toml
  netsim validate --topology input.toml --watch   # re-check on every save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("topology")
			watch, _ := cmd.Flags().GetBool("watch")
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()

			topo, err := config.LoadTopology(path)
			if err == nil {
				err = topology.Validate(topo)
			}
			if err != nil {
				return fmt.Errorf("invalid topology %s: %w", path, err)
			}
			report(out, path, topo, nil, jsonOut)
			if !watch {
				return nil
			}

			w, err := config.NewTopologyWatcher(path, logging.New("warn", "text", cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			reports := make(chan func(), 1)
			w.OnChange(func(t *topology.Topology, err error) {
				select {
				case reports <- func() { report(out, path, t, err, jsonOut) }:
				case <-ctx.Done():
				}
			})
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case r := <-reports:
					r()
				}
			}
		},
	}

	cmd.Flags().String("topology", "input.toml", "Topology file (toml, yaml or json)")
	cmd.Flags().Bool("watch", false, "Keep running and re-validate the file when it changes")

	return cmd
}

type validationReport struct {
	File        string `json:"file"`
	Valid       bool   `json:"valid"`
	Error       string `json:"error,omitempty"`
	Relays      int    `json:"relays"`
	Originators int    `json:"originators"`
	Responders  int    `json:"responders"`
}

func report(w io.Writer, path string, t *topology.Topology, err error, jsonOut bool) {
	r := validationReport{File: path, Valid: err == nil}
	if err != nil {
		r.Error = err.Error()
	}
	if t != nil {
		r.Relays, r.Originators, r.Responders = len(t.Relays), len(t.Originators), len(t.Responders)
	}

	if jsonOut {
		json.NewEncoder(w).Encode(r)
		return
	}
	if !r.Valid {
		fmt.Fprintf(w, "%s: invalid: %s\n", path, r.Error)
		return
	}
	fmt.Fprintf(w, "%s: valid (%d relays, %d originators, %d responders)\n",
		path, r.Relays, r.Originators, r.Responders)
}
