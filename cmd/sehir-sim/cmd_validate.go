package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/sehir-simulator/rng"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration and its contact network without running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			g, err := buildGraph(cfg, rng.New(cfg.Run.Seed))
			if err != nil {
				return err
			}
			if err := cfg.SeedPlan().Validate(); err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"valid":    true,
					"graph":    cfg.Graph.Kind,
					"nodes":    g.NodeCount(),
					"edges":    g.EdgeCount(),
					"exposure": cfg.Exposure,
					"seed":     cfg.Run.Seed,
				})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: %s graph, %d nodes, %d edges, exposure %s, seed %d\n",
				cfg.Graph.Kind, g.NodeCount(), g.EdgeCount(), cfg.Exposure, cfg.Run.Seed)
			return err
		},
	}
}
