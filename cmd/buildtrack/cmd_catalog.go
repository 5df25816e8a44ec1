package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vbonduro/buildtrack/internal/config"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the phase catalog new projects are seeded from",
}

var catalogShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active catalog as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cat, err := loadCatalog(config.Load())
		if err != nil {
			return fmt.Errorf("failed to load catalog: %w", err)
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cat)
	},
}

func init() {
	catalogCmd.AddCommand(catalogShowCmd)
}
