package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the configured providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		engine, _, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		infos := engine.ProviderInfos()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(infos)
		}

		fmt.Printf("%-16s  %-4s  %-9s  %-8s  %s\n", "Provider", "RPP", "Interval", "API key", "Base URL")
		for _, p := range infos {
			key := "-"
			switch {
			case p.HasAPIKey:
				key = "set"
			case p.APIKeyRequired:
				key = "missing"
			}
			name := p.Name
			if p.Workflow {
				name += "*"
			}
			fmt.Printf("%-16s  %-4d  %-9s  %-8s  %s\n", name, p.RecordsPerPage, p.MinInterval, key, p.BaseURL)
		}
		fmt.Println("\n* queried through a multi-step workflow")
		return nil
	},
}

func init() {
	providersCmd.Flags().Bool("json", false, "output as JSON")
	rootCmd.AddCommand(providersCmd)
}
