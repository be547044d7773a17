package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/research-harvester/internal/harvest"
	"github.com/pdiddy/research-harvester/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search providers and print or save the aggregated pages",
	Long: `Search sends the query to every provider given with --provider, fetching
each requested page in order. Providers run concurrently; each one respects
its own minimum request interval. Results are printed as a table (records
are deduplicated by DOI and title) or as JSON, and can be saved to a harvest
file with --out.

With --from, search reformats a previously saved harvest file instead of
querying any provider.`,
	RunE: runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.StringSliceP("provider", "p", nil, "providers to query (repeatable or comma-separated)")
	f.IntSlice("page", []int{1}, "pages to fetch (repeatable or comma-separated)")
	f.Int("rpp", 0, "records per page (default: provider's page size)")
	f.StringToString("param", nil, "extra request parameters sent to every provider (key=value)")
	f.String("format", "table", "output format: table or json")
	f.String("out", "", "save the harvest to this YAML file")
	f.String("from", "", "reformat an existing harvest file instead of searching")
	f.Bool("stop-early", false, "stop a provider's pages after a failed or short page")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "table" && format != "json" {
		return fmt.Errorf("unknown format %q (want table or json)", format)
	}

	if from, _ := cmd.Flags().GetString("from"); from != "" {
		hf, err := search.ReadHarvestFile(from)
		if err != nil {
			return err
		}
		return printResult(hf.Aggregated(), format)
	}

	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return fmt.Errorf("provide a query")
	}
	providers, _ := cmd.Flags().GetStringSlice("provider")
	pages, _ := cmd.Flags().GetIntSlice("page")
	rpp, _ := cmd.Flags().GetInt("rpp")
	extra, _ := cmd.Flags().GetStringToString("param")
	stopEarly, _ := cmd.Flags().GetBool("stop-early")
	out, _ := cmd.Flags().GetString("out")

	ctx, cancel := signalContext()
	defer cancel()

	engine, _, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	req := harvest.Request{
		Query:          query,
		Providers:      providers,
		Pages:          pages,
		RecordsPerPage: rpp,
		StopEarly:      stopEarly,
	}
	if len(extra) > 0 {
		req.Params = make(map[string]map[string]string, len(providers))
		for _, p := range providers {
			req.Params[p] = extra
		}
	}

	run, err := engine.Harvest(ctx, req)
	if err != nil {
		return err
	}

	if out != "" {
		if err := search.WriteHarvestFile(out, run.HarvestFile()); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Saved harvest %s to %s\n", run.ID, out)
	}
	if err := printResult(run.Result, format); err != nil {
		return err
	}
	if len(run.Result) > 0 && len(run.Result.Successes()) == 0 {
		return fmt.Errorf("all %d page(s) failed", len(run.Result))
	}
	return nil
}

func printResult(res search.AggregatedResult, format string) error {
	if format == "json" {
		return search.FormatJSON(res, os.Stdout)
	}
	search.FormatTable(res, os.Stdout)
	return nil
}
