package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/internal/scheduler"
)

var watchCmd = &cobra.Command{
	Use:   "watch [query]",
	Short: "Run harvests on a cron schedule",
	Long: `Watch re-runs harvests on cron schedules and saves each run as a harvest
file in the job's output directory. Jobs come from a YAML file (--jobs) or
from a single job described by flags:

  research-harvester watch --schedule "@daily" -p plos,arxiv "sleep apnea"

Schedules accept five fields, an optional leading seconds field, or
descriptors such as @hourly and "@every 30m".`,
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.String("jobs", "", "YAML file listing jobs")
	f.String("name", "watch", "job name for a job given by flags")
	f.String("schedule", "", "cron schedule for a job given by flags")
	f.StringSliceP("provider", "p", nil, "providers to query")
	f.IntSlice("page", []int{1}, "pages to fetch")
	f.Int("rpp", 0, "records per page")
	f.Bool("stop-early", false, "stop a provider's pages after a failed or short page")
	f.String("out-dir", "harvests", "directory for harvest files")
	f.Bool("now", false, "also run every job once at startup")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	jobs, err := watchJobs(cmd, args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	engine, logger, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	s := scheduler.New(engine, logging.Component(logger, "scheduler"))
	for _, j := range jobs {
		if err := s.AddJob(j); err != nil {
			return err
		}
	}

	if now, _ := cmd.Flags().GetBool("now"); now {
		for _, j := range jobs {
			path, err := s.RunNow(ctx, j.Name)
			if err != nil {
				return err
			}
			fmt.Printf("%s: saved %s\n", j.Name, path)
		}
	}

	s.Start()
	for _, j := range s.Jobs() {
		fmt.Printf("%s: next run %s\n", j.Config.Name, s.Next(j.Config.Name).Format(time.RFC3339))
	}
	<-ctx.Done()

	stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	s.Stop(stopCtx)
	return nil
}

func watchJobs(cmd *cobra.Command, args []string) ([]scheduler.JobConfig, error) {
	if path, _ := cmd.Flags().GetString("jobs"); path != "" {
		jobs, err := scheduler.LoadJobs(path)
		if err != nil {
			return nil, err
		}
		if len(jobs) == 0 {
			return nil, fmt.Errorf("no jobs in %s", path)
		}
		return jobs, nil
	}

	f := cmd.Flags()
	name, _ := f.GetString("name")
	schedule, _ := f.GetString("schedule")
	providers, _ := f.GetStringSlice("provider")
	pages, _ := f.GetIntSlice("page")
	rpp, _ := f.GetInt("rpp")
	stopEarly, _ := f.GetBool("stop-early")
	outDir, _ := f.GetString("out-dir")
	if schedule == "" {
		return nil, fmt.Errorf("provide --jobs or --schedule")
	}
	return []scheduler.JobConfig{{
		Name:           name,
		Schedule:       schedule,
		Query:          strings.TrimSpace(strings.Join(args, " ")),
		Providers:      providers,
		Pages:          pages,
		RecordsPerPage: rpp,
		StopEarly:      stopEarly,
		OutDir:         outDir,
	}}, nil
}
