package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/research-harvester/internal/cache"
	"github.com/pdiddy/research-harvester/internal/harvest"
	"github.com/pdiddy/research-harvester/internal/provider"
	"github.com/pdiddy/research-harvester/pkg/types"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the response cache",
	Long: `Cache manages stored successful pages. Keys have the form
<provider>_<page>_<records per page>_<hash>. The memory backend keeps
nothing between runs; use --cache sqlite or --cache redis.`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(func(engine *harvest.Engine) error {
			keys, err := engine.Cache().Keys(cmd.Context())
			if err != nil {
				return err
			}
			if p, _ := cmd.Flags().GetString("provider"); p != "" {
				keys = cache.FilterPrefix(keys, provider.Normalize(p)+"_")
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Println(k)
			}
			fmt.Printf("%d key(s)\n", len(keys))
			return nil
		})
	},
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete <key>...",
	Short: "Delete cached keys",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(func(engine *harvest.Engine) error {
			for _, k := range args {
				if err := engine.Cache().Delete(cmd.Context(), k); err != nil {
					return fmt.Errorf("deleting %s: %w", k, err)
				}
			}
			fmt.Printf("Deleted %d key(s)\n", len(args))
			return nil
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached page",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(func(engine *harvest.Engine) error {
			if err := engine.Cache().Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Cache cleared")
			return nil
		})
	},
}

func withCache(fn func(*harvest.Engine) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	backend := types.CacheBackend(viper.GetString("cache.backend"))
	if backend == types.CacheMemory || backend == types.CacheNone {
		return fmt.Errorf("the %s cache backend is not persistent; choose sqlite or redis", backend)
	}
	engine, _, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()
	return fn(engine)
}

func init() {
	cacheListCmd.Flags().String("provider", "", "only keys for this provider")
	cacheCmd.AddCommand(cacheListCmd, cacheDeleteCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
