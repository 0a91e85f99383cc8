package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mantonx/hap/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the transcription cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the number of entries in the transcription cache",
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every entry from the transcription cache",
	RunE:  runCacheClear,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openConfiguredStore() (cache.Store, error) {
	if hapConfig.Cache.Backend == "redis" {
		store, err := cache.NewRedisStore(context.Background(), cache.RedisConfig{
			Addr:     hapConfig.Cache.RedisAddr,
			Password: hapConfig.Cache.RedisPassword,
			DB:       hapConfig.Cache.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis cache: %w", err)
		}
		return store, nil
	}

	db, err := cache.OpenDB(cache.DBConfig{Type: hapConfig.Cache.Backend, DSN: hapConfig.Cache.DSN})
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	store, err := cache.NewGormStore(db)
	if err != nil {
		return nil, fmt.Errorf("initializing cache store: %w", err)
	}
	return store, nil
}

func runCacheStats(c *cobra.Command, _ []string) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer store.Close()

	count, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting cache entries: %w", err)
	}
	fmt.Fprintf(os.Stdout, "%d entries (max %d, ttl %d days)\n", count, hapConfig.Cache.MaxEntries, hapConfig.Cache.TranscriptTTLDays)
	return nil
}

func runCacheClear(c *cobra.Command, _ []string) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	fmt.Fprintln(os.Stdout, "cache cleared")
	return nil
}
