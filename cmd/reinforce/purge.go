package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/altaterra-ai/answer-engine/internal/embedding"
	"github.com/altaterra-ai/answer-engine/internal/resolve"
	"github.com/altaterra-ai/answer-engine/internal/vector"
)

// newPurgeCacheCmd creates the purge-cache subcommand.
func newPurgeCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge-cache",
		Short: "Delete expired cached answers",
		Long: `Purge-cache removes cache entries whose TTL has elapsed, from both the
relational store and the vector index. The API server sweeps these on a
schedule; this command forces a sweep, for example after lowering the TTL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			db, repos, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			var index vector.Index
			if cfg.Vector.Adapter == "http" {
				index, err = vector.NewHTTPIndex(vector.HTTPConfig{
					BaseURL: cfg.Vector.BaseURL,
					APIKey:  cfg.Vector.APIKey,
					Timeout: cfg.Vector.Timeout,
				})
				if err != nil {
					return fmt.Errorf("vector index: %w", err)
				}
			} else {
				// Nothing persists in the memory adapter between processes,
				// so only the relational rows need cleaning.
				index = vector.NewMemoryIndex(0)
			}
			defer index.Close()

			sc := resolve.NewSemanticCache(
				repos.CacheEntries,
				repos.Feedback,
				index,
				embedding.NewMockClient(768),
				logger,
				resolve.SemanticCacheConfig{
					SimilarityThreshold: cfg.Resolution.SimilarityThreshold,
					TTL:                 cfg.Resolution.CacheTTL,
					MaxPerScope:         cfg.Resolution.CacheMaxPerScope,
				},
			)

			var spin *spinner.Spinner
			if !outputJSON {
				spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				spin.Suffix = " Purging expired cache entries..."
				spin.Writer = os.Stderr
				spin.Start()
			}

			removed, err := sc.PurgeExpired(ctx)

			if spin != nil {
				spin.Stop()
			}
			if err != nil {
				return fmt.Errorf("purge expired: %w", err)
			}

			if outputJSON {
				json.NewEncoder(os.Stdout).Encode(map[string]int{"removed": removed})
				return nil
			}
			color.New(color.FgGreen).Printf("✓ Removed %d expired cache entries\n", removed)
			return nil
		},
	}

	return cmd
}
