// Command tiermem is the operational CLI: capture memories, run
// consolidation passes, search across tiers, and inspect store health.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	tiermem "github.com/tiermem/tiermem-go"
	"github.com/tiermem/tiermem-go/pkg/core"
)

var (
	configPath string
	envPath    string
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	root := &cobra.Command{
		Use:   "tiermem",
		Short: "Tiered memory lifecycle and retrieval engine",
		Long: "tiermem manages a personal long-term memory store: memories decay\n" +
			"along importance-derived half-lives, strengthen when used, and are\n" +
			"consolidated through compression tiers as they prove durable.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON config file")
	root.PersistentFlags().StringVar(&envPath, "env", "", "path to a .env file")

	root.AddCommand(rememberCmd())
	root.AddCommand(consolidateCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(healthCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() (*tiermem.Client, error) {
	var (
		cfg *tiermem.Config
		err error
	)
	switch {
	case configPath != "":
		cfg, err = tiermem.LoadConfigFromJSON(configPath)
	case envPath != "":
		cfg, err = tiermem.LoadConfigFromEnvFile(envPath)
	default:
		cfg, err = tiermem.LoadConfigFromEnv()
	}
	if err != nil {
		return nil, err
	}
	return tiermem.NewClient(cfg)
}

func rememberCmd() *cobra.Command {
	var importance float64

	cmd := &cobra.Command{
		Use:   "remember <content>",
		Short: "Capture a new episodic memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			rec, err := client.Remember(cmd.Context(), args[0], tiermem.WithImportance(importance))
			if err != nil {
				return err
			}
			log.Info().Int64("id", rec.ID).Float64("half_life_days", rec.HalfLifeDays).
				Msg("memory captured")
			return printJSON(rec)
		},
	}
	cmd.Flags().Float64Var(&importance, "importance", 0.5, "importance in [0.0, 1.0]")
	return cmd
}

func consolidateCmd() *cobra.Command {
	var (
		batchSize   int
		noDecay     bool
		minStrength float64
		lockPath    string
	)

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run one consolidation pass over eligible memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			release, err := acquireLease(lockPath)
			if err != nil {
				return err
			}
			defer release()

			client, err := newClient()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			stats, err := client.ConsolidateMemories(cmd.Context(), batchSize, !noDecay, minStrength)
			if err != nil {
				return err
			}
			log.Info().Str("run_id", stats.RunID).
				Int("processed", stats.ProcessedCount).
				Int("consolidated", stats.ConsolidatedCount).
				Int("forgotten", stats.ForgottenCount).
				Int("errors", len(stats.Errors)).
				Msg("consolidation finished")
			return printJSON(stats)
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "max records per pass")
	cmd.Flags().BoolVar(&noDecay, "no-decay", false, "skip decay, only evaluate promotion and forgetting")
	cmd.Flags().Float64Var(&minStrength, "min-strength", 0, "promotion strength floor (0 = configured default)")
	cmd.Flags().StringVar(&lockPath, "lock", "/tmp/tiermem-consolidate.lock", "lease file guarding concurrent passes")
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		topK    int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Cross-tier semantic search over all five domains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			result, err := client.SearchAllText(cmd.Context(), args[0],
				tiermem.WithTopK(topK), tiermem.WithDomainTimeout(timeout))
			if err != nil {
				return err
			}
			for _, failure := range result.Incomplete {
				log.Warn().Str("domain", failure.Domain).Bool("timed_out", failure.TimedOut).
					Msg("domain incomplete")
			}
			return printJSON(result)
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 10, "max hits per domain")
	cmd.Flags().DurationVar(&timeout, "domain-timeout", 2*time.Second, "per-domain search timeout")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report aggregate memory store health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			health, err := client.MemoryHealth(cmd.Context())
			if err != nil {
				return err
			}
			for _, rec := range health.Recommendations {
				log.Warn().Msg(rec)
			}
			return printJSON(health)
		},
	}
}

// acquireLease takes an exclusive file lease so two consolidation passes
// never run concurrently over the same store. The lease is advisory and
// host-local; distributed schedulers need their own mutual exclusion.
func acquireLease(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, core.NewMemoryError("AcquireLease",
				fmt.Errorf("another consolidation pass holds %s", path))
		}
		return nil, core.NewMemoryError("AcquireLease", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()
	return func() { _ = os.Remove(path) }, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}
