package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"wmharvest/pkg/auth"
	"wmharvest/pkg/checkpoint"
	"wmharvest/pkg/clock"
	"wmharvest/pkg/config"
	errs "wmharvest/pkg/errors"
	"wmharvest/pkg/fetcher"
	"wmharvest/pkg/harvester"
	"wmharvest/pkg/logger"
	"wmharvest/pkg/metrics"
	"wmharvest/pkg/ratelimit"
	"wmharvest/pkg/storage"
	"wmharvest/pkg/ui"
	"wmharvest/pkg/webmaster"
)

var (
	// Collect command flags
	accountName    string
	hostIDs        []string
	regionIDs      []int
	days           int
	byURL          bool
	keepZeroDemand bool
	forceRefetch   bool
	forceRestart   bool
	storageType    string
	outputDir      string
	metricsFile    string
)

// collectCmd represents the collect command
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect query analytics into the local dataset",
	Long: `Collect query statistics for the last days of every selected host.

Windows already recorded in the checkpoint file, or already fully present in the
dataset, are skipped. Everything fetched is merged into the dataset and written to a
fresh run file. Interrupting the run with Ctrl+C keeps what was collected so far.

The OAuth token is taken from, in order:
  - WMHARVEST_TOKEN or webmaster.token in the config file
  - the stored account (use 'wmharvest auth login' to store one)`,
	Example: `  # Collect every host of the account
  wmharvest collect

  # Two hosts, Russia only, last 7 days
  wmharvest collect --host https:example.com:443 --host https:shop.example.com:443 --region 225 --days 7

  # Per page statistics into SQLite
  wmharvest collect --by-url --storage sqlite

  # Ignore checkpoints and start over
  wmharvest collect --force-restart`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)

	collectCmd.Flags().StringVarP(&accountName, "account", "a", "", "use a specific stored account")
	collectCmd.Flags().StringSliceVar(&hostIDs, "host", nil, "host id to collect, repeatable (default: all hosts of the account)")
	collectCmd.Flags().IntSliceVar(&regionIDs, "region", nil, "region id filter, repeatable (default: all regions)")
	collectCmd.Flags().IntVar(&days, "days", 0, "number of days to collect, ending today (default 14)")
	collectCmd.Flags().BoolVar(&byURL, "by-url", false, "collect statistics per page URL")
	collectCmd.Flags().BoolVar(&keepZeroDemand, "keep-zero-demand", false, "keep queries whose demand is zero")
	collectCmd.Flags().BoolVar(&forceRefetch, "force-refetch", false, "fetch every window even if it was collected before")
	collectCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "clear the checkpoint file before collecting")
	collectCmd.Flags().StringVar(&storageType, "storage", "", "dataset backend: csv or sqlite")
	collectCmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for run files")
	collectCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics of the run to this file")
}

// collectFlags returns only the flags the user set
func collectFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	changed := cmd.Flags().Changed

	if changed("account") {
		flags["account"] = accountName
	}
	if changed("host") {
		flags["hosts"] = hostIDs
	}
	if changed("region") {
		flags["regions"] = regionIDs
	}
	if changed("days") {
		flags["days"] = days
	}
	if changed("by-url") {
		flags["by-url"] = byURL
	}
	if changed("keep-zero-demand") {
		flags["keep-zero-demand"] = keepZeroDemand
	}
	if changed("force-refetch") {
		flags["force-refetch"] = forceRefetch
	}
	if changed("storage") {
		flags["storage"] = storageType
	}
	if changed("output") {
		flags["output"] = outputDir
	}
	if changed("metrics-file") {
		flags["metrics-file"] = metricsFile
	}
	return flags
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(collectFlags(cmd))
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		return err
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("wmharvest starting")

	token, err := resolveToken(cfg)
	if err != nil {
		ui.PrintError("No Webmaster token found", err.Error())
		fmt.Println("\nTo store a token securely, run:")
		fmt.Println("  wmharvest auth login")
		fmt.Println("\nOr provide it through the environment:")
		fmt.Println("  export WMHARVEST_TOKEN=your_oauth_token")
		return err
	}

	rec, err := metrics.NewRecorder()
	if err != nil {
		return err
	}

	notifier := ui.NewNotifier(cfg.Notifications.Enabled)
	tracker := ui.NewStatusTracker(nil, notifier, cfg.Notifications.Enabled && cfg.Notifications.OnRateLimit)

	client := webmaster.NewClient(cfg.Webmaster, token, log)
	f := fetcher.New(client, newLimiter(cfg), clock.System{}, fetcher.Options{
		Quantum:        cfg.RateLimit.Quantum,
		Grace:          cfg.RateLimit.Grace,
		MaxWaits:       cfg.RateLimit.MaxWaits,
		RetryAttempts:  cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		Multiplier:     cfg.Retry.Multiplier,
		OnRateLimit: func(q fetcher.Query, wait time.Duration) {
			tracker.RateLimited(wait)
			rec.RateLimited(wait)
		},
		OnPage: func(q fetcher.Query, page fetcher.Page) {
			rec.PageFetched(q.Indicator, page.Failed)
		},
	}, log)

	store, err := storage.New(cfg, log)
	if err != nil {
		ui.PrintError("Failed to open dataset", err.Error())
		return err
	}
	defer store.Close()

	checkpoints := checkpoint.NewStore(cfg.Storage.CheckpointPath, log)
	if forceRestart {
		if err := checkpoints.Reset(); err != nil {
			ui.PrintError("Failed to clear checkpoints", err.Error())
			return err
		}
		ui.PrintWarning("Checkpoints cleared", cfg.Storage.CheckpointPath)
	}

	opts := harvester.OptionsFromConfig(cfg)
	h := harvester.New(opts, harvester.Deps{
		Directory:   client,
		Fetcher:     f,
		Checkpoints: checkpoints,
		Store:       store,
		Metrics:     rec,
		Reporter:    tracker,
		Logger:      log,
	})

	logger.LogComponentStart(log, "harvester", map[string]interface{}{
		"days":      opts.Days,
		"by_url":    opts.ByURL,
		"storage":   cfg.Storage.Type,
		"dataset":   cfg.StoragePath(),
		"hosts":     len(opts.Hosts),
		"regions":   opts.Regions.Column(),
		"page_size": opts.PageSize,
	})
	ui.PrintInfo("Dataset", cfg.StoragePath())
	ui.PrintInfo("Checkpoints", cfg.Storage.CheckpointPath)
	ui.PrintHighlight("[COLLECTING QUERY ANALYTICS]")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := h.Run(ctx)
	stop()

	tracker.PrintSummary()
	if res.RunFile != "" {
		ui.PrintInfo("Run file", res.RunFile)
	} else {
		ui.PrintWarning("Nothing to save")
	}
	if cfg.Notifications.Enabled && cfg.Notifications.OnComplete && runErr == nil {
		notifier.RunComplete(len(res.Records), res.RunFile)
	}

	if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		log.WithError(err).Warn("Failed to write metrics file")
	}

	switch {
	case runErr == nil:
		ui.PrintSuccess("[COLLECTION COMPLETED]")
		return nil
	case fetcher.IsCancelled(runErr):
		ui.PrintWarning("Collection interrupted, collected records were saved")
		return runErr
	case errs.IsType(runErr, errs.ErrorTypeAuth):
		ui.PrintError("Webmaster rejected the token", runErr.Error())
		if cfg.Notifications.Enabled {
			notifier.SendError("Collection failed", "the token was rejected")
		}
		fmt.Println("\nStore a fresh token with:")
		fmt.Println("  wmharvest auth login")
		return runErr
	default:
		ui.PrintError("COLLECTION FAILED", runErr.Error())
		if cfg.Notifications.Enabled {
			notifier.SendError("Collection failed", runErr.Error())
		}
		return runErr
	}
}

// resolveToken prefers an explicit token, then the configured or default stored account
func resolveToken(cfg *config.Config) (string, error) {
	if cfg.Webmaster.Token != "" {
		logger.GetLogger().Info("Using token from configuration")
		return cfg.Webmaster.Token, nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return "", fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	var account *auth.Account
	if cfg.Webmaster.Account != "" {
		account, err = manager.Retrieve(cfg.Webmaster.Account)
	} else {
		account, err = manager.RetrieveDefault()
	}
	if err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			return "", errs.Wrap(errs.ErrorTypeAuth, err, "no stored account")
		}
		return "", err
	}

	logger.GetLogger().WithField("account", account.Name).Info("Using stored token")
	ui.PrintInfo("Using account", account.Name)
	return account.Token, nil
}

// newLimiter paces requests and optionally enforces an hourly request budget
func newLimiter(cfg *config.Config) ratelimit.Limiter {
	var chain ratelimit.Chain
	if cfg.RateLimit.RequestInterval > 0 {
		chain = append(chain, ratelimit.NewInterval(cfg.RateLimit.RequestInterval, clock.System{}))
	}
	if cfg.RateLimit.RequestsPerHour > 0 {
		chain = append(chain, ratelimit.NewSlidingWindow(cfg.RateLimit.RequestsPerHour, time.Hour, clock.System{}))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}
