// Package harvester drives a collection run.
//
// A run resolves the token owner, picks the hosts to collect, and plans one
// window per entity key: the display host, or host plus page URL when URL
// granularity is enabled. Each window then moves through
//
//	CHECK_CHECKPOINT -> CHECK_COVERAGE -> FETCHING -> AGGREGATING -> MERGING -> CHECKPOINTING -> DONE
//
// ending in SKIPPED when either check shows the window was already collected.
// Windows are processed one after another. A window whose pages ran out of
// rate-limit waits keeps what it merged but gets no checkpoint.
//
// Usage:
//
//	h := harvester.New(harvester.OptionsFromConfig(cfg), harvester.Deps{
//	    Directory:   client,
//	    Fetcher:     f,
//	    Checkpoints: checkpoint.NewStore(cfg.Storage.CheckpointPath, log),
//	    Store:       store,
//	})
//	result, err := h.Run(ctx)
package harvester
