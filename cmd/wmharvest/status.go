package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"wmharvest/pkg/checkpoint"
	"wmharvest/pkg/logger"
	"wmharvest/pkg/model"
	"wmharvest/pkg/storage"
	"wmharvest/pkg/ui"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what has been collected so far",
	Long: `Show per entity key the latest checkpointed window and the records held in
the dataset.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// keyStatus summarizes one entity key
type keyStatus struct {
	EntityKey  string
	LastWindow string
	Regions    string
	Windows    int
	Records    int
	FirstDate  string
	LastDate   string
}

// summarize joins checkpoints and dataset records by entity key
func summarize(rows []checkpoint.Row, records []model.StatRecord) []keyStatus {
	byKey := make(map[string]*keyStatus)
	get := func(key string) *keyStatus {
		s, ok := byKey[key]
		if !ok {
			s = &keyStatus{EntityKey: key}
			byKey[key] = s
		}
		return s
	}

	// rows are sorted by window start, the last one per key wins
	for _, row := range rows {
		s := get(row.EntityKey)
		s.Windows++
		s.LastWindow = row.DateFrom + ".." + row.DateTo
		s.Regions = row.RegionIDs.Column()
	}

	for _, r := range records {
		s := get(r.EntityKey)
		s.Records++
		if s.FirstDate == "" || r.Date < s.FirstDate {
			s.FirstDate = r.Date
		}
		if r.Date > s.LastDate {
			s.LastDate = r.Date
		}
	}

	out := make([]keyStatus, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityKey < out[j].EntityKey })
	return out
}

// renderStatus prints the summary as a table
func renderStatus(w io.Writer, statuses []keyStatus) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Entity key", "Last window", "Regions", "Windows", "Records", "Dates"})

	total := 0
	for _, s := range statuses {
		lastWindow := s.LastWindow
		if lastWindow == "" {
			lastWindow = "-"
		}
		dates := "-"
		if s.FirstDate != "" {
			dates = s.FirstDate + ".." + s.LastDate
		}
		tbl.AppendRow(table.Row{
			s.EntityKey,
			lastWindow,
			s.Regions,
			s.Windows,
			humanize.Comma(int64(s.Records)),
			dates,
		})
		total += s.Records
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("%d keys", len(statuses)), "", "", "", humanize.Comma(int64(total)), ""})
	tbl.Render()
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		return err
	}
	log := logger.GetLogger()

	store, err := storage.New(cfg, log)
	if err != nil {
		ui.PrintError("Failed to open dataset", err.Error())
		return err
	}
	defer store.Close()

	rows := checkpoint.NewStore(cfg.Storage.CheckpointPath, log).All()
	records := store.LoadAll(context.Background())

	ui.PrintInfo("Dataset", cfg.StoragePath())
	ui.PrintInfo("Checkpoints", cfg.Storage.CheckpointPath)

	statuses := summarize(rows, records)
	if len(statuses) == 0 {
		ui.PrintWarning("Nothing collected yet, run 'wmharvest collect'")
		return nil
	}
	renderStatus(ui.Output, statuses)
	return nil
}
