package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/goclaw/recall/pkg/memory"
)

// errEphemeralStore rejects queries that could never see stored records.
var errEphemeralStore = errors.New("query needs persistent storage; set storage.type to badger")

type queryOutput struct {
	Query   string                   `json:"query"`
	UserID  string                   `json:"user_id"`
	Results []memory.RerankedResult  `json:"results"`
	Metrics *memory.RetrievalMetrics `json:"metrics,omitempty"`
}

func queryCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	userID := c.String("user")

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Storage.Type != "badger" {
		return errEphemeralStore
	}
	// The hub is only used to read, so nothing is hydrated or snapshotted
	// beyond the requested user.
	cfg.Storage.HydrateOnStart = false
	cfg.Storage.SnapshotOnStop = false
	if cfg.Log.Output == "" || cfg.Log.Output == "stdout" {
		cfg.Log.Output = "stderr"
	}

	log := newLogger(cfg)
	defer log.Close()

	comp, err := buildComponents(cfg, log, nil)
	if err != nil {
		return err
	}
	defer comp.Close()

	n, err := comp.hydrateUser(c.Context, userID)
	if err != nil {
		return fmt.Errorf("failed to load records for %s: %w", userID, err)
	}
	log.Debug("Loaded records", "user_id", userID, "records", n)

	opts := cfg.Retrieval.DefaultRetrieveOptions()
	opts.ExpandQuery = c.Bool("expand")
	if c.Bool("no-rerank") {
		opts.UseReranker = false
	}

	results, metrics, err := comp.hub.Retrieve(c.Context, query, userID, c.Int("top-k"), opts)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}
	if results == nil {
		results = []memory.RerankedResult{}
	}

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(queryOutput{Query: query, UserID: userID, Results: results, Metrics: metrics})
	}
	printResults(c.App.Writer, results, metrics)
	return nil
}

func printResults(w io.Writer, results []memory.RerankedResult, metrics *memory.RetrievalMetrics) {
	bold := color.New(color.Bold).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	if len(results) == 0 {
		fmt.Fprintln(w, color.YellowString("no results"))
		return
	}

	for i, res := range results {
		fmt.Fprintf(w, "%s %s %s\n", bold(fmt.Sprintf("%2d.", i+1)), cyan(fmt.Sprintf("%.4f", res.Score)), faint(res.ID))
		fmt.Fprintf(w, "    %s\n", res.Record.Text)

		sources := make([]string, 0, len(res.SourceScores))
		for src := range res.SourceScores {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		parts := make([]string, len(sources))
		for j, src := range sources {
			parts[j] = fmt.Sprintf("%s=%.3f#%d", src, res.SourceScores[src], res.SourceRanks[src])
		}
		fmt.Fprintf(w, "    %s\n", faint(strings.Join(parts, " ")))
	}

	if metrics == nil {
		return
	}
	summary := fmt.Sprintf("%d results from %d fused candidates in %s", metrics.ResultCount, metrics.FusedCount, metrics.Latency.Total)
	if metrics.FallbackReranker {
		summary += ", fused order"
	}
	if metrics.QueryExpanded {
		summary += ", expanded to " + strconv.Quote(metrics.ExpandedQuery)
	}
	fmt.Fprintln(w, faint(summary))
	for src, msg := range metrics.SourceErrors {
		fmt.Fprintln(w, color.RedString("%s: %s", src, msg))
	}
}
