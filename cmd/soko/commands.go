package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/seanblong/soko/internal/app"
	"github.com/seanblong/soko/internal/auth"
	"github.com/seanblong/soko/internal/indexer"
	"github.com/spf13/cobra"
)

var (
	searchLimit int
	outputJSON  bool
	showSources bool
	watchDelay  time.Duration
	tokenTTL    time.Duration
	tokenScope  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Ingest files or directories",
	Long: `Loads every supported file under each path, splits it into chunks, embeds
the chunks and stores them. Files whose content has not changed since the
last ingestion are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var failed error
		for _, path := range args {
			rep, err := a.Ingest(cmd.Context(), path)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, rep.Reason)
			if err != nil {
				failed = errors.Join(failed, fmt.Errorf("%s: %w", path, err))
				continue
			}
			if rep.Total >= 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "  total chunks stored: %d\n", rep.Total)
			}
		}
		return failed
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the ingested documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ans, err := a.Ask(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd.OutOrStdout(), ans)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ans.Text)
		if ans.Cached {
			fmt.Fprintln(out, "(cached)")
		}
		if showSources {
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Sources:")
			for i, r := range ans.Results {
				fmt.Fprintf(out, "  [%d] %s #%d (%.4f)\n", i+1, r.Meta.DocID, r.Meta.ChunkIndex, r.Score)
			}
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search ingested documents",
	Long: `Performs hybrid search over all ingested chunks. Vector and BM25 keyword
scores are normalized and fused into one ranking.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Query(cmd.Context(), strings.Join(args, " "), searchLimit)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if outputJSON {
			return writeJSON(cmd.OutOrStdout(), results)
		}

		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(out, "No results found.")
			return nil
		}
		for i, r := range results {
			fmt.Fprintf(out, "[%d] %s #%d (%.4f)\n", i+1, r.Meta.DocID, r.Meta.ChunkIndex, r.Score)
			fmt.Fprintf(out, "    %s\n\n", preview(r.Text, 200))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what has been ingested",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd.OutOrStdout(), st)
		}
		printStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:       "reset [cache|index|registry|all]",
	Short:     "Clear stored state",
	Long:      `Clears the answer cache, the vector index (and the cache), the ingestion registry, or all of them.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"cache", "index", "registry", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := app.ParseTarget(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Reset(cmd.Context(), target); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reset %s: done\n", target)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Re-ingest a directory whenever it changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		w := &indexer.Watcher{Ingest: a.Ingest, Debounce: watchDelay}
		return w.Watch(ctx, args[0])
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token [subject]",
	Short: "Issue an API bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := auth.New(cfg.Auth.JwtSecret, true)
		if err != nil {
			return err
		}
		tok, err := a.IssueToken(args[0], tokenScope, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	askCmd.Flags().BoolVar(&showSources, "sources", false, "list the retrieved chunks")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (default topK)")
	for _, c := range []*cobra.Command{askCmd, searchCmd, statusCmd} {
		c.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	}
	watchCmd.Flags().DurationVar(&watchDelay, "debounce", indexer.DefaultDebounce, "quiet period before re-ingesting")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenTTL, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenScope, "scope", "", "optional scope claim")

	rootCmd.AddCommand(ingestCmd, askCmd, searchCmd, statusCmd, resetCmd, watchCmd, tokenCmd)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(w io.Writer, st app.Status) {
	if len(st.Directories) == 0 {
		fmt.Fprintln(w, "No directories have been ingested yet.")
	}
	for i, e := range st.Directories {
		files := make([]string, 0, len(e.Files))
		for name := range e.Files {
			files = append(files, name)
		}
		sort.Strings(files)

		fmt.Fprintf(w, " %d. %s\n", i+1, e.Path)
		fmt.Fprintf(w, "    Files ingested : %d\n", e.FileCount)
		fmt.Fprintf(w, "    Files          : %s\n", strings.Join(files, ", "))
		fmt.Fprintf(w, "    Chunks stored  : %d\n", e.ChunkCount)
		fmt.Fprintf(w, "    Last ingested  : %s\n", e.IngestedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if st.Stored >= 0 {
		fmt.Fprintf(w, "\nVector store: %d chunks\n", st.Stored)
	}
	if st.CacheSize >= 0 {
		fmt.Fprintf(w, "Answer cache: %d entries\n", st.CacheSize)
	}
}

// preview returns at most n runes of s on one line.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
