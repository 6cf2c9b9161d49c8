package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/search"
	"github.com/lazypower/recall/internal/store"
)

var (
	searchLimit   int
	searchMode    string
	searchType    string
	searchProject string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search stored memories",
	Long:  "Search memories with hybrid lexical + vector retrieval. Use --mode to restrict to one path.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results")
	searchCmd.Flags().StringVar(&searchMode, "mode", "hybrid", "Retrieval mode: hybrid, lexical, vector")
	searchCmd.Flags().StringVarP(&searchType, "type", "t", "", "Filter by memory type")
	searchCmd.Flags().StringVarP(&searchProject, "project", "p", "", "Filter by project (global memories included)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	eng := search.New(db, cfg.Search)

	// The CLI stays offline: build the TF-IDF embedder from the stored
	// corpus rather than probing a model server.
	if searchMode != string(search.ModeLexical) {
		emb, err := search.NewTFIDFEmbedder(db, 512)
		if err != nil {
			return fmt.Errorf("create embedder: %w", err)
		}
		eng.SetEmbedder(emb)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := eng.Search(ctx, query, search.Options{
		Mode:  search.Mode(searchMode),
		Limit: searchLimit,
		Filter: store.Filter{
			Type:          searchType,
			Project:       searchProject,
			IncludeGlobal: searchProject != "",
		},
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. [%.4f] %s (%s, %s)\n", i+1, r.Score, r.Record.MemoryID, r.Record.Type, r.Record.Tier)
		text := r.Record.Summary
		if text == "" {
			text = r.Record.Content
		}
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		fmt.Printf("   %s\n", text)
		fmt.Printf("   via %s\n", strings.Join(r.Sources, "+"))
		fmt.Println()
	}
	return nil
}
