package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nevindra/chunkindex"
)

var (
	searchMode      string
	searchK         int
	searchFetchK    int
	searchLambda    float32
	searchThreshold float32
	searchSource    string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index for parent chunks",
	Long: `Ranks child chunks against the query and returns their parent chunks,
each parent at most once. Modes: similarity, mmr (diversity re-ranking) and
threshold (minimum cosine score).`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from indexed documents",
	Long: `Retrieves parent chunks for the question and asks the configured LLM to
answer from them. Prints the answer followed by its sources.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, askCmd} {
		c.Flags().StringVarP(&searchMode, "mode", "m", "", "similarity, mmr or threshold (default from config)")
		c.Flags().IntVarP(&searchK, "k", "k", 0, "number of parents to return (default from config)")
		c.Flags().IntVar(&searchFetchK, "fetch-k", 0, "children fetched before mmr or threshold filtering")
		c.Flags().Float32Var(&searchLambda, "lambda", 0, "mmr relevance weight in [0, 1]")
		c.Flags().Float32Var(&searchThreshold, "threshold", 0, "minimum score for threshold mode")
		c.Flags().StringVar(&searchSource, "source", "", "only search chunks from this source")
		rootCmd.AddCommand(c)
	}
}

func searchOptions(cmd *cobra.Command) (chunkindex.SearchOptions, error) {
	opts := chunkindex.SearchOptions{
		K:      searchK,
		FetchK: searchFetchK,
		Source: searchSource,
	}
	if cmd.Flags().Changed("lambda") {
		opts.LambdaMult = chunkindex.Float32(searchLambda)
	}
	if cmd.Flags().Changed("threshold") {
		opts.ScoreThreshold = chunkindex.Float32(searchThreshold)
	}
	if searchMode != "" {
		mode, ok := chunkindex.ParseSearchMode(searchMode)
		if !ok {
			return opts, fmt.Errorf("unknown search mode %q", searchMode)
		}
		opts.Mode = mode
	}
	return opts, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	opts, err := searchOptions(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ix, closeIndex, err := openIndex(ctx, cfg, newLogger(cmd), false)
	if err != nil {
		return err
	}
	defer closeIndex()

	results, err := ix.Search(ctx, args[0], opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, results)
	}
	printResults(cmd, results)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	opts, err := searchOptions(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ix, closeIndex, err := openIndex(ctx, cfg, newLogger(cmd), true)
	if err != nil {
		return err
	}
	defer closeIndex()

	ans, err := ix.Ask(ctx, args[0], opts)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, ans)
	}
	cmd.Println(strings.TrimSpace(ans.Text))
	if len(ans.Sources) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for _, r := range ans.Sources {
			cmd.Printf("  - %s\n", chunkindex.FormatSource(r))
		}
	}
	return nil
}

func printResults(cmd *cobra.Command, results []chunkindex.RetrievalResult) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return
	}
	for i, r := range results {
		cmd.Printf("[%d] %s\n", i+1, chunkindex.FormatSource(r))
		cmd.Printf("    %s\n\n", snippet(r.Parent.Text, 200))
	}
}

// snippet flattens whitespace and cuts text to at most n runes.
func snippet(text string, n int) string {
	s := strings.Join(strings.Fields(text), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
