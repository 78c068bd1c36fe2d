package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nevindra/chunkindex"
)

var (
	ingestWorkers int
	ingestReplace bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path|url>...",
	Short: "Add documents to the index",
	Long: `Loads files (PDF, Markdown, HTML, plain text), directories of such files,
or http(s) URLs, splits them into parent and child chunks, and stores them.
Re-ingesting a source replaces its previous chunks unless --replace=false.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVarP(&ingestWorkers, "workers", "w", 0, "documents ingested in parallel (default from config)")
	ingestCmd.Flags().BoolVar(&ingestReplace, "replace", true, "delete a source's previous chunks before re-ingesting it")
	rootCmd.AddCommand(ingestCmd)
}

// ingestable lists the extensions picked up when walking a directory.
var ingestable = map[string]bool{
	".txt": true, ".md": true, ".markdown": true,
	".html": true, ".htm": true, ".pdf": true,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := newLogger(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if ingestWorkers > 0 {
		cfg.Ingest.Workers = ingestWorkers
	}
	if cmd.Flags().Changed("replace") {
		cfg.Ingest.ReplaceSource = ingestReplace
	}

	var urls, paths []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
			urls = append(urls, arg)
			continue
		}
		found, err := expandPath(arg)
		if err != nil {
			return err
		}
		paths = append(paths, found...)
	}

	ix, closeIndex, err := openIndex(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer closeIndex()

	results, err := ix.IngestFiles(ctx, paths)
	for _, u := range urls {
		if err != nil {
			break
		}
		var res chunkindex.IngestResult
		res, err = ix.IngestURL(ctx, u)
		if err == nil {
			results = append(results, res)
		}
	}

	if jsonOutput {
		data, merr := json.MarshalIndent(results, "", "  ")
		if merr != nil {
			return fmt.Errorf("marshal results: %w", merr)
		}
		cmd.Println(string(data))
	} else {
		for _, r := range results {
			if r.RunID == "" && r.ParentCount == 0 {
				continue
			}
			cmd.Printf("%s: %d parents, %d children\n", r.Source, r.ParentCount, r.ChildCount)
		}
	}
	if err != nil {
		return fmt.Errorf("ingest failed: %s", describeError(err))
	}
	return nil
}

// expandPath returns path itself, or the ingestable files under it when it
// is a directory.
func expandPath(path string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if p == path || ingestable[strings.ToLower(filepath.Ext(p))] {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}
