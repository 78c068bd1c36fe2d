package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var resetYes bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show chunk counts and indexed sources",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every chunk from the index",
	Long:  `Drops the parent and child collections and recreates them empty. This cannot be undone.`,
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "confirm deletion")
	rootCmd.AddCommand(statsCmd, resetCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ix, closeIndex, err := openIndex(ctx, cfg, newLogger(cmd), false)
	if err != nil {
		return err
	}
	defer closeIndex()

	st, err := ix.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, st)
	}
	cmd.Printf("Parents:  %d\n", st.ParentCount)
	cmd.Printf("Children: %d\n", st.ChildCount)
	cmd.Printf("Sources:  %d\n", st.UniqueSources.Count)
	for _, s := range st.UniqueSources.Sources {
		cmd.Printf("  - %s\n", s)
	}
	return nil
}

func runReset(cmd *cobra.Command, _ []string) error {
	if !resetYes {
		return errors.New("reset deletes all chunks; pass --yes to confirm")
	}
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ix, closeIndex, err := openIndex(ctx, cfg, newLogger(cmd), false)
	if err != nil {
		return err
	}
	defer closeIndex()

	if err := ix.Reset(ctx); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	cmd.Println("Index reset.")
	return nil
}
