package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"listing_canon/models"
)

var (
	inputDir string
	urlsFile string
	dryRun   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one batch of pages and exit",
	Long: `Run processes a single batch:
- saved pages from a directory (NNNN_raw.html + NNNN_meta.json), or
- live pages listed one URL per line in a file.

Example:
  listing_canon run --input ./raw/detail
  listing_canon run --urls urls.txt --workers 2
  listing_canon run --input ./raw/detail --dry-run`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&inputDir, "input", "", "directory of saved pages (default $INPUT_DIR)")
	runCmd.Flags().StringVar(&urlsFile, "urls", "", "file with one page URL per line")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "keep output in memory and print it instead of writing to the database")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, dryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	var run *models.BatchRun
	switch {
	case urlsFile != "":
		refs, rerr := readURLs(urlsFile)
		if rerr != nil {
			return rerr
		}
		run, err = a.orchestrator.RunBatch(ctx, urlsFile, refs)
	default:
		dir := inputDir
		if dir == "" {
			dir = a.cfg.InputDir
		}
		if dir == "" {
			return fmt.Errorf("no input: pass --input or --urls, or set INPUT_DIR")
		}
		run, err = a.orchestrator.RunDir(ctx, dir)
	}

	if run != nil {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Batch %s %s: %d pages, %d accepted, %d rejected, %d possible duplicates, %d fetch errors\n",
			run.RunUUID, run.Status, run.PagesSeen, run.Accepted, run.Rejected, run.Duplicates, run.FetchErrors)
		if a.memory != nil {
			if derr := dumpMemory(out, a); derr != nil {
				return derr
			}
		}
	}
	return err
}

func readURLs(path string) ([]models.PageRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var refs []models.PageRef
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, models.PageRef{URL: line})
	}
	return refs, scanner.Err()
}

// dumpMemory prints every table group and rejection as JSON lines.
func dumpMemory(w io.Writer, a *app) error {
	enc := json.NewEncoder(w)
	for _, g := range a.memory.Groups() {
		if err := enc.Encode(g); err != nil {
			return err
		}
	}
	for _, r := range a.memory.Rejections() {
		if err := enc.Encode(map[string]any{"rejection": r}); err != nil {
			return err
		}
	}
	return nil
}
