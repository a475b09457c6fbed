package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marmos91/deckwatch/internal/cli/output"
	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/pkg/archive"
	"github.com/marmos91/deckwatch/pkg/config"
	"github.com/marmos91/deckwatch/pkg/runtime"
)

var (
	importSource  int
	inspectOutput string
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage offline archives",
}

var archiveImportCmd = &cobra.Command{
	Use:   "import <file.zip>",
	Short: "Copy a zip archive into a configured badger, s3 or sql archive",
	Long: `Copy every entry of a zip archive into one of the archive sources listed
in archives.sources. The target is chosen by its position in that list.

Examples:
  # Import into the first configured source
  deckwatch archive import usb-export.zip

  # Import into the third configured source
  deckwatch archive import usb-export.zip --source 2`,
	Args: cobra.ExactArgs(1),
	RunE: runArchiveImport,
}

var archiveInspectCmd = &cobra.Command{
	Use:   "inspect <file.zip>",
	Short: "Summarize the entries of a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveInspect,
}

func init() {
	archiveImportCmd.Flags().IntVar(&importSource, "source", 0, "Index of the target in archives.sources")
	archiveInspectCmd.Flags().StringVarP(&inspectOutput, "output", "o", "table", "Output format (table|json|yaml)")

	archiveCmd.AddCommand(archiveImportCmd)
	archiveCmd.AddCommand(archiveInspectCmd)
}

func runArchiveImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	sources := cfg.Archives.Sources
	if importSource < 0 || importSource >= len(sources) {
		return fmt.Errorf("--source %d out of range: %d archive sources configured", importSource, len(sources))
	}
	target := sources[importSource]
	if target.Type == config.ArchiveZip {
		return fmt.Errorf("archive source %d is a zip file and cannot be written", importSource)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := archive.OpenZip(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	opened, err := runtime.OpenArchive(ctx, target, true)
	if err != nil {
		return err
	}
	defer func() { _ = opened.Close() }()
	dst, ok := opened.(archive.Writer)
	if !ok {
		return fmt.Errorf("archive %s is read-only", opened.Name())
	}

	counts := make(map[archive.Kind]int)
	var total uint64
	err = src.Walk(ctx, func(kind archive.Kind, id uint32, data []byte) error {
		if err := dst.Store(ctx, kind, id, data); err != nil {
			return fmt.Errorf("store %s: %w", archive.EntryName(kind, id), err)
		}
		counts[kind]++
		total += uint64(len(data))
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("Archive imported", logger.KeyArchive, dst.Name(), logger.KeyPath, args[0])
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Imported %s into %s\n", args[0], dst.Name())
	return output.PrintTable(out, kindTable(counts, nil, total))
}

func runArchiveInspect(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(inspectOutput)
	if err != nil {
		return err
	}

	z, err := archive.OpenZip(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = z.Close() }()

	counts := make(map[archive.Kind]int)
	sizes := make(map[archive.Kind]uint64)
	var total uint64
	err = z.Walk(cmd.Context(), func(kind archive.Kind, _ uint32, data []byte) error {
		counts[kind]++
		sizes[kind] += uint64(len(data))
		total += uint64(len(data))
		return nil
	})
	if err != nil {
		return err
	}

	if format != output.FormatTable {
		type kindSummary struct {
			Entries int    `json:"entries" yaml:"entries"`
			Bytes   uint64 `json:"bytes" yaml:"bytes"`
		}
		summary := make(map[string]kindSummary, len(counts))
		for k, n := range counts {
			summary[string(k)] = kindSummary{Entries: n, Bytes: sizes[k]}
		}
		return output.Print(cmd.OutOrStdout(), format, summary)
	}
	return output.PrintTable(cmd.OutOrStdout(), kindTable(counts, sizes, total))
}

// kindTable summarizes entries per kind. sizes may be nil.
func kindTable(counts map[archive.Kind]int, sizes map[archive.Kind]uint64, total uint64) *output.Table {
	t := output.NewTable("Kind", "Entries", "Size")
	entries := 0
	for _, k := range archive.Kinds {
		size := "-"
		if sizes != nil {
			size = humanize.IBytes(sizes[k])
		}
		t.Add(k, counts[k], size)
		entries += counts[k]
	}
	t.Add("total", entries, humanize.IBytes(total))
	return t
}
