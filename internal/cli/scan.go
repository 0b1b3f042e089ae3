package cli

import (
	"fmt"
	"os"
	"regexp"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mesdx/filescan/internal/parsers"
	"github.com/mesdx/filescan/internal/scanrun"
	"github.com/mesdx/filescan/internal/stats"
)

type scanFlags struct {
	threads           int
	quality           float64
	size              int
	contentSize       int
	depth             int
	archive           string
	archivePassphrase string
	ocrLang           string
	ocrImages         bool
	ocrEbooks         bool
	exclude           string
	fast              bool
	treemapThreshold  float64
	memBufferMB       int
	readSubtitles     bool
	fastEPUB          bool
	checksums         bool
	listFile          string
	incremental       string
	output            string
	name              string
	rewriteURL        string
	verbose           bool
	veryVerbose       bool
	yes               bool
}

func newScanCmd() *cobra.Command {
	var f scanFlags

	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Scan a directory tree and build an index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return runScan(cmd, root, f)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&f.threads, "threads", 1, "number of parse worker threads")
	flags.Float64Var(&f.quality, "quality", 3.0, "thumbnail encode quality")
	flags.IntVar(&f.size, "size", 500, "thumbnail max dimension, pixels")
	flags.IntVar(&f.contentSize, "content-size", 32768, "max extracted content bytes per document")
	flags.IntVar(&f.depth, "depth", -1, "max recursion depth, -1 unlimited, 0 root only")
	flags.StringVar(&f.archive, "archive", "recurse", "archive handling: recurse, skip, list, or shallow")
	flags.StringVar(&f.archivePassphrase, "archive-passphrase", "", "passphrase for encrypted archives (recorded only; the built-in ZIP parser does not decrypt entries)")
	flags.StringVar(&f.ocrLang, "ocr-lang", "eng", "OCR language code(s)")
	flags.BoolVar(&f.ocrImages, "ocr-images", false, "run OCR over plain image files")
	flags.BoolVar(&f.ocrEbooks, "ocr-ebooks", false, "run OCR over ebook page images lacking a text layer")
	flags.StringVar(&f.exclude, "exclude", "", "regex of root-relative paths to exclude")
	flags.BoolVar(&f.fast, "fast", false, "skip content sniffing and text/markup parsing")
	flags.Float64Var(&f.treemapThreshold, "treemap-threshold", stats.DefaultTreemapThreshold, "min fraction of total size for a directory to appear in the treemap")
	flags.IntVar(&f.memBufferMB, "mem-buffer", 2000, "decode buffer cap per worker, MiB")
	flags.BoolVar(&f.readSubtitles, "read-subtitles", false, "extract embedded/sidecar subtitle tracks")
	flags.BoolVar(&f.fastEPUB, "fast-epub", false, "skip full-text extraction for EPUB, cover only")
	flags.BoolVar(&f.checksums, "checksums", false, "compute a SHA-1 checksum per file")
	flags.StringVar(&f.listFile, "list-file", "", "read paths from this file (or - for stdin) instead of walking a directory")
	flags.StringVar(&f.incremental, "incremental", "", "prior index directory to reuse unchanged entries from")
	flags.StringVar(&f.output, "output", "index.sist2/", "output index directory")
	flags.StringVar(&f.name, "name", "", "display name recorded in descriptor.json")
	flags.StringVar(&f.rewriteURL, "rewrite-url", "", "URL prefix rewrite recorded in descriptor.json")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&f.veryVerbose, "very-verbose", false, "enable debug logging, including per-job start lines")
	flags.BoolVarP(&f.yes, "yes", "y", false, "don't prompt for confirmation before overwriting an existing output directory")

	return cmd
}

func runScan(cmd *cobra.Command, root string, f scanFlags) error {
	mode, err := parseArchiveMode(f.archive)
	if err != nil {
		return err
	}

	var excludeRe *regexp.Regexp
	if f.exclude != "" {
		excludeRe, err = regexp.Compile(f.exclude)
		if err != nil {
			return fmt.Errorf("--exclude: %w", err)
		}
	}

	if err := confirmOverwrite(f.output, f.yes); err != nil {
		return err
	}

	opts := scanrun.Options{
		Root:              root,
		Output:            f.output,
		Name:              f.name,
		RewriteURL:        f.rewriteURL,
		Threads:           f.threads,
		Depth:             f.depth,
		ExcludeRe:         excludeRe,
		Quality:           f.quality,
		ThumbnailSize:     f.size,
		ContentSize:       f.contentSize,
		ArchiveMode:       mode,
		ArchivePassphrase: f.archivePassphrase,
		OCRLang:           f.ocrLang,
		OCRImages:         f.ocrImages,
		OCREbooks:         f.ocrEbooks,
		ReadSubtitles:     f.readSubtitles,
		FastEPUB:          f.fastEPUB,
		MemBufferBytes:    int64(f.memBufferMB) * 1024 * 1024,
		Fast:              f.fast,
		Checksums:         f.checksums,
		Verbose:           f.verbose,
		VeryVerbose:       f.veryVerbose,
		TreemapThreshold:  f.treemapThreshold,
		ListFile:          f.listFile,
		Incremental:       f.incremental,
	}

	result, err := scanrun.RunScan(opts)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	cmd.Printf("emitted=%d skipped=%d excluded=%d failed=%d total_size=%d\n",
		result.Emitted, result.Skipped, result.Excluded, result.Failed, result.TotalSize)
	return nil
}

func parseArchiveMode(s string) (parsers.ArchiveMode, error) {
	switch s {
	case "recurse":
		return parsers.ArchiveRecurse, nil
	case "skip":
		return parsers.ArchiveSkip, nil
	case "list":
		return parsers.ArchiveList, nil
	case "shallow":
		return parsers.ArchiveShallow, nil
	default:
		return 0, fmt.Errorf("--archive: unknown mode %q (want recurse, skip, list, or shallow)", s)
	}
}

// confirmOverwrite prompts interactively before a scan would overwrite
// an existing output directory's descriptor, unless --yes was passed
// or the run is non-interactive (no flag, stdout not a terminal).
func confirmOverwrite(output string, yes bool) error {
	if yes {
		return nil
	}
	if _, err := os.Stat(output); os.IsNotExist(err) {
		return nil
	}
	if !isTerminal(os.Stdout) {
		return nil
	}

	proceed := true
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s already exists", output)).
				Description("Continuing will overwrite its descriptor and stores.").
				Value(&proceed),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}
	if !proceed {
		return fmt.Errorf("aborted: output directory already exists")
	}
	return nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
