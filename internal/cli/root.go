// Package cli assembles the cobra command tree. This layer stays
// thin: flags are bound to a scanrun.Options here, and
// internal/scanrun owns everything after the flags are parsed.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/mesdx/filescan/internal/scanrun"
)

// NewRootCmd builds the filescan root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "filescan",
		Short:   "File-system indexer and search backend",
		Long:    "filescan walks a directory tree, extracts document metadata and thumbnails, and emits an NDJSON document stream plus a content-addressed blob store for bulk upload to a search engine.",
		Version: scanrun.Version,
	}

	root.AddCommand(newScanCmd())
	root.AddCommand(newIndexCmd())
	root.AddCommand(newWebCmd())
	root.AddCommand(newExecScriptCmd())

	return root
}
