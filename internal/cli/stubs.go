package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newIndexCmd, newWebCmd, and newExecScriptCmd register the three
// sub-commands handled by external collaborators (bulk upload to a
// search engine, the HTTP UI, user-script execution). They stay thin
// stubs rather than growing a parallel argument-parsing layer for
// functionality this binary doesn't ship.

func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "index [index-dir]",
		Short:        "Bulk-upload an index to a search engine (not implemented in this build)",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE:         notImplemented("index"),
	}
}

func newWebCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "web [index-dir]",
		Short:        "Serve the HTTP search UI (not implemented in this build)",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE:         notImplemented("web"),
	}
}

func newExecScriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "exec-script [script]",
		Short:        "Run a user script against an index (not implemented in this build)",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE:         notImplemented("exec-script"),
	}
}

func notImplemented(name string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("%s: not implemented in this build", name)
	}
}
