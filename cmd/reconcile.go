package cmd

import (
	"io"

	"github.com/jaffee/commandeer"
	"github.com/learningregistry/lrgraph/taxonomy"
	"github.com/spf13/cobra"
)

// ReconcileMain is wrapped by NewReconcileCommand and only exported for
// testing purposes.
var ReconcileMain *taxonomy.Main

// NewReconcileCommand returns a new cobra command wrapping ReconcileMain.
func NewReconcileCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	ReconcileMain = taxonomy.NewMain()
	reconcileCommand := &cobra.Command{
		Use:   "reconcile",
		Short: "link synonymous standard identifiers",
		Long: `Loads the reference table of dot notation, URI and GUID identifiers
for each standard and links them with sameAs relationships, then links
matching nodes of the subject taxonomies to them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ReconcileMain.Run(cmd.Context())
		},
	}
	flags := reconcileCommand.Flags()
	err := commandeer.Flags(flags, ReconcileMain)
	if err != nil {
		panic(err)
	}
	return reconcileCommand
}
