package cmd

import (
	"io"

	"github.com/jaffee/commandeer"
	"github.com/learningregistry/lrgraph/lookup"
	"github.com/spf13/cobra"
)

// LookupMain is wrapped by NewLookupCommand and only exported for testing
// purposes.
var LookupMain *lookup.Main

// NewLookupCommand returns a new cobra command wrapping LookupMain.
func NewLookupCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	LookupMain = lookup.NewMain()
	LookupMain.Stdout = stdout
	lookupCommand := &cobra.Command{
		Use:   "lookup",
		Short: "find who submitted what",
		Long: `Prints the submitters of a resource (--res), the resources of a
submitter (--sub), or for two submitters (--sim1 and --sim2) the
resources each submitted that the other didn't, if they share any.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return LookupMain.Run(cmd.Context())
		},
	}
	flags := lookupCommand.Flags()
	err := commandeer.Flags(flags, LookupMain)
	if err != nil {
		panic(err)
	}
	return lookupCommand
}
