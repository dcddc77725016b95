package cmd

import (
	"io"

	"github.com/jaffee/commandeer"
	"github.com/learningregistry/lrgraph/harvest"
	"github.com/spf13/cobra"
)

// HarvestMain is wrapped by NewHarvestCommand and only exported for testing
// purposes.
var HarvestMain *harvest.Main

// NewHarvestCommand returns a new cobra command wrapping HarvestMain.
func NewHarvestCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	HarvestMain = harvest.NewMain()
	harvestCommand := &cobra.Command{
		Use:   "harvest",
		Short: "harvest conformance and paradata feeds into the graph",
		Long: `Reads the conformance and paradata feeds of a Learning Registry data
service (or saved copies of them, or documents consumed from Kafka) and
writes resources, standards, submitters and their relationships to the
graph store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return HarvestMain.Run(cmd.Context())
		},
	}
	flags := harvestCommand.Flags()
	err := commandeer.Flags(flags, HarvestMain)
	if err != nil {
		panic(err)
	}
	return harvestCommand
}
