package cmd

import (
	"io"

	"github.com/jaffee/commandeer"
	"github.com/learningregistry/lrgraph/harvest"
	"github.com/spf13/cobra"
)

// PublishMain is wrapped by NewPublishCommand and only exported for testing
// purposes.
var PublishMain *harvest.PublishMain

// NewPublishCommand returns a new cobra command wrapping PublishMain.
func NewPublishCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	PublishMain = harvest.NewPublishMain()
	publishCommand := &cobra.Command{
		Use:   "publish",
		Short: "copy a data service feed onto a Kafka topic",
		Long: `Reads data service documents and publishes each one as a JSON message
on a Kafka topic, for "harvest --kafka-feed" to consume.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return PublishMain.Run(cmd.Context())
		},
	}
	flags := publishCommand.Flags()
	err := commandeer.Flags(flags, PublishMain)
	if err != nil {
		panic(err)
	}
	return publishCommand
}
