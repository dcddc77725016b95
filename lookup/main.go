// Package lookup answers submitter and resource questions from the graph.
package lookup

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/learningregistry/lrgraph"
	"github.com/learningregistry/lrgraph/logger"
	"github.com/learningregistry/lrgraph/store"
	"github.com/pkg/errors"
)

// Main holds the options for a lookup. Exactly one of Res, Sub or the pair
// Sim1 and Sim2 must be set.
type Main struct {
	store.Config `flag:"!embed"`
	Res          string `help:"Resource locator to find the submitters of."`
	Sub          string `help:"Submitter to find the resources of. Quote names with spaces."`
	Sim1         string `help:"First submitter to compare. Needs sim2."`
	Sim2         string `help:"Second submitter to compare. Needs sim1."`
	Verbose      bool   `help:"Enable debug logging."`

	Log    lrgraph.Logger `flag:"-"`
	Stdout io.Writer      `flag:"-"`
}

// NewMain gets a Main with the default configuration.
func NewMain() *Main {
	return &Main{
		Config: store.DefaultConfig(),
		Stdout: os.Stdout,
	}
}

func (m *Main) validate() error {
	modes := 0
	if m.Res != "" {
		modes++
	}
	if m.Sub != "" {
		modes++
	}
	if m.Sim1 != "" || m.Sim2 != "" {
		if m.Sim1 == "" || m.Sim2 == "" {
			return errors.New("sim1 and sim2 must be given together")
		}
		modes++
	}
	switch modes {
	case 0:
		return errors.New("one of res, sub or sim1 and sim2 is required")
	case 1:
		return nil
	default:
		return errors.New("only one of res, sub or sim1 and sim2 may be given")
	}
}

// Run does the lookup and prints one identifier per line.
func (m *Main) Run(ctx context.Context) (err error) {
	if err := m.validate(); err != nil {
		return err
	}
	if m.Log == nil {
		l, err := logger.New(m.Verbose)
		if err != nil {
			return errors.Wrap(err, "getting logger")
		}
		defer l.Sync()
		m.Log = l.With("cmd", "lookup")
	}
	gs, err := store.Open(ctx, m.Config, store.OptLogger(m.Log))
	if err != nil {
		return errors.Wrap(err, "opening store")
	}
	defer func() {
		if cerr := gs.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "closing store")
		}
	}()
	q := lrgraph.NewQuerier(gs)

	switch {
	case m.Res != "":
		subs, err := q.ResourceSubmitters(ctx, m.Res)
		if err != nil {
			return err
		}
		return m.printLines(subs)
	case m.Sub != "":
		res, err := q.SubmitterResources(ctx, m.Sub)
		if err != nil {
			return err
		}
		return m.printLines(res)
	}
	cmp, err := q.Compare(ctx, m.Sim1, m.Sim2)
	if err != nil {
		return err
	}
	return m.printComparison(cmp)
}

func (m *Main) printComparison(cmp lrgraph.Comparison) error {
	if cmp.NoShared() {
		_, err := fmt.Fprintf(m.Stdout, "No shared submitted resources between %s and %s\n", cmp.First, cmp.Second)
		return err
	}
	if _, err := fmt.Fprintf(m.Stdout, "Submitter %s also submitted:\n", cmp.First); err != nil {
		return err
	}
	if err := m.printLines(cmp.FirstOnly); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(m.Stdout, "Submitter %s also submitted:\n", cmp.Second); err != nil {
		return err
	}
	return m.printLines(cmp.SecondOnly)
}

func (m *Main) printLines(lines []string) error {
	for _, l := range lines {
		if _, err := fmt.Fprintln(m.Stdout, l); err != nil {
			return errors.Wrap(err, "writing output")
		}
	}
	return nil
}
