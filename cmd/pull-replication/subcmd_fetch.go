package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"gitlab.com/gitlab-org/pull-replication/internal/config"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
	"gitlab.com/gitlab-org/pull-replication/internal/replication"
)

const fetchCmdName = "fetch"

type fetchSubcommand struct {
	w       io.Writer
	project string
	source  string
	refs    refsFlag
	timeout time.Duration
	delete  bool

	// newApp is replaced in tests.
	newApp func(config.Config) (*app, error)
}

func newFetchSubcommand(w io.Writer) *fetchSubcommand {
	return &fetchSubcommand{
		w: w,
		newApp: func(conf config.Config) (*app, error) {
			return newLocalApp(conf, logger)
		},
	}
}

func (s *fetchSubcommand) FlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(fetchCmdName, flag.ContinueOnError)
	fs.StringVar(&s.project, "project", "", "name of the project to replicate")
	fs.StringVar(&s.source, "source", "", "name of the configured source to fetch from")
	fs.Var(&s.refs, "ref", "refs to fetch, comma separated or repeated; all refs when omitted")
	fs.DurationVar(&s.timeout, "timeout", 0, "overrides the timeout of the source")
	fs.BoolVar(&s.delete, "delete", false, "delete the refs locally instead of fetching them")
	fs.Usage = func() {
		printfErr("Description:\n" +
			"	This command replicates refs of a project from a source and waits\n" +
			"	until they have been written locally.\n")
		fs.PrintDefaults()
	}
	return fs
}

func (s *fetchSubcommand) Exec(flags *flag.FlagSet, conf config.Config) error {
	if s.project == "" {
		return requiredFlagError("project")
	}
	if s.source == "" {
		return requiredFlagError("source")
	}

	refs := []git.ReferenceName(s.refs)
	if len(refs) == 0 {
		if s.delete {
			return requiredFlagError("ref")
		}
		refs = []git.ReferenceName{git.AllRefs}
	}

	a, err := s.newApp(conf)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	state, err := a.service.ScheduleFetch(ctx, replication.FetchRequest{
		Project:         s.project,
		Refs:            refs,
		Source:          s.source,
		Sync:            true,
		Delete:          s.delete,
		TimeoutOverride: s.timeout,
		Metrics:         replication.NewFetchMetrics(ctx),
	})
	if state != nil {
		printResults(s.w, state.Results())
	}
	if err != nil {
		return fmt.Errorf("%s: %w", fetchCmdName, err)
	}

	fmt.Fprintf(s.w, "%s: %s\n", s.project, state.Status())
	return nil
}

func printResults(w io.Writer, results []replication.RefResult) {
	if len(results) == 0 {
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Ref", "Outcome", "Status"})
	table.SetAutoFormatHeaders(false)
	for _, result := range results {
		table.Append([]string{result.Ref.String(), result.Outcome.String(), result.Status.String()})
	}
	table.Render()
}
