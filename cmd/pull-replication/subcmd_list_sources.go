package main

import (
	"flag"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gitlab.com/gitlab-org/pull-replication/internal/config"
)

const listSourcesCmdName = "list-sources"

type listSourcesSubcommand struct {
	w io.Writer
}

func newListSourcesSubcommand(w io.Writer) *listSourcesSubcommand {
	return &listSourcesSubcommand{w: w}
}

func (s *listSourcesSubcommand) FlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(listSourcesCmdName, flag.ContinueOnError)
	fs.Usage = func() {
		printfErr("Description:\n" +
			"	This command prints the configured sources.\n")
		fs.PrintDefaults()
	}
	return fs
}

func (s *listSourcesSubcommand) Exec(flags *flag.FlagSet, conf config.Config) error {
	table := tablewriter.NewWriter(s.w)
	table.SetHeader([]string{"Name", "URL", "Connections", "Timeout", "Delay", "Retries", "Projects"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)

	for _, source := range conf.Sources {
		projects := "*"
		if len(source.Projects) > 0 {
			projects = strings.Join(source.Projects, ",")
		}

		table.Append([]string{
			source.Name,
			source.URL,
			strconv.Itoa(source.MaxConnections),
			source.Timeout.Duration().String(),
			source.ReplicationDelay.Duration().String(),
			strconv.Itoa(source.MaxRetries),
			projects,
		})
	}

	table.Render()
	return nil
}
