package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"gitlab.com/gitlab-org/pull-replication/internal/config"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
)

const deleteRefCmdName = "delete-ref"

type deleteRefSubcommand struct {
	w       io.Writer
	project string
	source  string
	ref     string

	newApp func(config.Config) (*app, error)
}

func newDeleteRefSubcommand(w io.Writer) *deleteRefSubcommand {
	return &deleteRefSubcommand{
		w: w,
		newApp: func(conf config.Config) (*app, error) {
			return newLocalApp(conf, logger)
		},
	}
}

func (s *deleteRefSubcommand) FlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(deleteRefCmdName, flag.ContinueOnError)
	fs.StringVar(&s.project, "project", "", "name of the project")
	fs.StringVar(&s.source, "source", "", "name of the source the deletion originates from")
	fs.StringVar(&s.ref, "ref", "", "fully qualified name of the ref to delete")
	fs.Usage = func() {
		printfErr("Description:\n" +
			"	This command deletes a ref from the local repository of a project.\n")
		fs.PrintDefaults()
	}
	return fs
}

func (s *deleteRefSubcommand) Exec(flags *flag.FlagSet, conf config.Config) error {
	switch {
	case s.project == "":
		return requiredFlagError("project")
	case s.source == "":
		return requiredFlagError("source")
	case s.ref == "":
		return requiredFlagError("ref")
	}

	a, err := s.newApp(conf)
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := a.service.DeleteRef(context.Background(), s.project, git.ReferenceName(s.ref), s.source)
	if err != nil {
		return fmt.Errorf("%s: %w", deleteRefCmdName, err)
	}

	fmt.Fprintf(s.w, "%s %s: %s\n", s.project, s.ref, outcome)
	return nil
}
