package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"gitlab.com/gitlab-org/pull-replication/internal/config"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
)

type subcmd interface {
	FlagSet() *flag.FlagSet
	Exec(flags *flag.FlagSet, config config.Config) error
}

var subcommands = map[string]subcmd{
	fetchCmdName:       newFetchSubcommand(os.Stdout),
	deleteRefCmdName:   newDeleteRefSubcommand(os.Stdout),
	listSourcesCmdName: newListSourcesSubcommand(os.Stdout),
	checkHealthCmdName: newCheckHealthSubcommand(os.Stdout),
}

// subCommand returns an exit code, to be fed into os.Exit.
func subCommand(conf config.Config, arg0 string, argRest []string) int {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		<-interrupt
		os.Exit(130) // indicates program was interrupted
	}()

	subcmd, ok := subcommands[arg0]
	if !ok {
		printfErr("%s: unknown subcommand: %q\n", progname, arg0)
		return 1
	}

	flags := subcmd.FlagSet()

	if err := flags.Parse(argRest); err != nil {
		printfErr("%s\n", err)
		return 1
	}

	if err := subcmd.Exec(flags, conf); err != nil {
		printfErr("%s\n", err)
		return 1
	}

	return 0
}

// refsFlag collects refs given as a comma separated list or by repeating
// the flag.
type refsFlag []git.ReferenceName

func (r *refsFlag) String() string {
	refs := make([]string, len(*r))
	for i, ref := range *r {
		refs[i] = ref.String()
	}
	return strings.Join(refs, ",")
}

func (r *refsFlag) Set(value string) error {
	for _, ref := range strings.Split(value, ",") {
		if ref = strings.TrimSpace(ref); ref != "" {
			*r = append(*r, git.ReferenceName(ref))
		}
	}
	return nil
}

type requiredFlagError string

func (e requiredFlagError) Error() string {
	return fmt.Sprintf("%q is a required parameter", string(e))
}
