// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command xfs-rec runs the online repair engine against a volume
// described by a JSON image.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/xfs-progs-ng/lib/textui"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsmem"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
	"git.lukeshu.com/xfs-progs-ng/lib/xrep"
)

type volume struct {
	*xfsmem.Volume
	Mount *xrep.Mount
}

type subcommand struct {
	cobra.Command
	RunE func(*volume, *cobra.Command, []string) error
}

var inspectors, repairers []subcommand

// agFlag adds the --ag flag to cmd.
func agFlag(cmd *cobra.Command, agno *uint32) {
	cmd.Flags().Uint32Var(agno, "ag", 0, "operate on allocation group `agno`")
}

// globalFlags are the flags shared by every subcommand.
type globalFlags struct {
	logLevel   textui.LogLevelFlag
	image      string
	maxRetries int
}

func (f *globalFlags) register(cmd *cobra.Command) {
	f.logLevel.Level = dlog.LogLevelInfo
	cmd.PersistentFlags().Var(&f.logLevel, "verbosity", "set the verbosity")
	cmd.PersistentFlags().StringVar(&f.image, "image", "", "load the volume from the JSON file `volume.json`")
	if err := cmd.MarkPersistentFlagFilename("image"); err != nil {
		panic(err)
	}
	if err := cmd.MarkPersistentFlagRequired("image"); err != nil {
		panic(err)
	}
	cmd.PersistentFlags().IntVar(&f.maxRetries, "max-retries", xrep.DefaultConfig().MaxRetries,
		"give up on a repair after `n` retries")
}

// groupCommand returns a command that does nothing but hold
// subcommands.
func groupCommand(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " {[flags]|SUBCOMMAND}",
		Short: short,

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,
	}
}

// bind returns the cobra command for child, which sets up logging,
// loads the volume, and then calls child.RunE in a dgroup.
func (f *globalFlags) bind(child subcommand) *cobra.Command {
	cmd := child.Command
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		logger := textui.NewLogger(os.Stderr, f.logLevel.Level)
		ctx := dlog.WithLogger(cmd.Context(), logger)
		dlog.SetFallbackLogger(logger.WithField("xfs-progs.THIS_IS_A_BUG", true))

		grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
			EnableSignalHandling: true,
		})
		grp.Go("main", func(ctx context.Context) error {
			img, err := readJSONFile[xfsmem.Image](ctx, f.image)
			if err != nil {
				return err
			}
			vol, err := openVolume(ctx, img)
			if err != nil {
				return err
			}
			vol.Mount.Config.MaxRetries = f.maxRetries
			cmd.SetContext(ctx)
			return child.RunE(vol, cmd, args)
		})
		return grp.Wait()
	}
	return &cmd
}

func main() {
	var flags globalFlags

	argparser := groupCommand("xfs-rec", "Check and repair the group metadata of an xfs volume")
	argparser.SilenceErrors = true // main() will handle this after .ExecuteContext() returns
	argparser.SilenceUsage = true  // our FlagErrorFunc will handle it
	argparser.CompletionOptions.DisableDefaultCmd = true
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	flags.register(argparser)

	inspect := groupCommand("inspect", "Inspect (but don't modify) a volume")
	for _, child := range inspectors {
		inspect.AddCommand(flags.bind(child))
	}
	repair := groupCommand("repair", "Repair a volume")
	for _, child := range repairers {
		repair.AddCommand(flags.bind(child))
	}
	argparser.AddCommand(inspect, repair)

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}

func openVolume(ctx context.Context, img xfsmem.Image) (*volume, error) {
	vol, err := xfsmem.Build(ctx, img)
	if err != nil {
		return nil, err
	}
	return &volume{
		Volume: vol,
		Mount:  xrep.NewMount(vol.Geom, vol.Features, vol, vol.Groups(), vol.RTGroups()),
	}, nil
}

func (vol *volume) checkAG(agno uint32) (xfsprim.AGNumber, error) {
	if _, ok := vol.Group(xfsprim.AGNumber(agno)); !ok {
		return 0, fmt.Errorf("--ag=%d: no such allocation group", agno)
	}
	return xfsprim.AGNumber(agno), nil
}
