// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/xfs-progs-ng/lib/containers"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsag"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbtree"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
	"git.lukeshu.com/xfs-progs-ng/lib/xrep"
)

type rootReport struct {
	Tree   xfsbtree.Type
	Root   containers.Optional[xfsprim.AGBlock]
	Height uint32
	Blocks xfsprim.Extlen
}

func init() {
	var agno uint32
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "find-roots",
			Short: "Search the reverse mappings of one group for the roots of its trees",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(vol *volume, cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ag, err := vol.checkAG(agno)
			if err != nil {
				return err
			}
			tp, err := vol.AllocTrans(ctx, 0)
			if err != nil {
				return err
			}
			sc := &xrep.Scrub{
				Mount: vol.Mount,
				Type:  xrep.TypeAGF,
				AGNo:  ag,
				Tp:    tp,
			}
			defer func() {
				sc.SA.Release(vol.Mount.Svc, sc.Tp)
				sc.Tp.Cancel(ctx)
			}()
			if err := xrep.InitAG(ctx, sc, nil, nil); err != nil {
				return err
			}
			agflBuf, err := tp.ReadBuf(ctx, vol.Geom.FSBlock(ag, xfsag.AGFLBlock), xfsag.AGFLOps, 0)
			if err != nil {
				return err
			}

			typs := append(xrep.AGFTrees(vol.Features), xrep.AGITrees(vol.Features)...)
			dlog.Debugf(ctx, "searching for %v", typs)
			found, err := xrep.FindAGBtreeRoots(ctx, sc, sc.SA.AGF, xrep.RootDescs(typs), agflBuf)
			tp.Brelse(agflBuf)
			if err != nil {
				return err
			}

			ret := make([]rootReport, len(typs))
			for i, typ := range typs {
				ret[i] = rootReport{
					Tree:   typ,
					Height: found[i].Height,
					Blocks: found[i].Blocks,
				}
				if found[i].Found() {
					ret[i].Root = containers.OptionalValue(found[i].Root)
				}
			}
			return writeJSON(os.Stdout, ret)
		},
	}
	agFlag(&cmd.Command, &agno)
	inspectors = append(inspectors, cmd)
}
