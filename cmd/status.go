package cmd

import (
	"fmt"

	"github.com/urfave/cli"
	cmdCommon "github.com/warpdl/warpstream/cmd/common"
	"github.com/warpdl/warpstream/pkg/graph"
	"github.com/warpdl/warpstream/pkg/stream"
)

var (
	filterGroup string

	statusFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "group, g",
			Usage:       "only list bundles of this group",
			Destination: &filterGroup,
		},
	}
)

func status(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	s, err := openSession()
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "status", "open_session", err)
		return nil
	}
	defer s.close()

	var txt string
	_ = s.runner.Do(func(rt *stream.Runtime) error {
		txt = formatCatalog(rt.Graph().Catalog(), filterGroup)
		return nil
	})
	fmt.Println(txt)
	return nil
}

func formatCatalog(c *graph.Catalog, group string) string {
	fback := "warpstream: no bundles found"
	if c.Len() == 0 {
		return fback
	}
	txt := "Here are your bundles:"
	txt += "\n\n--------------------------------------------------------------------------"
	txt += "\n|Num|          Bundle          |   Group    |   Region   |   Size    | Hash |"
	txt += "\n|---|--------------------------|------------|------------|-----------|------|"
	var i int
	for _, id := range c.Identities() {
		e, _ := c.Bundle(id)
		if group != "" && e.Bundle.Group != group {
			continue
		}
		i++
		hash := e.Bundle.Hash
		if len(hash) > 4 {
			hash = hash[:4]
		}
		txt += fmt.Sprintf("\n| %d | %s | %s | %s | %s | %s |",
			i,
			cmdCommon.Fit(id, 24),
			cmdCommon.Fit(e.Bundle.Group, 10),
			cmdCommon.Fit(e.Region.String(), 10),
			cmdCommon.Fit(cmdCommon.Size(e.Bundle.Size), 9),
			cmdCommon.Fit(hash, 4),
		)
	}
	if i == 0 {
		return fback
	}
	txt += "\n--------------------------------------------------------------------------"
	return txt
}
