package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli"
	cmdCommon "github.com/warpdl/warpstream/cmd/common"
	"github.com/warpdl/warpstream/pkg/stream"
	"github.com/warpdl/warpstream/pkg/updater"
)

var (
	showCurrent bool

	checkFlags = []cli.Flag{
		cli.BoolFlag{
			Name:        "show-current, a",
			Usage:       "also list bundles that are up to date (default: false)",
			Destination: &showCurrent,
		},
	}
)

func check(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	s, err := openSession()
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "check", "open_session", err)
		return nil
	}
	defer s.close()
	s.start(context.Background())

	res, err := s.check(ctx.Args())
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "check", "check_version", err)
		return nil
	}
	fmt.Println(formatCheck(res, showCurrent))
	return nil
}

// check runs one version check over groups and waits for its result.
func (s *session) check(groups []string) (*updater.VersionCheckResult, error) {
	var res *updater.VersionCheckResult
	done := make(chan struct{})
	err := s.runner.Do(func(rt *stream.Runtime) error {
		_, err := rt.CheckVersion(groups, func(r *updater.VersionCheckResult) {
			res = r
			close(done)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.wait(done); err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res, nil
}

func formatCheck(res *updater.VersionCheckResult, all bool) string {
	if res.UpdateCount == 0 && !all {
		return "warpstream: every bundle is up to date"
	}
	txt := fmt.Sprintf("%d bundle(s) to download, %s in total:", res.UpdateCount, cmdCommon.Size(res.UpdateBytes))
	txt += "\n\n---------------------------------------------------------------"
	txt += "\n|          Bundle          |     State     |   Size    | Stale |"
	txt += "\n|--------------------------|---------------|-----------|-------|"
	var n int
	for _, info := range res.Infos {
		if !all && info.State != updater.NeedUpdate && !info.NeedRemove {
			continue
		}
		n++
		size := int64(-1)
		if info.Remote != nil {
			size = info.Remote.Size
		}
		stale := ""
		if info.NeedRemove {
			stale = "yes"
		}
		txt += fmt.Sprintf("\n| %s | %s | %s | %s |",
			cmdCommon.Fit(info.Name, 24),
			cmdCommon.Fit(info.State.String(), 13),
			cmdCommon.Fit(cmdCommon.Size(size), 9),
			cmdCommon.Fit(stale, 5),
		)
	}
	if n == 0 {
		return "warpstream: every bundle is up to date"
	}
	txt += "\n---------------------------------------------------------------"
	return txt
}
