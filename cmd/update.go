package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	cmdCommon "github.com/warpdl/warpstream/cmd/common"
	"github.com/warpdl/warpstream/pkg/stream"
	"github.com/warpdl/warpstream/pkg/updater"
)

var (
	resumePaused bool

	updateFlags = []cli.Flag{
		cli.BoolFlag{
			Name:        "resume, R",
			Usage:       "retry the failed bundles of paused groups (default: false)",
			Destination: &resumePaused,
		},
	}
)

func update(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	s, err := openSession()
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "update", "open_session", err)
		return nil
	}
	defer s.close()
	s.start(context.Background())

	res, err := s.check(ctx.Args())
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "update", "check_version", err)
		return nil
	}
	if len(res.Updaters) == 0 {
		fmt.Println("warpstream: every bundle is up to date")
		return nil
	}
	fmt.Printf("%s: downloading %d bundle(s), %s in total\n", ctx.App.HelpName, res.UpdateCount, cmdCommon.Size(res.UpdateBytes))

	failed, err := s.download(groupsOf(res.Updaters))
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "update", "download", err)
		return nil
	}
	for _, info := range failed {
		fmt.Printf("%s: %s: %v\n", ctx.App.HelpName, info.Identity(), info.Err)
	}
	if len(failed) > 0 {
		fmt.Printf("%s: run %q to retry\n", ctx.App.HelpName, ctx.App.HelpName+" update --resume")
	}
	return nil
}

func groupsOf(us []*updater.GroupUpdater) []string {
	out := make([]string, 0, len(us))
	for _, u := range us {
		out = append(out, u.Group)
	}
	return out
}

// download starts the updaters of groups, draws one bar per group and waits
// until every group settles. It returns the bundles that failed.
func (s *session) download(groups []string) ([]*updater.UpdateInfo, error) {
	p := mpb.New(mpb.WithWidth(48), mpb.WithRefreshRate(150*time.Millisecond))
	bars := make(map[string]*mpb.Bar, len(groups))
	var failed []*updater.UpdateInfo

	err := s.runner.Do(func(rt *stream.Runtime) error {
		onDone := func(info *updater.UpdateInfo) {
			if info.Err != nil {
				failed = append(failed, info)
			}
		}
		for _, g := range groups {
			u, ok := rt.Updater(g)
			if !ok {
				continue
			}
			var err error
			if u.State() == updater.UpdaterPaused && resumePaused {
				_, err = rt.Resume(g, false, onDone)
			} else {
				_, err = rt.Update(g, false, onDone)
			}
			if errors.Is(err, updater.ErrPaused) {
				continue
			}
			if err != nil {
				return fmt.Errorf("%s: %w", g, err)
			}
			bars[g] = cmdCommon.InitGroupBar(p, g, u.TotalBytes(), u.DownloadedBytes())
		}
		return nil
	})
	if err != nil {
		p.Shutdown()
		return nil, err
	}

	deadline := time.Now().Add(waitTimeout)
	for {
		var busy bool
		_ = s.runner.Do(func(rt *stream.Runtime) error {
			busy = rt.Busy()
			for g, bar := range bars {
				u, _ := rt.Updater(g)
				bar.SetCurrent(u.DownloadedBytes())
				if busy {
					continue
				}
				if u.State() == updater.UpdaterPaused {
					bar.Abort(false)
				} else {
					bar.SetTotal(-1, true)
				}
			}
			return nil
		})
		if !busy {
			break
		}
		if time.Now().After(deadline) {
			p.Shutdown()
			return failed, fmt.Errorf("gave up after %s", waitTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
	p.Wait()
	return failed, nil
}
