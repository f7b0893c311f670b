package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli"
	cmdCommon "github.com/warpdl/warpstream/cmd/common"
	"github.com/warpdl/warpstream/pkg/stream"
)

var (
	holdFor time.Duration

	loadFlags = []cli.Flag{
		cli.DurationFlag{
			Name:        "hold",
			Usage:       "keep the assets acquired for this long before releasing them",
			Destination: &holdFor,
		},
	}
)

type loadResult struct {
	asset    string
	instance any
	err      error
}

func load(ctx *cli.Context) error {
	names := ctx.Args()
	if len(names) == 0 {
		return cmdCommon.PrintErrWithCmdHelp(
			ctx,
			errors.New("no asset provided"),
		)
	} else if names.First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	s, err := openSession()
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "load", "open_session", err)
		return nil
	}
	defer s.close()
	s.start(context.Background())

	results, err := s.load(names)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "load", "acquire", err)
		return nil
	}
	for _, r := range results {
		if r.err != nil {
			fmt.Printf("%s: %s: %v\n", ctx.App.HelpName, r.asset, r.err)
			continue
		}
		fmt.Printf("%s: loaded %s -> %v\n", ctx.App.HelpName, r.asset, r.instance)
	}
	if holdFor > 0 {
		time.Sleep(holdFor)
	}
	if err := s.release(results); err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "load", "release", err)
	}
	return nil
}

// load acquires every asset and waits for all of them to resolve.
func (s *session) load(names []string) ([]*loadResult, error) {
	results := make([]*loadResult, len(names))
	pending := len(names)
	done := make(chan struct{})
	err := s.runner.Do(func(rt *stream.Runtime) error {
		for i, name := range names {
			r := &loadResult{asset: name}
			results[i] = r
			_, err := rt.AcquireAsset(name, func(_ string, instance any, err error) {
				r.instance, r.err = instance, err
				pending--
				if pending == 0 {
					close(done)
				}
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.wait(done); err != nil {
		return nil, err
	}
	return results, nil
}

// release drops the references taken by load and waits for the releases to
// run. Failed loads already gave their references back.
func (s *session) release(results []*loadResult) error {
	err := s.runner.Do(func(rt *stream.Runtime) error {
		for _, r := range results {
			if r.err != nil {
				continue
			}
			if _, err := rt.ReleaseAsset(r.asset, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.idle()
}
