package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	cmdCommon "github.com/warpdl/warpstream/cmd/common"
	"github.com/warpdl/warpstream/common"
	"github.com/warpdl/warpstream/internal/driver"
	"github.com/warpdl/warpstream/pkg/stream"
	"github.com/warpdl/warpstream/pkg/updater"
)

var (
	metricsAddr string
	checkNow    bool

	watchFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "metrics-addr",
			Usage:       "serve prometheus metrics on this address, e.g. :9310",
			Destination: &metricsAddr,
		},
		cli.BoolFlag{
			Name:        "now, n",
			Usage:       "run every configured check once at startup (default: false)",
			Destination: &checkNow,
		},
	}
)

func watch(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	s, err := openSession()
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "watch", "open_session", err)
		return nil
	}
	defer s.close()
	if len(s.cfg.Checks) == 0 {
		return cmdCommon.PrintErrWithCmdHelp(ctx, errors.New("no checks configured"))
	}

	sctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	s.start(sctx)

	runNow := make(map[string]bool, len(s.cfg.Checks))
	if checkNow {
		for _, c := range s.cfg.Checks {
			runNow[c.Key()] = true
		}
	}
	_, err = driver.StartChecks(sctx, s.runner, s.cfg.Checks, runNow, s.log, s.report)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "watch", "schedule", err)
		return nil
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(common.DefaultMetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	fmt.Printf("%s: watching %d check(s), press Ctrl+C to stop\n", ctx.App.HelpName, len(s.cfg.Checks))
	<-sctx.Done()
	return nil
}

// report logs the outcome of a scheduled check. It runs on the tick thread.
func (s *session) report(key string, res *updater.VersionCheckResult) {
	if res.Err != nil {
		return
	}
	s.log.Info("check %s: %d update(s), %s", key, res.UpdateCount, cmdCommon.Size(res.UpdateBytes))
	for _, u := range res.Updaters {
		s.log.Debug("check %s: group %s is %s", key, u.Group, u.State())
	}
}

var _ driver.CheckTarget = (*stream.Runtime)(nil)
