package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"
	cmdCommon "github.com/warpdl/warpstream/cmd/common"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

func Execute(args []string, bArgs BuildArgs) error {
	app := cli.App{
		Name:                  "warpstream",
		HelpName:              "warpstream",
		Usage:                 "Streams and updates asset bundles.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "warpstream [global options] <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          cmdCommon.UsageErrorCallback,
		Flags:                 globalFlags,
		Commands: []cli.Command{
			{
				Name:                   "check",
				Aliases:                []string{"c"},
				Usage:                  "compare local bundles with the remote manifest",
				Action:                 check,
				OnUsageError:           cmdCommon.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Description:            CheckDescription,
				UseShortOptionHandling: true,
				Flags:                  checkFlags,
			},
			{
				Name:                   "update",
				Aliases:                []string{"u"},
				Usage:                  "download outdated bundles",
				Action:                 update,
				OnUsageError:           cmdCommon.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Description:            UpdateDescription,
				UseShortOptionHandling: true,
				Flags:                  updateFlags,
			},
			{
				Name:               "load",
				Aliases:            []string{"l"},
				Usage:              "acquire assets and report what they resolve to",
				Action:             load,
				OnUsageError:       cmdCommon.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        LoadDescription,
				Flags:              loadFlags,
			},
			{
				Name:                   "status",
				Aliases:                []string{"s"},
				Usage:                  "list the bundles known to the catalog",
				Action:                 status,
				OnUsageError:           cmdCommon.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Description:            StatusDescription,
				UseShortOptionHandling: true,
				Flags:                  statusFlags,
			},
			{
				Name:               "watch",
				Aliases:            []string{"w"},
				Usage:              "run the configured checks on their schedule",
				Action:             watch,
				OnUsageError:       cmdCommon.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        WatchDescription,
				Flags:              watchFlags,
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  cmdCommon.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints installed version of warpstream",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             cmdCommon.GetVersion,
			},
		},
		Action:      cmdCommon.Help,
		HideHelp:    true,
		HideVersion: true,
	}
	cmdCommon.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}
