package cmd

const HELP_TEMPL = `Usage: {{if .UsageText}}{{.UsageText}}{{else}}{{.HelpName}} {{if .VisibleFlags}}[global options]{{end}}{{if .Commands}} command [command options]{{end}} {{if .ArgsUsage}}{{.ArgsUsage}}{{else}}[arguments...]{{end}}{{end}}
{{.Description}}{{if .VisibleCommands}}
Commands:{{range .VisibleCategories}}{{if .Name}}

{{.Name}}:{{range .VisibleCommands}}
  {{join .Names ", "}}{{"\t"}}{{.Usage}}{{end}}{{else}}{{range .VisibleCommands}}
{{"\t"}}{{index .Names 0}}{{"\t:\t"}}{{.Usage}}{{end}}{{end}}{{end}}{{end}}{{if .VisibleFlags}}

Global Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

Use "{{.HelpName}} help <command>" for more information about any command.

`

const CMD_HELP_TEMPL = `{{if .Description}}{{.Description}}{{else}}{{.HelpName}} - {{.Usage}}

{{end}}Usage:
        {{.HelpName}} {{if .UsageText}}{{.UsageText}}{{else}}[arguments...]{{end}}{{if .VisibleFlags}}

Supported Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

`

const DESCRIPTION = `
warpstream loads assets out of bundles shipped with an application and
keeps a writable copy of those bundles in step with a remote manifest.
Bundles are fetched over http(s), ftp(s) or from the local filesystem.
`

const (
	CheckDescription = `The check command reads the local manifests and the remote
one and lists the bundles that have to be downloaded.
Pass group names to limit the check to those groups.

Example:
        warpstream check
                  OR
        warpstream check ui maps

`
	UpdateDescription = `The update command runs a version check and then downloads
every outdated bundle, one bundle at a time per group.
A group stops at its first failed bundle; use --resume
to retry it.

Example:
        warpstream update
                  OR
        warpstream update --resume ui

`
	LoadDescription = `The load command acquires the named assets, waits for
their bundles and dependencies to load and prints what
each asset resolved to.

Example:
        warpstream load ui/button level1/scene

`
	StatusDescription = `The status command lists every bundle in the catalog along
with the region it is served from.

Example:
        warpstream status --group ui

`
	WatchDescription = `The watch command runs the version checks listed in the
configuration file on their cron schedule until it is
interrupted. Checks with "update: true" also download.

Example:
        warpstream -c warpstream.yaml watch --metrics-addr :9310

`
)
