package main

import (
	"os"
	"strings"

	"github.com/Alia5/MicroKB/internal/config"
	"github.com/Alia5/MicroKB/internal/configpaths"
	"github.com/Alia5/MicroKB/internal/log"

	_ "github.com/Alia5/MicroKB/internal/registry" // Register all transports

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"
)

func main() {

	userCfg := findUserConfig(os.Args[1:])
	jsonPaths, yamlPaths, tomlPaths := configpaths.ConfigCandidatePaths(userCfg)

	var cli config.CLI
	ctx := kong.Parse(&cli,
		kong.Name("microkb"),
		kong.Description("Shift register keyboard firmware with USB and wireless host links"),
		kong.UsageOnError(),
		// Load configuration from JSON/YAML/TOML in priority order; flags/env override config values.
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)

	logger, closeFiles, err := log.SetupLogger(cli.Log.Level, cli.Log.File, cli.Log.Format)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() {
		for _, c := range closeFiles {
			_ = c.Close()
		}
	}()

	var reports log.ReportLogger
	if cli.Log.ReportFile != "" {
		f, err := os.OpenFile(cli.Log.ReportFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Error("failed to open report log file", "file", cli.Log.ReportFile, "error", err)
			reports = log.NewReport(nil)
		} else {
			reports = log.NewReport(f)
			closeFiles = append(closeFiles, f)
		}
	} else if cli.Log.Level == "trace" {
		reports = log.SlogReports(logger)
	} else {
		reports = log.NewReport(nil)
	}

	ctx.Bind(logger)
	ctx.BindTo(reports, (*log.ReportLogger)(nil))

	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}

func findUserConfig(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--config=") {
			return a[len("--config="):]
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	if v := os.Getenv("MICROKB_CONFIG"); v != "" {
		return v
	}
	return ""
}
