package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/handiism/multipartus-downloader/internal/config"
	"github.com/handiism/multipartus-downloader/internal/download"
	"github.com/handiism/multipartus-downloader/internal/logging"
	"github.com/handiism/multipartus-downloader/internal/tui"
)

func main() {
	app := cli.App{
		Name:      "multipartus-tui",
		Usage:     "interactive lecture recording downloader",
		ArgsUsage: "[MANIFEST]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "token",
				Usage:    "bearer token of the lecture capture service",
				EnvVars:  []string{"MULTIPARTUS_TOKEN"},
				Required: true,
			},
			&cli.StringFlag{
				Name:  "dest",
				Usage: "destination folder, overrides the manifest",
			},
			&cli.PathFlag{
				Name:  "settings",
				Usage: "path of the settings file",
				Value: config.DefaultSettingsPath(),
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}

	// The terminal belongs to the UI; logs only go to the file.
	logger, closeLog, err := logging.Setup(logging.Options{Dir: env.LogDir})
	if err != nil {
		return err
	}
	defer closeLog()

	settings, err := config.Load(c.Path("settings"))
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	if err := download.CheckFFmpeg(env); err != nil {
		return err
	}

	return tui.Run(tui.Options{
		Manager:      download.NewFromEnv(env, logger),
		Settings:     settings,
		Token:        c.String("token"),
		ManifestPath: c.Args().First(),
		Destination:  c.String("dest"),
	})
}
