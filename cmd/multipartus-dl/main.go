package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/handiism/multipartus-downloader/internal/config"
	"github.com/handiism/multipartus-downloader/internal/download"
	"github.com/handiism/multipartus-downloader/internal/logging"
	"github.com/handiism/multipartus-downloader/internal/model"
)

// deps holds what every command needs.
type deps struct {
	env          *config.Env
	settings     *config.Settings
	settingsPath string
	logger       *logrus.Logger
}

func main() {
	app := cli.App{
		Name:  "multipartus-dl",
		Usage: "download lecture recordings",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:  "settings",
				Usage: "path of the settings file",
				Value: config.DefaultSettingsPath(),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "mirror debug logs to stderr",
			},
		},
		Commands: []*cli.Command{{
			Name:      "download",
			Usage:     "download the videos listed in a manifest",
			ArgsUsage: "MANIFEST",
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
				&cli.StringFlag{
					Name:  "quality",
					Usage: "high or low, overrides the settings",
				},
				&cli.StringFlag{
					Name:  "source",
					Usage: `"auto" or the base URL of a stream origin, overrides the settings`,
				},
				&cli.StringFlag{
					Name:  "format",
					Usage: "file naming format, overrides the settings",
				},
			},
			Action: withApp(downloadAction),
		}, {
			Name:  "cache",
			Usage: "inspect or clear the artifact cache",
			Subcommands: []*cli.Command{{
				Name:   "size",
				Usage:  "print the bytes held by the cache",
				Action: withApp(cacheSizeAction),
			}, {
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "list complete cache entries",
				Action:  withApp(cacheListAction),
			}, {
				Name:    "clear",
				Aliases: []string{"purge"},
				Usage:   "remove every cache entry",
				Action:  withApp(cacheClearAction),
			}},
		}, {
			Name:  "settings",
			Usage: "show or change the stored settings",
			Subcommands: []*cli.Command{{
				Name:   "show",
				Usage:  "print the effective settings",
				Action: withApp(settingsShowAction),
			}, {
				Name:  "set",
				Usage: "change stored settings",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "quality", Usage: "high or low"},
					&cli.StringFlag{Name: "source", Usage: `"auto" or the base URL of a stream origin`},
					&cli.StringFlag{Name: "format", Usage: "file naming format, e.g. {number}_{topic}"},
				},
				Action: withApp(settingsSetAction),
			}},
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withApp(f func(*deps, *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		env, err := config.LoadEnv()
		if err != nil {
			return err
		}

		opts := logging.Options{Dir: env.LogDir}
		if c.Bool("verbose") {
			opts.Level = logrus.DebugLevel
			opts.Mirror = os.Stderr
		}
		logger, closeLog, err := logging.Setup(opts)
		if err != nil {
			return err
		}
		defer closeLog()

		settingsPath := c.Path("settings")
		settings, err := config.Load(settingsPath)
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		return f(&deps{
			env:          env,
			settings:     settings,
			settingsPath: settingsPath,
			logger:       logger,
		}, c)
	}
}

func downloadAction(a *deps, c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: multipartus-dl download [options] MANIFEST", 2)
	}
	manifest, err := model.LoadManifest(c.Args().First())
	if err != nil {
		return err
	}

	settings := *a.settings
	if err := applySettingsFlags(&settings, c); err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	destination := manifest.Destination
	if c.IsSet("dest") {
		destination = c.String("dest")
	}

	if err := download.CheckFFmpeg(a.env); err != nil {
		return err
	}
	manager := download.NewFromEnv(a.env, a.logger)

	job, err := manager.Submit(context.Background(), settings.Job(c.String("token"), destination, manifest.Videos))
	if err != nil {
		return err
	}

	// Handle interrupts: the first cancels cooperatively, the second exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-job.Done():
			return
		}
		fmt.Fprintln(os.Stderr, "\nInterrupted, cancelling... (interrupt again to abort)")
		job.Cancel()

		select {
		case <-sigCh:
			os.Exit(130)
		case <-job.Done():
		}
	}()

	fmt.Printf("Downloading %d video(s) to %s\n", len(manifest.Videos), destination)
	for ev := range job.Events() {
		switch ev := ev.(type) {
		case model.ProgressEvent:
			fmt.Printf("\r[%5.1f%%]", ev.Percent)
		case model.ErrorEvent:
			fmt.Printf("\r✗ %s failed at %s: %s\n", ev.VideoID, ev.Stage, ev.Message)
		}
	}
	fmt.Println()

	result := job.Wait()
	fmt.Printf("Succeeded: %d, failed: %d\n", len(result.Succeeded), len(result.Failed))
	if size, err := manager.CacheSizeBytes(); err == nil {
		fmt.Printf("Cache: %s\n", humanize.Bytes(uint64(size)))
	}

	switch {
	case result.Cancelled:
		return cli.Exit("Download cancelled.", 130)
	case len(result.Failed) > 0:
		return cli.Exit(fmt.Sprintf("%d video(s) failed", len(result.Failed)), 1)
	}
	return nil
}

func cacheSizeAction(a *deps, c *cli.Context) error {
	manager := download.NewFromEnv(a.env, a.logger)
	size, err := manager.CacheSizeHuman()
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", size, manager.CacheDir())
	return nil
}

func cacheListAction(a *deps, c *cli.Context) error {
	entries, err := download.NewFromEnv(a.env, a.logger).CacheEntries()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVIEWS\tDURATION\tSIZE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Key, len(e.Playlists), e.Duration.Round(time.Second), humanize.Bytes(uint64(e.SizeBytes)))
	}
	return tw.Flush()
}

func cacheClearAction(a *deps, c *cli.Context) error {
	manager := download.NewFromEnv(a.env, a.logger)
	size, err := manager.CacheSizeHuman()
	if err != nil {
		return err
	}
	if err := manager.ClearCache(); err != nil {
		return err
	}
	fmt.Printf("Freed %s\n", size)
	return nil
}

func settingsShowAction(a *deps, c *cli.Context) error {
	s := a.settings
	fmt.Printf("file:     %s\n", a.settingsPath)
	fmt.Printf("quality:  %s (%s)\n", s.Quality, s.Quality.Resolution())
	fmt.Printf("source:   %s\n", s.SourcePreference)
	fmt.Printf("format:   %s\n", s.NamingFormat)
	return nil
}

func settingsSetAction(a *deps, c *cli.Context) error {
	if err := applySettingsFlags(a.settings, c); err != nil {
		return err
	}
	if err := a.settings.Validate(); err != nil {
		return err
	}
	if err := a.settings.Save(a.settingsPath); err != nil {
		return err
	}
	return settingsShowAction(a, c)
}

func applySettingsFlags(s *config.Settings, c *cli.Context) error {
	if c.IsSet("quality") {
		q, err := model.ParseQuality(c.String("quality"))
		if err != nil {
			return err
		}
		s.Quality = q
	}
	if c.IsSet("source") {
		s.SourcePreference = model.SourcePreference(c.String("source"))
	}
	if c.IsSet("format") {
		s.NamingFormat = model.NamingFormat(c.String("format"))
	}
	return nil
}
