package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	log "github.com/sirupsen/logrus"

	"github.com/unbasical/bundle-ota/common"
	"github.com/unbasical/bundle-ota/internal/pkg/utils/logutils"
)

func main() {
	args := cliArgs{out: os.Stdout}
	var bootAttemptsSet bool
	var (
		app = kingpin.New("ota-cli", "A command-line tool to manage over-the-air updates of application bundles")

		// commands
		boot     = app.Command("boot", "Reconcile the last update, apply a new release and confirm the running bundle")
		check    = app.Command("check", "Print the latest release if it differs from the running version")
		download = app.Command("download", "Download a bundle archive into the OTA directory")
		apply    = app.Command("apply", "Apply a bundle archive, the update stays pending until it is confirmed")
		confirm  = app.Command("confirm", "Confirm the applied update after passing the health check")
		rollback = app.Command("rollback", "Restore the backup if the applied update was not confirmed in time")
		clearOTA = app.Command("clear", "Delete all OTA state, the built-in bundle is used afterwards")
		status   = app.Command("status", "Print the OTA state")
		version  = app.Command("version", "Print the version of the tool")
		pack     = app.Command("pack", "Create a bundle archive from a directory")

		bootAttempts = app.Flag("boot-attempts", "Unconfirmed boots before rolling back, 0 rolls back immediately").Envar("OTA_BOOT_ATTEMPTS").IsSetByUser(&bootAttemptsSet).Uint()
	)
	app.HelpFlag.Short('h')

	app.Flag("config", "Path to the YAML config file").Envar("OTA_CONFIG").StringVar(&args.ConfigPath)
	app.Flag("root", "Storage root of the application, OTA state is kept in <root>/ota").Envar("OTA_ROOT").StringVar(&args.Flags.Root)
	app.Flag("release-url", "Endpoint describing the latest release").Envar("OTA_RELEASE_URL").StringVar(&args.Flags.ReleaseURL)
	app.Flag("repository", "Repository in the form owner/name, used to derive the release URL").Envar("OTA_REPOSITORY").StringVar(&args.Flags.Repository)
	app.Flag("entry-point", "File every bundle has to contain at its root").Envar("OTA_ENTRY_POINT").StringVar(&args.Flags.EntryPoint)
	app.Flag("download-retries", "How often a failed download is retried").Envar("OTA_DOWNLOAD_RETRIES").UintVar(&args.Flags.DownloadRetries)
	app.Flag("metrics-file", "Write metrics in the Prometheus text format to this file").Envar("OTA_METRICS_FILE").StringVar(&args.Flags.MetricsFile)
	// Logging
	logLevel := app.Flag("log-level", "Log-Level, must be one of [DEBUG, INFO, WARN, ERROR]").Default("INFO").Envar("LOG_LEVEL").Enum(logutils.LogLevels...)
	logFormat := app.Flag("log-format", "Log-Format, must be one of [TEXT, JSON]").Default("TEXT").Envar("LOG_FORMAT").Enum(logutils.LogFormats...)

	boot.Flag("app-version", "Version of the bundle shipped with the application").Envar("OTA_APP_VERSION").StringVar(&args.Flags.AppVersion)
	check.Flag("app-version", "Version of the bundle shipped with the application").Envar("OTA_APP_VERSION").StringVar(&args.Flags.AppVersion)
	download.Arg("url", "URL of the bundle archive").Required().StringVar(&args.Download.URL)
	apply.Arg("archive", "Path to the bundle archive").Required().ExistingFileVar(&args.Apply.Archive)
	apply.Flag("version", "Version of the bundle").Required().StringVar(&args.Apply.Version)
	confirm.Flag("skip-health-check", "Confirm without running the health check").BoolVar(&args.Confirm.SkipHealthCheck)
	pack.Arg("dir", "Directory containing the bundle").Required().ExistingDirVar(&args.Pack.Dir)
	pack.Flag("out", "Path of the archive").Short('o').Required().StringVar(&args.Pack.Out)

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))
	logutils.SetupLogging(os.Stderr, *logLevel, *logFormat)
	if bootAttemptsSet {
		args.Flags.BootAttempts = bootAttempts
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case version.FullCommand():
		_, err = args.out.Write([]byte(common.Version() + "\n"))
	case pack.FullCommand():
		err = args.pack()
	case boot.FullCommand():
		err = args.run(ctx, true, args.boot)
	case check.FullCommand():
		err = args.run(ctx, false, args.check)
	case download.FullCommand():
		err = args.run(ctx, true, args.download)
	case apply.FullCommand():
		err = args.run(ctx, true, args.apply)
	case confirm.FullCommand():
		err = args.run(ctx, true, args.confirm)
	case rollback.FullCommand():
		err = args.run(ctx, true, args.rollback)
	case clearOTA.FullCommand():
		err = args.run(ctx, true, args.clear)
	case status.FullCommand():
		err = args.run(ctx, false, args.status)
	}
	if err != nil {
		log.WithError(err).Errorf("%s failed", cmd)
		cancel()
		os.Exit(1)
	}
}
