package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brandon/mailmigrate/internal/config"
	"github.com/brandon/mailmigrate/internal/driver"
	"github.com/brandon/mailmigrate/internal/engine"
)

var (
	// Set via -ldflags at build time.
	version = "dev"
)

func main() {
	opts := config.NewOptions()
	var sourceURI, destinationURI string
	var showVersion bool

	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate mail, calendars, contacts, tasks, tags and files between groupware accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("migrate %s\n", version)
				return nil
			}
			cmd.SilenceUsage = true
			return run(opts, sourceURI, destinationURI)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&sourceURI, "source-account", getEnv("MIGRATE_SOURCE", ""),
		"Source account URI (ews://, imaps://, kolab://, archive:///path)")
	flags.StringVar(&destinationURI, "destination-account", getEnv("MIGRATE_DESTINATION", ""),
		"Destination account URI (imaps://, davs://, kolab://)")
	flags.StringVar(&opts.IMAPURI, "imap-uri", opts.IMAPURI,
		"IMAP endpoint for a kolab:// destination")
	flags.StringVar(&opts.DAVURI, "dav-uri", opts.DAVURI,
		"DAV endpoint for a kolab:// destination")
	flags.StringVar(&opts.StorePath, "store-path", opts.StorePath,
		"SQLite database backing the file store")
	flags.StringVar(&opts.StageDir, "stage-dir", opts.StageDir,
		"Directory for staged payloads and extraction output")
	flags.BoolVar(&opts.ClearTarget, "clear-target", false,
		"Delete existing destination folder content first")
	flags.BoolVar(&opts.Subscribe, "subscribe", false,
		"Subscribe created destination folders")
	flags.BoolVar(&opts.ExtractOnly, "extract-only", false,
		"Fetch and convert items into the staging directory without importing")
	flags.StringArrayVar(&opts.IncludeTargets, "include-target", nil,
		"Only migrate folders matching this glob (repeatable)")
	flags.StringArrayVar(&opts.ExcludeTargets, "exclude-target", nil,
		"Skip folders matching this glob (repeatable)")
	flags.StringVar(&opts.PickupFrom, "pickup-from", "",
		"Resume the run at this destination folder")
	flags.StringArrayVar(&opts.TypeFilter, "type-filter", nil,
		"Only migrate folders of this type (repeatable)")
	flags.StringArrayVar(&opts.TypeBlacklist, "type-blacklist", nil,
		"Skip folders of this type (repeatable)")
	flags.IntVar(&opts.ChunkSize, "chunk-size", opts.ChunkSize,
		"Progress reporting granularity")
	flags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel,
		"Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.Debug, "debug", false,
		"Shorthand for --log-level debug")
	flags.BoolVarP(&showVersion, "version", "v", false, "Print version and exit")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts *config.Options, sourceURI, destinationURI string) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if opts.Debug {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	if sourceURI == "" {
		return fmt.Errorf("--source-account is required")
	}
	opts.Source, err = config.ParseAccount(sourceURI, "MIGRATE_SOURCE_PASSWORD")
	if err != nil {
		return fmt.Errorf("invalid source account: %w", err)
	}
	if destinationURI != "" {
		opts.Destination, err = config.ParseAccount(destinationURI, "MIGRATE_DEST_PASSWORD")
		if err != nil {
			return fmt.Errorf("invalid destination account: %w", err)
		}
	}

	if err := opts.Validate(); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"source": opts.Source.URI,
		"target": destinationTarget(opts),
	}).Info("Starting migration")

	exporter, err := driver.NewExporter(opts, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect source")
		return err
	}
	defer exporter.Close()

	importer, err := driver.NewImporter(opts, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect destination")
		return err
	}
	defer importer.Close()

	res, err := engine.New(exporter, importer, opts, logger).Run()
	if err != nil {
		logger.WithError(err).Error("Migration failed")
		return err
	}
	if res.Failed > 0 {
		logger.WithField("failed", res.Failed).Warn("Some items were not migrated")
	}
	return nil
}

func destinationTarget(opts *config.Options) string {
	if opts.ExtractOnly {
		return "extract:" + opts.StageDir
	}
	if opts.Destination != nil {
		return opts.Destination.URI
	}
	return ""
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
