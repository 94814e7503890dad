package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/FormPipe/internal/api"
	"github.com/BTreeMap/FormPipe/internal/bot"
	"github.com/BTreeMap/FormPipe/internal/catalog"
	"github.com/BTreeMap/FormPipe/internal/channel"
	"github.com/BTreeMap/FormPipe/internal/completion"
	"github.com/BTreeMap/FormPipe/internal/flow"
	"github.com/BTreeMap/FormPipe/internal/lockfile"
	"github.com/BTreeMap/FormPipe/internal/metrics"
	"github.com/BTreeMap/FormPipe/internal/progress"
	"github.com/BTreeMap/FormPipe/internal/sink"
)

func newRunCmd(config *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the questionnaire bot",
		Long:  `Connects to the configured channel, serves the HTTP API and records completed submissions until interrupted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runService(ctx, *config)
		},
	}

	f := cmd.Flags()
	f.StringVar(&config.Channel, "channel", config.Channel, "conversation channel: telegram, whatsapp or twilio (overrides $FORMPIPE_CHANNEL)")
	f.StringSliceVar(&config.Sinks, "sinks", config.Sinks, "response sinks: sqlite, postgres, csv, sheets (overrides $FORMPIPE_SINKS)")
	f.StringVar(&config.DatabaseURL, "db-dsn", config.DatabaseURL, "response database DSN (overrides $DATABASE_URL)")
	f.StringVar(&config.CSVPath, "csv-path", config.CSVPath, "CSV response file (overrides $FORMPIPE_CSV_PATH)")
	f.StringVar(&config.SpreadsheetID, "spreadsheet-id", config.SpreadsheetID, "Google Sheets spreadsheet id (overrides $SPREADSHEET_ID)")
	f.StringVar(&config.SheetName, "sheet-name", config.SheetName, "Google Sheets tab name (overrides $SHEET_NAME)")
	f.StringVar(&config.CredentialsFile, "google-credentials", config.CredentialsFile, "service account key file (overrides $GOOGLE_CREDENTIALS_FILE)")
	f.StringVar(&config.BackupDir, "backup-dir", config.BackupDir, "catalog backup directory (overrides $FORMPIPE_BACKUP_DIR)")
	f.StringVar(&config.RedisAddr, "redis-addr", config.RedisAddr, "Redis address for conversation progress; empty keeps progress in memory (overrides $REDIS_ADDR)")
	f.DurationVar(&config.SessionTTL, "session-ttl", config.SessionTTL, "how long Redis keeps an idle conversation (overrides $FORMPIPE_SESSION_TTL)")
	f.DurationVar(&config.IdleTimeout, "idle-timeout", config.IdleTimeout, "idle time before a user's mailbox is released (overrides $FORMPIPE_IDLE_TIMEOUT)")
	f.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	f.StringSliceVar(&config.AllowedOrigins, "allowed-origins", config.AllowedOrigins, "CORS origins for the read-only API (overrides $FORMPIPE_ALLOWED_ORIGINS)")
	f.StringVar(&config.WhatsAppDSN, "whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)")
	f.StringVar(&config.QROutput, "qr-output", "", "path to write the WhatsApp login QR code")
	f.BoolVar(&config.NumericCode, "numeric-code", config.NumericCode, "print the WhatsApp login code instead of a QR code")
	return cmd
}

// runService wires every component and blocks until ctx is cancelled or one of them fails.
func runService(ctx context.Context, config Config) error {
	if err := config.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(config.StateDir, sink.DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	lock, err := lockfile.AcquireLock(config.StateDir)
	if err != nil {
		return fmt.Errorf("refusing to start: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release lock", "error", err)
		}
	}()

	cat, err := catalog.Load(config.CatalogPath, catalog.WithPreLoadHook(catalog.BackupHook(config.BackupDir)))
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	slog.Info("Catalog loaded", "path", config.CatalogPath, "questions", cat.Len())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	apiOpts := []api.Option{
		api.WithAddr(config.APIAddr),
		api.WithCatalog(cat),
		api.WithGatherer(reg),
		api.WithAllowedOrigins(config.AllowedOrigins),
	}

	store, err := buildStore(config)
	if err != nil {
		return err
	}
	if rs, ok := store.(*progress.RedisStore); ok {
		defer rs.Close()
		if err := rs.Ping(ctx); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		apiOpts = append(apiOpts, api.WithHealthCheck("redis", rs.Ping))
	}

	sinks, err := buildSinks(ctx, config, completion.Header(cat))
	if err != nil {
		return err
	}
	defer sinks.Close()
	if sinks.counter != nil {
		apiOpts = append(apiOpts, api.WithSubmissionCounter(sinks.counter))
	}

	ch, closeChannel, err := buildChannel(ctx, config)
	if err != nil {
		return err
	}
	defer closeChannel()
	if tw, ok := ch.(*channel.Twilio); ok {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(tw.WebhookHandler))
	}

	dispatcherOpts := []bot.Option{bot.WithMetrics(m)}
	if config.IdleTimeout > 0 {
		dispatcherOpts = append(dispatcherOpts, bot.WithIdleTimeout(config.IdleTimeout))
	}
	dispatcher := bot.NewDispatcher(flow.NewEngine(cat), store, sinks.sink, dispatcherOpts...)
	server := api.NewServer(apiOpts...)

	g, gctx := errgroup.WithContext(ctx)
	if err := ch.Start(gctx); err != nil {
		return fmt.Errorf("failed to start %s channel: %w", ch.Name(), err)
	}
	g.Go(func() error {
		return dispatcher.Run(gctx, ch)
	})
	g.Go(func() error {
		<-gctx.Done()
		return ch.Stop()
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	slog.Info("FormPipe running", "channel", ch.Name(), "sinks", config.Sinks, "api_addr", config.APIAddr)
	err = g.Wait()
	slog.Info("FormPipe stopped")
	return err
}

// buildStore keeps progress in Redis when an address is configured, otherwise in memory.
func buildStore(config Config) (progress.Store, error) {
	if config.RedisAddr == "" {
		slog.Debug("No Redis address provided, using in-memory progress store")
		return progress.NewInMemoryStore(), nil
	}
	slog.Debug("Configuring Redis progress store", "addr", config.RedisAddr, "db", config.RedisDB, "ttl", config.SessionTTL)
	return progress.NewRedisStore(config.RedisAddr, config.RedisPassword, config.RedisDB, progress.WithTTL(config.SessionTTL)), nil
}

// sinkSet is the composed response sink plus what must be closed on shutdown.
type sinkSet struct {
	sink    sink.Sink
	counter api.SubmissionCounter
	closers []io.Closer
}

// Close closes every opened backend.
func (s *sinkSet) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildSinks opens every configured sink. Each is wrapped in a Lazy so its schema is set
// up on first use, and all of them receive every record.
func buildSinks(ctx context.Context, config Config, header []string) (*sinkSet, error) {
	set := &sinkSet{}
	var multi sink.Multi
	for _, name := range config.Sinks {
		var s sink.Sink
		switch name {
		case SinkSQLite, SinkPostgres:
			sqlSink, err := sink.Open(config.DatabaseURL)
			if err != nil {
				set.Close()
				return nil, fmt.Errorf("failed to open %s sink: %w", name, err)
			}
			set.closers = append(set.closers, sqlSink)
			set.counter = sqlSink
			s = sqlSink
		case SinkCSV:
			s = sink.NewCSVSink(config.CSVPath)
		case SinkSheets:
			opts := []sink.SheetsOption{sink.WithSpreadsheetID(config.SpreadsheetID)}
			if config.SheetName != "" {
				opts = append(opts, sink.WithSheetName(config.SheetName))
			}
			if config.CredentialsFile != "" {
				opts = append(opts, sink.WithCredentialsFile(config.CredentialsFile))
			}
			sheetsSink, err := sink.NewSheetsSink(ctx, opts...)
			if err != nil {
				set.Close()
				return nil, fmt.Errorf("failed to open sheets sink: %w", err)
			}
			s = sheetsSink
		default:
			set.Close()
			return nil, fmt.Errorf("unknown sink %q", name)
		}
		slog.Debug("Response sink configured", "sink", name)
		multi = append(multi, sink.NewLazy(s, header))
	}

	switch len(multi) {
	case 0:
		slog.Warn("No response sinks configured, submissions will be discarded")
		set.sink = sink.Discard{}
	case 1:
		set.sink = multi[0]
	default:
		set.sink = multi
	}
	return set, nil
}

// buildChannel connects the configured transport. The returned func releases its client.
func buildChannel(ctx context.Context, config Config) (channel.Channel, func(), error) {
	switch config.Channel {
	case ChannelTelegram:
		botAPI, err := channel.NewTelegramBot(config.TelegramToken)
		if err != nil {
			return nil, nil, err
		}
		return channel.NewTelegram(botAPI), func() {}, nil
	case ChannelWhatsApp:
		opts := []channel.WhatsAppOption{channel.WithWhatsAppDBDSN(config.WhatsAppDSN)}
		if config.QROutput != "" {
			opts = append(opts, channel.WithQRCodeOutput(config.QROutput))
		}
		if config.NumericCode {
			opts = append(opts, channel.WithNumericCode())
		}
		client, err := channel.NewWhatsAppClient(ctx, opts...)
		if err != nil {
			return nil, nil, err
		}
		return channel.NewWhatsApp(client), client.Disconnect, nil
	case ChannelTwilio:
		client, err := channel.NewTwilioClient()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create twilio client: %w", err)
		}
		return channel.NewTwilio(client), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown channel %q", config.Channel)
	}
}
