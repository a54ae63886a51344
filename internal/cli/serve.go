package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/spf13/cobra"

	"github.com/briefcast/briefcast/internal/auth"
	"github.com/briefcast/briefcast/internal/briefing"
	"github.com/briefcast/briefcast/internal/config"
	"github.com/briefcast/briefcast/internal/ledger"
	"github.com/briefcast/briefcast/internal/metrics"
	"github.com/briefcast/briefcast/internal/news"
	"github.com/briefcast/briefcast/internal/observability"
	"github.com/briefcast/briefcast/internal/quota"
	"github.com/briefcast/briefcast/internal/script"
	"github.com/briefcast/briefcast/internal/server"
	"github.com/briefcast/briefcast/internal/storage"
	"github.com/briefcast/briefcast/internal/store"
	"github.com/briefcast/briefcast/internal/tts"
)

func runServe(cmd *cobra.Command, args []string) error {
	log := observability.InitLogger()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		tp, err := observability.InitTracer(ctx, "briefcast", Version)
		if err != nil {
			log.Warn("tracing disabled", "error", err)
		} else {
			defer tp.Shutdown(context.Background())
		}
	}

	cfg := config.DefaultConfig()

	needAWS := cfg.DynamoTable != "" || cfg.S3Bucket != "" || cfg.SecretName != ""
	var awsCfg aws.Config
	if needAWS {
		loaded, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = loaded
	}
	if cfg.SecretName != "" {
		if err := cfg.LoadSecrets(ctx, secretsmanager.NewFromConfig(awsCfg), log); err != nil {
			log.Warn("secrets bootstrap failed, falling back to env", "error", err)
		}
	}
	cfg.Warn(log)

	var remote store.Remote
	if cfg.DynamoTable != "" {
		remote = store.NewDynamoRemote(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable)
	}
	st := store.New(filepath.Join(cfg.DataDir, "state.json"), remote, log)
	if err := st.Load(ctx); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	go st.Run(ctx)

	var blobs storage.Blob
	if cfg.S3Bucket != "" {
		blobs = storage.NewS3Blob(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3AudioPrefix)
	} else {
		local, err := storage.NewLocalBlob(cfg.AudioDir)
		if err != nil {
			return fmt.Errorf("audio dir: %w", err)
		}
		blobs = local
	}

	l := ledger.New(st)
	gate := quota.New(l, quota.Limits{PerMinute: cfg.GeneratePerMinute, PerDay: cfg.GeneratePerDay})
	m := metrics.New()
	orch := briefing.New(
		gate, l,
		news.NewFetcher(log),
		script.NewGenerator(cfg.GeminiAPIKey, cfg.GeminiModel, log),
		tts.NewSynthesizer(cfg.TTSAPIKey, log),
		st, blobs, m, log,
	)

	sweeper := briefing.NewSweeper(st, blobs, cfg.RetentionDays, log)
	go sweeper.Run(ctx)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(cfg.MetricsAddr); err != nil {
				log.Error("metrics listener failed", "error", err)
			}
		}()
	}

	tokens := auth.NewTokenIssuer(cfg.SessionSecret, cfg.SessionTTL)
	srv := server.New(cfg, st, l, orch, blobs, tokens, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(fmt.Sprintf(":%d", cfg.Port))
	}()
	log.Info("briefcast listening", "port", cfg.Port, "version", Version)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := srv.Shutdown(); err != nil {
		log.Warn("server shutdown", "error", err)
	}
	// Run's final flush also fires on ctx cancel; Flush here makes the
	// last snapshot synchronous before exit.
	st.Flush(context.Background())
	return nil
}
