// Command workflow-service boots the orchestration engine: it wires the
// tool registry, discovery adapter, executor, execution registry, template
// library, and public HTTP API into one process and serves the API until
// interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	"github.com/workflowcore/orchestrator/internal/config"
	"github.com/workflowcore/orchestrator/pkg/api"
	"github.com/workflowcore/orchestrator/pkg/discovery"
	"github.com/workflowcore/orchestrator/pkg/execregistry"
	"github.com/workflowcore/orchestrator/pkg/execregistry/store"
	"github.com/workflowcore/orchestrator/pkg/execregistry/store/memory"
	mongostore "github.com/workflowcore/orchestrator/pkg/execregistry/store/mongo"
	redisstore "github.com/workflowcore/orchestrator/pkg/execregistry/store/redis"
	s3store "github.com/workflowcore/orchestrator/pkg/execregistry/store/s3"
	"github.com/workflowcore/orchestrator/pkg/executor"
	"github.com/workflowcore/orchestrator/pkg/graph"
	"github.com/workflowcore/orchestrator/pkg/httpclient"
	"github.com/workflowcore/orchestrator/pkg/telemetry"
	"github.com/workflowcore/orchestrator/pkg/templates"
	"github.com/workflowcore/orchestrator/pkg/toolbinding"
)

const serviceName = "workflow-service"
const serviceVersion = "0.1.0"

func main() {
	cfg := config.Load()

	root := &cobra.Command{
		Use:   serviceName,
		Short: "Workflow orchestration engine HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.Flags().StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "address the HTTP API listens on")
	root.Flags().StringVar(&cfg.TemplatesDir, "templates-dir", cfg.TemplatesDir, "directory of additional YAML workflow templates")
	root.Flags().StringVar(&cfg.DescriptorsDir, "descriptors-dir", cfg.DescriptorsDir, "directory of YAML service descriptors to register at startup")
	root.Flags().StringVar(&cfg.Persistence, "persistence", cfg.Persistence, "terminal-record persistence backend: memory|redis|mongo|s3")
	root.Flags().BoolVar(&cfg.WatchReload, "watch-reload", cfg.WatchReload, "hot-reload templates and descriptors on file change")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	ctx = log.Context(ctx, log.WithFormat(log.FormatJSON))
	logger := telemetry.NewClueLogger()
	tracer := telemetry.NewClueTracer()
	metrics := telemetry.NewClueMetrics()

	tools := toolbinding.New()
	conditions := graph.NewConditionRegistry()
	registerConditions(conditions)

	if cfg.DescriptorsDir != "" {
		adapter := discovery.New(tools, logger)
		if err := adapter.LoadDir(ctx, cfg.DescriptorsDir); err != nil {
			return fmt.Errorf("load service descriptors: %w", err)
		}
		if cfg.WatchReload {
			stop, err := adapter.Watch(ctx, cfg.DescriptorsDir)
			if err != nil {
				return fmt.Errorf("watch service descriptors: %w", err)
			}
			defer stop()
		}
	}

	client := httpclient.New(
		httpclient.WithTimeout(cfg.ToolTimeout),
		httpclient.WithTelemetry(logger, tracer),
		httpclient.WithServiceRateLimit(50, 100),
	)
	exec := executor.New(tools, client, executor.WithTelemetry(logger, tracer, metrics))

	sink, closeSink, err := buildSink(ctx, cfg)
	if err != nil {
		return err
	}
	if closeSink != nil {
		defer closeSink()
	}

	registry := execregistry.New(exec,
		execregistry.WithSink(sink),
		execregistry.WithTelemetry(logger, metrics),
		execregistry.WithMaxConcurrent(cfg.MaxConcurrent),
		execregistry.WithAdmissionCap(cfg.AdmissionCap),
		execregistry.WithRetention(cfg.RetentionWindow),
		execregistry.WithLRUCap(cfg.LRUCap),
	)

	library := templates.New(conditions, logger)
	if err := templates.RegisterBuiltins(library); err != nil {
		return fmt.Errorf("register builtin templates: %w", err)
	}
	if cfg.TemplatesDir != "" {
		if err := library.LoadDir(cfg.TemplatesDir); err != nil {
			return fmt.Errorf("load templates: %w", err)
		}
		if cfg.WatchReload {
			stop, err := library.Watch(ctx, cfg.TemplatesDir)
			if err != nil {
				return fmt.Errorf("watch templates: %w", err)
			}
			defer stop()
		}
	}

	server := api.New(library, registry, conditions, logger, serviceName, serviceVersion)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "listening", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-sigCh:
		logger.Info(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
	return nil
}

func buildSink(ctx context.Context, cfg config.Config) (store.Sink, func(), error) {
	switch cfg.Persistence {
	case "", "memory":
		return memory.New(), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return redisstore.New(client, cfg.RetentionWindow), func() { client.Close() }, nil
	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		collection := client.Database(cfg.MongoDatabase).Collection("executions")
		sink := mongostore.New(collection)
		if err := sink.EnsureIndexes(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return sink, func() { _ = client.Disconnect(ctx) }, nil
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return s3store.New(client, cfg.S3Bucket), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown persistence backend: %s", cfg.Persistence)
	}
}

// registerConditions binds the named condition functions referenced by
// conditional_router nodes in inline or YAML-loaded workflow definitions.
// has_retryable_error returns "retry_analysis" when the state value
// last_error_retryable is the boolean true, and "end" otherwise. It does not
// consult the retry count or max_retries, and the executor never writes
// last_error_retryable itself; a node's output_mapping has to set it.
func registerConditions(conditions *graph.ConditionRegistry) {
	conditions.Register("has_retryable_error", func(get func(string) (any, bool)) string {
		if v, ok := get("last_error_retryable"); ok {
			if b, ok := v.(bool); ok && b {
				return "retry_analysis"
			}
		}
		return "end"
	})
}
