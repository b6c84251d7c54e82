package cmd

import (
	"context"
	"fmt"

	"github.com/foomo/keel"
	"github.com/foomo/keel/healthz"
	"github.com/foomo/keel/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Lupando/Kalix.Leo/indexlistener"
)

// NewServeCommand runs the backend and the Index Listener as an
// errgroup-supervised keel service, with keel's own healthz/prometheus
// services exposing the status/metrics endpoint (WithHTTPHealthzService,
// WithHTTPPrometheusService), mirroring cmd/http.go's
// svr.AddServices(service.NewGoRoutine(...), ...) wiring.
func NewServeCommand() *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Index Listener and the status/metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			svr := keel.NewServer(
				keel.WithHTTPPrometheusService(servicePrometheusEnabledFlag(v)),
				keel.WithHTTPHealthzService(serviceHealthzEnabledFlag(v)),
				keel.WithPrometheusMeter(servicePrometheusEnabledFlag(v)),
				keel.WithGracefulPeriod(gracefulTimeoutFlag(v)),
				keel.WithOTLPGRPCTracer(otelEnabledFlag(v)),
			)

			l := svr.Logger()
			ctx := cmd.Context()

			b, err := createBackend(ctx, v, l)
			if err != nil {
				return fmt.Errorf("failed to create backend: %w", err)
			}

			store, err := createSecureStore(ctx, v, l, b)
			if err != nil {
				return fmt.Errorf("failed to create secure store: %w", err)
			}
			svr.AddClosers(func(context.Context) error {
				return store.Close()
			})

			registry, err := buildIndexerRegistry()
			if err != nil {
				return fmt.Errorf("failed to build indexer registry: %w", err)
			}

			if sub := indexQueueSubFlag(v); sub != "" {
				q, err := openIndexQueue(ctx, v, l)
				if err != nil {
					return fmt.Errorf("failed to open index queue: %w", err)
				}
				lst := indexlistener.New(l, q, registry, indexlistener.WithParallelism(indexParallelismFlag(v)))

				ready := healthz.NewHealthzerFn(func(context.Context) error { return nil })
				svr.AddStartupHealthzers(ready)
				svr.AddReadinessHealthzers(ready)

				svr.AddServices(
					service.NewGoRoutine(l.Named("go.indexlistener"), "indexlistener", func(ctx context.Context, l *zap.Logger) error {
						return lst.Start(ctx)
					}),
				)
			}

			svr.Run()
			return nil
		},
	}

	flags := cmd.Flags()
	addBackendFlag(flags, v)
	addAzureConnectionStringFlag(flags, v)
	addS3BucketFlag(flags, v)
	addS3RegionFlag(flags, v)
	addEncryptionKeyFlag(flags, v)
	addCompressionEnabledFlag(flags, v)
	addIndexQueueTopicFlag(flags, v)
	addIndexQueueSubFlag(flags, v)
	addBackupQueueTopicFlag(flags, v)
	addIndexParallelismFlag(flags, v)
	addGracefulTimeoutFlag(flags, v)
	addOtelEnabledFlag(flags, v)
	addServiceHealthzEnabledFlag(flags, v)
	addServicePrometheusEnabledFlag(flags, v)

	return cmd
}
