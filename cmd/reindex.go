package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Lupando/Kalix.Leo/internal/log"
	"github.com/Lupando/Kalix.Leo/securestore"
)

// NewReindexCommand drives securestore.ReIndexAll over a container/prefix,
// the operational counterpart to spec §4.2's ReIndexAll.
func NewReindexCommand() *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Re-emit index events for every current file under a container/prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			l := log.Logger()
			ctx := cmd.Context()

			container := containerFlag(v)
			if container == "" {
				return fmt.Errorf("--container is required")
			}

			b, err := createBackend(ctx, v, l)
			if err != nil {
				return fmt.Errorf("failed to create backend: %w", err)
			}

			store, err := createSecureStore(ctx, v, l, b)
			if err != nil {
				return fmt.Errorf("failed to create secure store: %w", err)
			}
			defer func() {
				if cerr := store.Close(); cerr != nil {
					l.Warn("failed to close secure store", zap.Error(cerr))
				}
			}()

			opts := securestore.None
			if keepDeletesFlag(v) {
				opts |= securestore.KeepDeletes
			}

			if err := store.ReIndexAll(ctx, container, prefixFlag(v), opts); err != nil {
				return fmt.Errorf("reindex failed: %w", err)
			}

			l.Info("reindex complete", zap.String("container", container), zap.String("prefix", prefixFlag(v)))
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
	addContainerFlag(flags, v)
	addPrefixFlag(flags, v)
	addKeepDeletesFlag(flags, v)

	return cmd
}
