package cmd

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Lupando/Kalix.Leo/backend"
	"github.com/Lupando/Kalix.Leo/crypto"
	"github.com/Lupando/Kalix.Leo/queue"
	"github.com/Lupando/Kalix.Leo/securestore"
)

// createSecureStore wires a backend.Store plus the encryptor, compressor
// and queues selected by flags into one securestore.SecureStore, shared by
// the serve and reindex commands.
func createSecureStore(ctx context.Context, v *viper.Viper, l *zap.Logger, b backend.Store) (*securestore.SecureStore, error) {
	var opts []securestore.Option

	if key := encryptionKeyFlag(v); key != "" {
		cipher, err := crypto.NewStreamCipher([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("failed to build stream cipher: %w", err)
		}
		opts = append(opts, securestore.WithEncryptor(cipher))
	}

	if compressionEnabledFlag(v) {
		opts = append(opts, securestore.WithCompression(crypto.NewZstdCompressor(zstd.SpeedDefault)))
	}

	if topic := indexQueueTopicFlag(v); topic != "" {
		q, err := queue.OpenGoCloudQueue(ctx, l, topic, "")
		if err != nil {
			return nil, fmt.Errorf("failed to open index queue: %w", err)
		}
		opts = append(opts, securestore.WithIndexQueue(q))
	}

	if topic := backupQueueTopicFlag(v); topic != "" {
		q, err := queue.OpenGoCloudQueue(ctx, l, topic, "")
		if err != nil {
			return nil, fmt.Errorf("failed to open backup queue: %w", err)
		}
		opts = append(opts, securestore.WithBackupQueue(q))
	}

	return securestore.New(l, b, opts...), nil
}
