package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Lupando/Kalix.Leo/indexlistener"
	"github.com/Lupando/Kalix.Leo/queue"
)

// openIndexQueue opens the consumer side of the index queue for the
// serve command's Index Listener.
func openIndexQueue(ctx context.Context, v *viper.Viper, l *zap.Logger) (*queue.GoCloudQueue, error) {
	sub := indexQueueSubFlag(v)
	if sub == "" {
		return nil, fmt.Errorf("index-queue-sub is required to run the Index Listener")
	}
	return queue.OpenGoCloudQueue(ctx, l, "", sub)
}

// buildIndexerRegistry is the integration point where a deployment
// registers its type and path indexers (spec §4.3); Leo itself ships no
// concrete indexer implementations.
func buildIndexerRegistry() (*indexlistener.Registry, error) {
	return indexlistener.NewRegistry(), nil
}
