package cmd

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Lupando/Kalix.Leo/backend"
	"github.com/Lupando/Kalix.Leo/backend/azureblob"
	"github.com/Lupando/Kalix.Leo/backend/memblob"
	bs3 "github.com/Lupando/Kalix.Leo/backend/s3"
)

// createBackend builds the Backend Store Adapter selected by the
// "backend" flag, mirroring cmd/http.go's createStorage switch over
// storage-type.
func createBackend(ctx context.Context, v *viper.Viper, l *zap.Logger) (backend.Store, error) {
	name := backendFlag(v)
	l.Info("creating backend", zap.String("backend", name))

	switch name {
	case "memblob", "":
		return memblob.New(l), nil
	case "azureblob":
		cs := azureConnectionStringFlag(v)
		if cs == "" {
			return nil, fmt.Errorf("azure-connection-string is required when backend=azureblob")
		}
		return azureblob.NewFromConnectionString(l, cs)
	case "s3":
		bucket := s3BucketFlag(v)
		if bucket == "" {
			return nil, fmt.Errorf("s3-bucket is required when backend=s3")
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s3RegionFlag(v)))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return bs3.New(l, s3.NewFromConfig(cfg)), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s (supported: memblob, azureblob, s3)", name)
	}
}
