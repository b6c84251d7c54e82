package cmd

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func logLevelFlag(v *viper.Viper) string {
	return v.GetString("log.level")
}

func addLogLevelFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("log-level", "info", "log level")
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindEnv("log.level", "LEO_LOG_LEVEL")
}

func logFormatFlag(v *viper.Viper) string {
	return v.GetString("log.format")
}

func addLogFormatFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("log-format", "json", "log format")
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = v.BindEnv("log.format", "LEO_LOG_FORMAT")
}

func backendFlag(v *viper.Viper) string {
	return v.GetString("backend")
}

func addBackendFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("backend", "memblob", "Backend Store Adapter to use: memblob, azureblob, s3")
	_ = v.BindPFlag("backend", flags.Lookup("backend"))
	_ = v.BindEnv("backend", "LEO_BACKEND")
}

func azureConnectionStringFlag(v *viper.Viper) string {
	return v.GetString("azure.connection_string")
}

func addAzureConnectionStringFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("azure-connection-string", "", "Azure Blob Storage connection string (backend=azureblob)")
	_ = v.BindPFlag("azure.connection_string", flags.Lookup("azure-connection-string"))
	_ = v.BindEnv("azure.connection_string", "LEO_AZURE_CONNECTION_STRING")
}

func s3BucketFlag(v *viper.Viper) string {
	return v.GetString("s3.bucket")
}

func addS3BucketFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("s3-bucket", "", "S3 bucket name (backend=s3)")
	_ = v.BindPFlag("s3.bucket", flags.Lookup("s3-bucket"))
	_ = v.BindEnv("s3.bucket", "LEO_S3_BUCKET")
}

func s3RegionFlag(v *viper.Viper) string {
	return v.GetString("s3.region")
}

func addS3RegionFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("s3-region", "us-east-1", "S3 bucket region (backend=s3)")
	_ = v.BindPFlag("s3.region", flags.Lookup("s3-region"))
	_ = v.BindEnv("s3.region", "LEO_S3_REGION")
}

func encryptionKeyFlag(v *viper.Viper) string {
	return v.GetString("encryption.key")
}

func addEncryptionKeyFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("encryption-key", "", "32-byte key for XChaCha20-Poly1305; empty disables encryption")
	_ = v.BindPFlag("encryption.key", flags.Lookup("encryption-key"))
	_ = v.BindEnv("encryption.key", "LEO_ENCRYPTION_KEY")
}

func compressionEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("compression.enabled")
}

func addCompressionEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("compression-enabled", true, "Offer zstd compression to SecureStore callers that request it")
	_ = v.BindPFlag("compression.enabled", flags.Lookup("compression-enabled"))
	_ = v.BindEnv("compression.enabled", "LEO_COMPRESSION_ENABLED")
}

func indexQueueTopicFlag(v *viper.Viper) string {
	return v.GetString("queue.index.topic")
}

func addIndexQueueTopicFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("index-queue-topic", "", "gocloud.dev pubsub topic URL for index events; empty disables index dispatch")
	_ = v.BindPFlag("queue.index.topic", flags.Lookup("index-queue-topic"))
	_ = v.BindEnv("queue.index.topic", "LEO_INDEX_QUEUE_TOPIC")
}

func indexQueueSubFlag(v *viper.Viper) string {
	return v.GetString("queue.index.sub")
}

func addIndexQueueSubFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("index-queue-sub", "", "gocloud.dev pubsub subscription URL the Index Listener consumes from")
	_ = v.BindPFlag("queue.index.sub", flags.Lookup("index-queue-sub"))
	_ = v.BindEnv("queue.index.sub", "LEO_INDEX_QUEUE_SUB")
}

func backupQueueTopicFlag(v *viper.Viper) string {
	return v.GetString("queue.backup.topic")
}

func addBackupQueueTopicFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("backup-queue-topic", "", "gocloud.dev pubsub topic URL for backup events; empty disables backup dispatch")
	_ = v.BindPFlag("queue.backup.topic", flags.Lookup("backup-queue-topic"))
	_ = v.BindEnv("queue.backup.topic", "LEO_BACKUP_QUEUE_TOPIC")
}

func indexParallelismFlag(v *viper.Viper) int {
	return v.GetInt("index.parallelism")
}

func addIndexParallelismFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int("index-parallelism", 0, "Index Listener consumer goroutine count; 0 uses GOMAXPROCS")
	_ = v.BindPFlag("index.parallelism", flags.Lookup("index-parallelism"))
	_ = v.BindEnv("index.parallelism", "LEO_INDEX_PARALLELISM")
}

func gracefulTimeoutFlag(v *viper.Viper) time.Duration {
	return v.GetDuration("graceful_timeout")
}

func addGracefulTimeoutFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Duration("graceful-timeout", 0, "Timeout duration for graceful shutdown")
	_ = v.BindPFlag("graceful_timeout", flags.Lookup("graceful-timeout"))
	_ = v.BindEnv("graceful_timeout", "LEO_GRACEFUL_TIMEOUT")
}

func serviceHealthzEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("service.healthz.enabled")
}

func addServiceHealthzEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("service-healthz-enabled", true, "Enable healthz service")
	_ = v.BindPFlag("service.healthz.enabled", flags.Lookup("service-healthz-enabled"))
}

func servicePrometheusEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("service.prometheus.enabled")
}

func addServicePrometheusEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("service-prometheus-enabled", true, "Enable prometheus service")
	_ = v.BindPFlag("service.prometheus.enabled", flags.Lookup("service-prometheus-enabled"))
}

func otelEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("otel.enabled")
}

func addOtelEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("otel-enabled", false, "Enable otel service")
	_ = v.BindPFlag("otel.enabled", flags.Lookup("otel-enabled"))
	_ = v.BindEnv("otel.enabled", "OTEL_ENABLED")
}

func containerFlag(v *viper.Viper) string {
	return v.GetString("container")
}

func addContainerFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("container", "", "Container to operate on")
	_ = v.BindPFlag("container", flags.Lookup("container"))
	_ = v.BindEnv("container", "LEO_CONTAINER")
}

func prefixFlag(v *viper.Viper) string {
	return v.GetString("prefix")
}

func addPrefixFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("prefix", "", "Only walk keys under this prefix")
	_ = v.BindPFlag("prefix", flags.Lookup("prefix"))
	_ = v.BindEnv("prefix", "LEO_PREFIX")
}

func keepDeletesFlag(v *viper.Viper) bool {
	return v.GetBool("keep_deletes")
}

func addKeepDeletesFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("keep-deletes", false, "Include soft-deleted keys when walking")
	_ = v.BindPFlag("keep_deletes", flags.Lookup("keep-deletes"))
	_ = v.BindEnv("keep_deletes", "LEO_KEEP_DELETES")
}
