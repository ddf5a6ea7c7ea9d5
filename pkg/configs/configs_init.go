package configs

import (
	"log"

	"github.com/spf13/viper"
)

func InitConfig(appConfigs *AppConfigs) {
	setDefaults()

	staticConfig := appConfigs.GetStaticConfig()
	cfg, ok := staticConfig.(*Configs)
	if !ok {
		log.Fatal("Failed to cast static config to *Configs")
	}

	// Manually bind environment variables to mapstructure keys
	// This ensures proper mapping from env vars to struct fields
	bindEnvVars()

	if err := viper.Unmarshal(cfg); err != nil {
		log.Fatalf("Failed to unmarshal config from environment: %v", err)
	}

	log.Println("Configuration loaded from environment variables")
}

func setDefaults() {
	viper.SetDefault("app_env", "local")
	viper.SetDefault("app_log_level", "INFO")
	viper.SetDefault("app_name", "arbiter")
	viper.SetDefault("app_host", "127.0.0.1")
	viper.SetDefault("app_port", 8000)

	viper.SetDefault("scheduler_batchSize", 8)
	viper.SetDefault("scheduler_tickDurationMs", 100)
	viper.SetDefault("scheduler_queueCapacity", 1024)
	viper.SetDefault("scheduler_maxSequenceLength", 512)
	viper.SetDefault("scheduler_truncateInputs", true)

	viper.SetDefault("model_tokenizerEncoding", "cl100k_base")

	viper.SetDefault("backendClientV1_deadlineMs", 10000)

	viper.SetDefault("resultCache_ttlSec", 300)
	viper.SetDefault("kafka_auditPercent", 10)

	viper.SetDefault("metrics_sampling_rate", "0.0")
	viper.SetDefault("telegraf_host", "localhost")
	viper.SetDefault("telegraf_port", "8125")
}

func bindEnvVars() {
	// Application config
	viper.BindEnv("app_env", "APP_ENV")
	viper.BindEnv("app_log_level", "APP_LOG_LEVEL")
	viper.BindEnv("app_name", "APP_NAME")
	viper.BindEnv("app_host", "HOST")
	viper.BindEnv("app_port", "PORT")

	// Scheduler config
	viper.BindEnv("scheduler_batchSize", "BATCH_SIZE")
	viper.BindEnv("scheduler_tickDurationMs", "TICK_DURATION_MS")
	viper.BindEnv("scheduler_queueCapacity", "QUEUE_CAPACITY")
	viper.BindEnv("scheduler_maxSequenceLength", "MAX_SEQUENCE_LENGTH")
	viper.BindEnv("scheduler_truncateInputs", "TRUNCATE_INPUTS")

	// Model config
	viper.BindEnv("model_name", "MODEL_NAME")
	viper.BindEnv("model_path", "MODEL_PATH")
	viper.BindEnv("model_id2Label", "ID2LABEL")
	viper.BindEnv("model_tokenizerEncoding", "TOKENIZER_ENCODING")

	// Backend client config
	viper.BindEnv("backendClientV1_host", "BACKEND_CLIENT_V1_HOST")
	viper.BindEnv("backendClientV1_port", "BACKEND_CLIENT_V1_PORT")
	viper.BindEnv("backendClientV1_deadlineMs", "BACKEND_CLIENT_V1_DEADLINE_MS")

	// Result cache config
	viper.BindEnv("resultCache_sizeInBytes", "RESULT_CACHE_SIZE_IN_BYTES")
	viper.BindEnv("resultCache_ttlSec", "RESULT_CACHE_TTL_SEC")

	// Kafka audit config
	viper.BindEnv("kafka_bootstrapServers", "KAFKA_BOOTSTRAP_SERVERS")
	viper.BindEnv("kafka_auditTopic", "KAFKA_AUDIT_TOPIC")
	viper.BindEnv("kafka_auditPercent", "KAFKA_AUDIT_PERCENT")

	// Telegraf config
	viper.BindEnv("metrics_sampling_rate", "METRICS_SAMPLING_RATE")
	viper.BindEnv("telegraf_host", "TELEGRAF_HOST")
	viper.BindEnv("telegraf_port", "TELEGRAF_PORT")
}
