package configs

type Configs struct {
	ApplicationEnv      string `mapstructure:"app_env"`
	ApplicationLogLevel string `mapstructure:"app_log_level"`
	ApplicationName     string `mapstructure:"app_name"`
	ApplicationHost     string `mapstructure:"app_host"`
	ApplicationPort     int    `mapstructure:"app_port"`

	//scheduler-config
	BatchSize      int  `mapstructure:"scheduler_batchSize"`
	TickDurationMs int  `mapstructure:"scheduler_tickDurationMs"`
	QueueCapacity  int  `mapstructure:"scheduler_queueCapacity"`
	MaxSeqLength   int  `mapstructure:"scheduler_maxSequenceLength"`
	TruncateInputs bool `mapstructure:"scheduler_truncateInputs"`

	//model-config
	ModelName         string `mapstructure:"model_name"`
	ModelPath         string `mapstructure:"model_path"`
	ModelId2Label     string `mapstructure:"model_id2Label"`
	TokenizerEncoding string `mapstructure:"model_tokenizerEncoding"`

	//backend-config
	BackendHost       string `mapstructure:"backendClientV1_host"`
	BackendPort       int    `mapstructure:"backendClientV1_port"`
	BackendDeadlineMs int    `mapstructure:"backendClientV1_deadlineMs"`

	//result-cache-config
	ResultCacheSizeInBytes int `mapstructure:"resultCache_sizeInBytes"`
	ResultCacheTTLSec      int `mapstructure:"resultCache_ttlSec"`

	//kafka-audit-config
	KafkaBootstrapServers string `mapstructure:"kafka_bootstrapServers"`
	KafkaAuditTopic       string `mapstructure:"kafka_auditTopic"`
	KafkaAuditPercent     int    `mapstructure:"kafka_auditPercent"`

	//telegraf-config
	MetricsSamplingRate string `mapstructure:"metrics_sampling_rate"`
	Telegraf_Host       string `mapstructure:"telegraf_host"`
	Telegraf_Port       string `mapstructure:"telegraf_port"`
}

type AppConfigs struct {
	Configs Configs
}

func (a *AppConfigs) GetStaticConfig() interface{} {
	return &a.Configs
}
