package config

import (
	"encoding/json"
	"os"

	"github.com/verifai/verifai/internal/flagx"
	"github.com/verifai/verifai/internal/timex"
)

// JsonConfig is the DTO used only for reading JSON configuration files.
// Duration fields accept both strings ("24h") and integer nanoseconds via
// timex.Duration. After unmarshalling, non-zero values are copied into the
// runtime Config.
type JsonConfig struct {
	EndpointAddr           string         `json:"endpoint_addr"`
	DatabaseDSN            string         `json:"database_dsn"`
	S3RootUser             string         `json:"s3_root_user"`
	S3RootPassword         string         `json:"s3_root_password"`
	S3Bucket               string         `json:"s3_bucket"`
	S3Region               string         `json:"s3_region"`
	S3BaseEndpoint         string         `json:"s3_base_endpoint"`
	InferenceURL           string         `json:"inference_url"`
	CallbackBaseURL        string         `json:"callback_base_url"`
	SharedSecret           string         `json:"shared_secret"`
	ReportTTL              timex.Duration `json:"report_ttl"`
	UploadExpiry           timex.Duration `json:"upload_expiry"`
	MaxUploadSize          int64          `json:"max_upload_size"`
	DailyRequestLimit      int64          `json:"daily_request_limit"`
	BurstInterval          timex.Duration `json:"burst_interval"`
	RateLimitRetentionDays int            `json:"rate_limit_retention_days"`
	SweepInterval          timex.Duration `json:"sweep_interval"`
	DispatchMode           string         `json:"dispatch_mode"`
	AMQPURL                string         `json:"amqp_url"`
	AMQPExchange           string         `json:"amqp_exchange"`
	AMQPRoutingKey         string         `json:"amqp_routing_key"`
	AMQPQueue              string         `json:"amqp_queue"`
	DispatchMaxAttempts    int            `json:"dispatch_max_attempts"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config flags; if
// neither is set, no JSON file is loaded. Unset fields keep their previous
// values. The function panics on an unreadable file or invalid JSON.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddr, c.EndpointAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.InferenceURL, c.InferenceURL)
	setString(&config.CallbackBaseURL, c.CallbackBaseURL)
	setString(&config.SharedSecret, c.SharedSecret)
	setString(&config.DispatchMode, c.DispatchMode)
	setString(&config.AMQPURL, c.AMQPURL)
	setString(&config.AMQPExchange, c.AMQPExchange)
	setString(&config.AMQPRoutingKey, c.AMQPRoutingKey)
	setString(&config.AMQPQueue, c.AMQPQueue)

	if c.ReportTTL.Duration != 0 {
		config.ReportTTL = c.ReportTTL.Duration
	}
	if c.UploadExpiry.Duration != 0 {
		config.UploadExpiry = c.UploadExpiry.Duration
	}
	if c.BurstInterval.Duration != 0 {
		config.BurstInterval = c.BurstInterval.Duration
	}
	if c.SweepInterval.Duration != 0 {
		config.SweepInterval = c.SweepInterval.Duration
	}
	if c.MaxUploadSize != 0 {
		config.MaxUploadSize = c.MaxUploadSize
	}
	if c.DailyRequestLimit != 0 {
		config.DailyRequestLimit = c.DailyRequestLimit
	}
	if c.RateLimitRetentionDays != 0 {
		config.RateLimitRetentionDays = c.RateLimitRetentionDays
	}
	if c.DispatchMaxAttempts != 0 {
		config.DispatchMaxAttempts = c.DispatchMaxAttempts
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
