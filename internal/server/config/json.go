package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/corpass/corpass/internal/flagx"
	"github.com/corpass/corpass/internal/timex"
)

// JsonConfig is the DTO for reading JSON configuration files. Interval
// fields use timex.Duration, which accepts both "15m" strings and integer
// nanoseconds; after unmarshalling, values are copied into Config.
type JsonConfig struct {
	EndpointAddrGRPC             string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	EncryptionSecret             string         `json:"encryption_secret"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	ThrottleThreshold            int            `json:"throttle_threshold"`
	ThrottleWindow               timex.Duration `json:"throttle_window"`
	ThrottleLockDuration         timex.Duration `json:"throttle_lock_duration"`
	RedisAddr                    string         `json:"redis_addr"`
	S3RootUser                   string         `json:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket"`
	S3Region                     string         `json:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint"`
}

// parseJson overlays values from the JSON file named by the -c/-config
// flags, if any. A missing flag means no JSON is loaded; an unreadable or
// invalid file panics, since the process cannot start misconfigured.
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

	config.EndpointAddrGRPC = c.EndpointAddrGRPC
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.EncryptionSecret = c.EncryptionSecret
	config.AccessTokenValidityDuration = time.Duration(c.AccessTokenValidityDuration.Duration)
	config.RefreshTokenValidityDuration = time.Duration(c.RefreshTokenValidityDuration.Duration)
	config.ThrottleThreshold = c.ThrottleThreshold
	config.ThrottleWindow = time.Duration(c.ThrottleWindow.Duration)
	config.ThrottleLockDuration = time.Duration(c.ThrottleLockDuration.Duration)
	config.RedisAddr = c.RedisAddr
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
