// Package config provides utilities to load environment variables & set config structs, it includes app, redis, db, amqp, minio, dispatch and http server environment variables.
package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// AppConfig contains environment variables for the application, shared state
// store, archive database, settlement relay, block store and dispatch timings
type (
	AppConfig struct {
		App        *App        `mapstructure:"app"`
		Redis      *Redis      `mapstructure:"redis"`
		Logger     *Logger     `mapstructure:"logger"`
		DB         *DB         `mapstructure:"db"`
		Amqp       *Amqp       `mapstructure:"amqp"`
		Minio      *Minio      `mapstructure:"minio"`
		Prometheus *Prometheus `mapstructure:"prometheus"`
		HTTP       *HTTP       `mapstructure:"http"`
		Dispatch   *Dispatch   `mapstructure:"dispatch"`
	}

	// App contains all the environment variables for the application
	App struct {
		Name  string `mapstructure:"name"`
		Env   string `mapstructure:"env"`
		Owner string `mapstructure:"owner"`
	}

	// Redis contains all the environment variables for the shared state store
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	}

	// DB contains all the environment variables for the archive database
	DB struct {
		Connection string `mapstructure:"connection"`
		Host       string `mapstructure:"host"`
		Port       string `mapstructure:"port"`
		User       string `mapstructure:"user"`
		Password   string `mapstructure:"password"`
		Name       string `mapstructure:"name"`
	}

	// Amqp contains all the environment variables for the settlement relay broker
	Amqp struct {
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		VHost    string `mapstructure:"vhost"`
		Exchange string `mapstructure:"exchange"`
	}

	// Minio contains all the environment variables for the content block store
	Minio struct {
		Endpoint  string `mapstructure:"endpoint"`
		AccessKey string `mapstructure:"accessKey"`
		SecretKey string `mapstructure:"secretKey"`
		Bucket    string `mapstructure:"bucket"`
		UseSSL    bool   `mapstructure:"useSSL"`
	}

	// Prometheus contains the monitoring query endpoint; empty disables
	// utilization enrichment in stats
	Prometheus struct {
		URL string `mapstructure:"url"`
	}

	// HTTP contains the gateway listen settings
	HTTP struct {
		Addr string `mapstructure:"addr"`
	}

	// Dispatch contains the coordination timings. The heartbeat TTL is the
	// store-level liveness window; the staleness threshold is the coordinator's
	// independent, stricter safety net and must exceed the TTL.
	Dispatch struct {
		HeartbeatTTL       time.Duration `mapstructure:"heartbeatTTL"`
		HeartbeatInterval  time.Duration `mapstructure:"heartbeatInterval"`
		SweepInterval      time.Duration `mapstructure:"sweepInterval"`
		StalenessThreshold time.Duration `mapstructure:"stalenessThreshold"`
		ArchiveRetention   time.Duration `mapstructure:"archiveRetention"`
	}

	// Logger contains all the environment variables for the logger
	Logger struct {
		Level             string                `mapstructure:"level"`
		Development       bool                  `mapstructure:"development"`
		DisableStacktrace bool                  `mapstructure:"disableStacktrace"`
		Encoding          string                `mapstructure:"encoding"`
		EncoderConfig     zapcore.EncoderConfig `mapstructure:"encoderConfig"`
	}
)

// addZapEncoderConfig fills encoder config with zapcore types
func addZapEncoderConfig(cfg *zapcore.EncoderConfig) {
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.SecondsDurationEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncodeName = func(s string, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString("[" + s + "]")
	}
}

// AddDispatchDefaults fills zero timing values with the documented defaults
func AddDispatchDefaults(cfg *Dispatch) {
	if cfg.HeartbeatTTL == 0 {
		cfg.HeartbeatTTL = 300 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	if cfg.StalenessThreshold == 0 {
		cfg.StalenessThreshold = 360 * time.Second
	}
	if cfg.ArchiveRetention == 0 {
		cfg.ArchiveRetention = 7 * 24 * time.Hour
	}
}

// New creates a new AppConfig instance
func New() *AppConfig {
	// Set up viper to read the config.yaml file
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/secrets/")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("env")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Fatalf("config file not found: %v", err)
		} else {
			log.Fatalf("error reading config file: %v", err)
		}
	}

	// Bind the app.name key to the APP_NAME environment variable
	if err := viper.BindEnv("app.name", "APP_NAME"); err != nil {
		log.Fatalf("error finding APP_NAME env variable")
	}

	// Bind DB variables
	viper.BindEnv("db.host", "PG_HOST")
	viper.BindEnv("db.port", "PG_PORT")
	viper.BindEnv("db.user", "PG_USER")
	viper.BindEnv("db.password", "PG_PASS")
	viper.BindEnv("db.name", "PG_DB")

	// Bind Redis variables
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Bind Amqp variables
	viper.BindEnv("amqp.host", "MQ_HOST")
	viper.BindEnv("amqp.port", "MQ_PORT")
	viper.BindEnv("amqp.user", "MQ_USER")
	viper.BindEnv("amqp.password", "MQ_PASS")

	// Bind Minio variables
	viper.BindEnv("minio.endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("minio.accessKey", "MINIO_ACCESS_KEY")
	viper.BindEnv("minio.secretKey", "MINIO_SECRET_KEY")

	// Create an instance of AppConfig
	var config *AppConfig
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("unable to decode into struct: %v", err)
	}
	addZapEncoderConfig(&config.Logger.EncoderConfig)
	if config.Dispatch == nil {
		config.Dispatch = &Dispatch{}
	}
	AddDispatchDefaults(config.Dispatch)
	if config.HTTP == nil {
		config.HTTP = &HTTP{Addr: ":8080"}
	}

	return config
}
