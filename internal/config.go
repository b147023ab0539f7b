package internal

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr     string            `mapstructure:"listen_addr"`
	AllowedOrigins []string          `mapstructure:"allowed_origins"`
	Database       DatabaseConfig    `mapstructure:"database"`
	Coordinator    CoordinatorConfig `mapstructure:"coordinator"`
	Primary        DriveConfig       `mapstructure:"primary_drive"`
	Secondary      S3Config          `mapstructure:"secondary_drive"`
	Sheet          SheetConfig       `mapstructure:"sheet"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

type CoordinatorConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type DriveConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
	VideoFolder     string `mapstructure:"video_folder"`
	ThumbnailFolder string `mapstructure:"thumbnail_folder"`
	ChunkSize       int64  `mapstructure:"chunk_size"`
	ChunkThreshold  int64  `mapstructure:"chunk_threshold"`
	Concurrency     int    `mapstructure:"concurrency"`
}

type S3Config struct {
	Endpoint       string `mapstructure:"endpoint"`
	Bucket         string `mapstructure:"bucket"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	Region         string `mapstructure:"region"`
	UseSSL         bool   `mapstructure:"use_ssl"`
	Prefix         string `mapstructure:"prefix"`
	ChunkSize      int64  `mapstructure:"chunk_size"`
	ChunkThreshold int64  `mapstructure:"chunk_threshold"`
	Concurrency    int    `mapstructure:"concurrency"`
}

type SheetConfig struct {
	CredentialsFile string        `mapstructure:"credentials_file"`
	TokenFile       string        `mapstructure:"token_file"`
	SpreadsheetID   string        `mapstructure:"spreadsheet_id"`
	SheetName       string        `mapstructure:"sheet_name"`
	BatchSize       int           `mapstructure:"batch_size"`
	BatchPause      time.Duration `mapstructure:"batch_pause"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile("files/config.yaml")

	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("database.path", "files/mediasync.db")
	viper.SetDefault("database.migrations_path", "file://files/migrations")
	viper.SetDefault("coordinator.max_attempts", 3)
	viper.SetDefault("coordinator.initial_backoff", "1s")
	viper.SetDefault("coordinator.max_backoff", "30s")
	viper.SetDefault("primary_drive.video_folder", "Videos")
	viper.SetDefault("primary_drive.thumbnail_folder", "Thumbnails")
	viper.SetDefault("primary_drive.chunk_size", 8*1024*1024)
	viper.SetDefault("primary_drive.chunk_threshold", 10*1024*1024)
	viper.SetDefault("primary_drive.concurrency", 2)
	viper.SetDefault("secondary_drive.chunk_size", 8*1024*1024)
	viper.SetDefault("secondary_drive.chunk_threshold", 10*1024*1024)
	viper.SetDefault("secondary_drive.concurrency", 4)
	viper.SetDefault("sheet.sheet_name", "Tracking")
	viper.SetDefault("sheet.batch_size", 20)
	viper.SetDefault("sheet.batch_pause", "2s")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}
