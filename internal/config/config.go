package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig   `mapstructure:"server"`
	Database     DatabaseConfig `mapstructure:"database"`
	PolicyPath   string         `mapstructure:"policy_path"`
	CursorSecret string         `mapstructure:"cursor_secret"`
	JWTSecret    string         `mapstructure:"jwt_secret"`
	APIKeyHashes []string       `mapstructure:"api_key_hashes"` // bcrypt hashes of static API keys
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// DriverName maps the configured driver to the database/sql driver name.
func (d DatabaseConfig) DriverName() string {
	if d.Driver == "sqlite" {
		return "sqlite"
	}
	return "pgx"
}

func Load() (*Config, error) {
	viper.SetConfigName("relgate")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../..")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.pool_size", 10)
	viper.SetDefault("database.path", "./data")
	viper.SetDefault("policy_path", "./policy.yaml")
	viper.SetDefault("jwt_secret", "changeme-secret")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
