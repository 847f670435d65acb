package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	Org          string `mapstructure:"ORG"`
	GHToken      string `mapstructure:"GH_TOKEN"`
	GithubToken  string `mapstructure:"GITHUB_TOKEN"`
	DBFile       string `mapstructure:"DB_FILE"`
	CSVFile      string `mapstructure:"CSV_FILE"`
	JSONFile     string `mapstructure:"JSON_FILE"`
	XLSXFile     string `mapstructure:"XLSX_FILE"`
	ForceRefresh bool   `mapstructure:"FORCE_REFRESH"`
}

// Token returns the API token to use. GH_TOKEN (the GitHub Actions
// convention) wins over GITHUB_TOKEN; both absent means unauthenticated
// requests with the reduced rate limit.
func (c *Config) Token() string {
	if c.GHToken != "" {
		return c.GHToken
	}
	return c.GithubToken
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("ORG", "pinokiofactory")
	viper.SetDefault("DB_FILE", "pinokio.db")
	viper.SetDefault("CSV_FILE", "pinokio_repos.csv")
	viper.SetDefault("JSON_FILE", "docs/data.json")
	viper.SetDefault("XLSX_FILE", "pinokio_repos.xlsx")
	viper.SetDefault("FORCE_REFRESH", false)
	// AutomaticEnv only materializes keys viper already knows, so the
	// optional token keys need defaults to be picked up from the
	// environment at all.
	viper.SetDefault("GH_TOKEN", "")
	viper.SetDefault("GITHUB_TOKEN", "")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Org == "" {
		return nil, errors.New("ORG is a required configuration field")
	}
	if cfg.DBFile == "" {
		return nil, errors.New("DB_FILE is a required configuration field")
	}
	if cfg.CSVFile == "" || cfg.JSONFile == "" {
		return nil, errors.New("CSV_FILE and JSON_FILE are required configuration fields")
	}

	return &cfg, nil
}
