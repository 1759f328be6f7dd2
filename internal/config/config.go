package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	DB            struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Auth struct {
		OktaDomain   string `mapstructure:"okta_domain"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Engine struct {
		MaxRetries      int           `mapstructure:"max_retries"`
		InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
		MaxBackoff      time.Duration `mapstructure:"max_backoff"`
		StepTimeout     time.Duration `mapstructure:"step_timeout"`
		MaxConcurrent   int           `mapstructure:"max_concurrent"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"engine"`
	Integrations struct {
		DataForSEOBaseURL string        `mapstructure:"dataforseo_base_url"`
		OpenAIBaseURL     string        `mapstructure:"openai_base_url"`
		HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	} `mapstructure:"integrations"`
}

// LoadConfig loads the configuration from a file and the environment.
// An optional explicit file path overrides the default search paths.
func LoadConfig(file string) (*Config, error) {
	if file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// config file is optional when the environment provides everything
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "DEV")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("engine.max_retries", 3)
	viper.SetDefault("engine.initial_backoff", 500*time.Millisecond)
	viper.SetDefault("engine.max_backoff", 30*time.Second)
	viper.SetDefault("engine.step_timeout", 60*time.Second)
	viper.SetDefault("engine.max_concurrent", 32)
	viper.SetDefault("engine.shutdown_timeout", 30*time.Second)
	viper.SetDefault("integrations.dataforseo_base_url", "https://api.dataforseo.com")
	viper.SetDefault("integrations.openai_base_url", "https://api.openai.com")
	viper.SetDefault("integrations.http_timeout", 30*time.Second)
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact. This allows users to paste the full URL from the Okta admin
// console without worrying about double prefixes.
func normalizeOktaIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
