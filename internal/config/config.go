package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envInfraDir        = "AURA_INFRA_DIR"
	envPollInterval    = "AURA_POLL_INTERVAL"
	envSlackWebhookURL = "AURA_SLACK_WEBHOOK_URL"
	envWaitOverrides   = "AURA_WAIT_OVERRIDES"
	envLogLevel        = "AURA_LOG_LEVEL"
	envLogJSON         = "AURA_LOG_JSON"
	envMetricsAddr     = "AURA_METRICS_ADDR"
)

const (
	defaultInfraDir     = "infrastructure"
	defaultPollInterval = 10 * time.Second
)

// ErrInfrastructureNotFound means the descriptor for an environment has never
// been provisioned. Fatal and non-retryable: provisioning happens out-of-band.
var ErrInfrastructureNotFound = errors.New("infrastructure descriptor not found")

// EnvironmentName is the closed set of deployable environments.
type EnvironmentName string

const (
	EnvLocal   EnvironmentName = "local"
	EnvDev     EnvironmentName = "dev"
	EnvStaging EnvironmentName = "staging"
	EnvProd    EnvironmentName = "prod"
)

// ParseEnvironmentName validates an environment name from user input.
func ParseEnvironmentName(s string) (EnvironmentName, error) {
	switch EnvironmentName(s) {
	case EnvLocal, EnvDev, EnvStaging, EnvProd:
		return EnvironmentName(s), nil
	}
	return "", fmt.Errorf("unknown environment %q (expected local, dev, staging, or prod)", s)
}

// Environment is the immutable identity of one deployment target, read from
// the descriptor file written by the provisioning tool. Every component
// consumes it read-only.
type Environment struct {
	Name            EnvironmentName `json:"-"`
	Region          string          `json:"region"`
	AccountID       string          `json:"accountId"`
	ClusterName     string          `json:"clusterName"`
	VPCID           string          `json:"vpcId"`
	PublicSubnetIDs []string        `json:"publicSubnets"`
	SecurityGroupID string          `json:"securityGroupId"`
	LogGroup        string          `json:"logGroup"`
}

// LoadEnvironment reads and validates the descriptor for the named
// environment from <dir>/<name>.json.
func LoadEnvironment(dir string, name EnvironmentName) (Environment, error) {
	path := filepath.Join(dir, string(name)+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Environment{}, fmt.Errorf("%w: environment %q (%s)", ErrInfrastructureNotFound, name, path)
		}
		return Environment{}, fmt.Errorf("read infrastructure descriptor: %w", err)
	}

	var env Environment
	if err := json.Unmarshal(data, &env); err != nil {
		return Environment{}, fmt.Errorf("parse infrastructure descriptor %s: %w", path, err)
	}
	env.Name = name

	if err := validateEnvironment(env, path); err != nil {
		return Environment{}, err
	}

	return env, nil
}

func validateEnvironment(env Environment, path string) error {
	missing := []string{}
	if env.Region == "" {
		missing = append(missing, "region")
	}
	if env.AccountID == "" {
		missing = append(missing, "accountId")
	}
	if env.ClusterName == "" {
		missing = append(missing, "clusterName")
	}
	if env.VPCID == "" {
		missing = append(missing, "vpcId")
	}
	if len(env.PublicSubnetIDs) == 0 {
		missing = append(missing, "publicSubnets")
	}
	if env.SecurityGroupID == "" {
		missing = append(missing, "securityGroupId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("infrastructure descriptor %s missing fields: %s", path, strings.Join(missing, ", "))
	}
	return nil
}

// Config is runtime behavior loaded from the process environment, distinct
// from the per-environment infrastructure descriptor.
type Config struct {
	InfraDir          string
	PollInterval      time.Duration
	SlackWebhookURL   string
	WaitOverridesPath string
	LogLevel          string
	LogJSON           bool
	MetricsAddr       string
}

// Load reads configuration from environment variables and a local .env file
// if present. Existing environment variables take precedence over .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		InfraDir:     defaultInfraDir,
		PollInterval: defaultPollInterval,
		LogLevel:     "info",
	}

	if value, ok := lookupTrimmed(envInfraDir); ok {
		cfg.InfraDir = value
	}

	if value, ok := lookupTrimmed(envPollInterval); ok {
		interval, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envPollInterval, err)
		}
		if interval <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envPollInterval)
		}
		cfg.PollInterval = interval
	}

	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		cfg.SlackWebhookURL = value
	}

	if value, ok := lookupTrimmed(envWaitOverrides); ok {
		cfg.WaitOverridesPath = value
	}

	if value, ok := lookupTrimmed(envLogLevel); ok {
		cfg.LogLevel = value
	}

	if value, ok := lookupTrimmed(envLogJSON); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envLogJSON, err)
		}
		cfg.LogJSON = parsed
	}

	if value, ok := lookupTrimmed(envMetricsAddr); ok {
		cfg.MetricsAddr = value
	}

	return cfg, nil
}

// lookupTrimmed treats empty or whitespace-only values as unset.
func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}
