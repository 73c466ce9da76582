package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenPort       int
	MetricsPort      int
	ScalerPath       string
	ModelPath        string
	LogDir           string
	DataPath         string
	DefaultSensorID  string
	SubscriberBuffer int
	PingInterval     time.Duration
	HistoryWindow    time.Duration
}

type ConfigFile struct {
	Server struct {
		Port        int    `yaml:"port"`
		MetricsPort int    `yaml:"metricsPort"`
		Ping        string `yaml:"pingInterval"`
	} `yaml:"server"`

	Model struct {
		ScalerPath string `yaml:"scalerPath"`
		ModelPath  string `yaml:"modelPath"`
	} `yaml:"model"`

	Storage struct {
		LogDir   string `yaml:"logDir"`
		DataPath string `yaml:"dataPath"`
	} `yaml:"storage"`

	Feed struct {
		DefaultSensorID  string `yaml:"defaultSensorId"`
		SubscriberBuffer int    `yaml:"subscriberBuffer"`
		HistoryWindow    string `yaml:"historyWindow"`
	} `yaml:"feed"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	ping, err := time.ParseDuration(config.Server.Ping)
	if err != nil {
		ping = 15 * time.Second
	}
	historyWindow, err := time.ParseDuration(config.Feed.HistoryWindow)
	if err != nil {
		historyWindow = time.Hour
	}

	settings := Settings{
		ListenPort:       getIntFromEnvOrConfig("LISTEN_PORT", config.Server.Port, 4242),
		MetricsPort:      getIntFromEnvOrConfig("METRICS_PORT", config.Server.MetricsPort, 9090),
		ScalerPath:       getEnvOrDefault("SCALER_PATH", orDefault(config.Model.ScalerPath, "scaler.json")),
		ModelPath:        getEnvOrDefault("MODEL_PATH", orDefault(config.Model.ModelPath, "oneclass_svm.json")),
		LogDir:           getEnvOrDefault("LOG_DIR", orDefault(config.Storage.LogDir, "logs")),
		DataPath:         getEnvOrDefault("DATA_PATH", config.Storage.DataPath),
		DefaultSensorID:  getEnvOrDefault("SENSOR_ID", orDefault(config.Feed.DefaultSensorID, "server")),
		SubscriberBuffer: getIntFromEnvOrConfig("SUBSCRIBER_BUFFER", config.Feed.SubscriberBuffer, 64),
		PingInterval:     getDurationOrDefault("PING_INTERVAL", ping),
		HistoryWindow:    getDurationOrDefault("HISTORY_WINDOW", historyWindow),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ListenPort:       getIntOrDefault("LISTEN_PORT", 4242),
		MetricsPort:      getIntOrDefault("METRICS_PORT", 9090),
		ScalerPath:       getEnvOrDefault("SCALER_PATH", "scaler.json"),
		ModelPath:        getEnvOrDefault("MODEL_PATH", "oneclass_svm.json"),
		LogDir:           getEnvOrDefault("LOG_DIR", "logs"),
		DataPath:         os.Getenv("DATA_PATH"), // optional
		DefaultSensorID:  getEnvOrDefault("SENSOR_ID", "server"),
		SubscriberBuffer: getIntOrDefault("SUBSCRIBER_BUFFER", 64),
		PingInterval:     getDurationOrDefault("PING_INTERVAL", 15*time.Second),
		HistoryWindow:    getDurationOrDefault("HISTORY_WINDOW", time.Hour),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// validateSettings performs validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.ListenPort < 1 || settings.ListenPort > 65535 {
		return fmt.Errorf("listen port must be between 1 and 65535, got %d", settings.ListenPort)
	}
	if settings.MetricsPort < 1024 || settings.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", settings.MetricsPort)
	}
	if settings.MetricsPort == settings.ListenPort {
		return fmt.Errorf("metrics port and listen port must differ, both are %d", settings.ListenPort)
	}

	if settings.ScalerPath == "" {
		return fmt.Errorf("scaler path cannot be empty")
	}
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if settings.LogDir == "" {
		return fmt.Errorf("log directory cannot be empty")
	}
	if settings.DefaultSensorID == "" {
		return fmt.Errorf("default sensor id cannot be empty")
	}

	if settings.SubscriberBuffer < 1 || settings.SubscriberBuffer > 4096 {
		return fmt.Errorf("subscriber buffer must be between 1 and 4096, got %d", settings.SubscriberBuffer)
	}
	if settings.PingInterval < time.Second || settings.PingInterval > 5*time.Minute {
		return fmt.Errorf("ping interval must be between 1s and 5m, got %v", settings.PingInterval)
	}
	if settings.HistoryWindow < time.Minute || settings.HistoryWindow > 31*24*time.Hour {
		return fmt.Errorf("history window must be between 1m and 744h, got %v", settings.HistoryWindow)
	}

	return nil
}
