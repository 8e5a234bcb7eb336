// Package config loads sprinklerd's runtime configuration, grounded on
// sarvarkurbonov-controlling_furnace/cmd/main.go's viper.ReadInConfig
// flow, generalized to also accept CLI flag overrides the way the
// firmware's "-d data_dir" launch option works on OSPI/Linux builds.
package config

import (
	"flag"
	"fmt"

	"github.com/spf13/viper"
)

// Config holds every value sprinklerd needs to start: the data
// directory, the sensor pins, and the MQTT/HTTP endpoints.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	Sensor1Pin int `mapstructure:"sensor1_pin"`
	Sensor2Pin int `mapstructure:"sensor2_pin"`
	NStations  int `mapstructure:"num_stations"`

	MQTTBroker string `mapstructure:"mqtt_broker"`

	HTTPAddr string `mapstructure:"http_addr"`

	LogLevel string `mapstructure:"log_level"`

	StationDelaySeconds int32 `mapstructure:"station_delay_seconds"`
	WaterPercent        int   `mapstructure:"water_percent"`
	LoggingEnabled      bool  `mapstructure:"logging_enabled"`
}

func defaults() Config {
	return Config{
		DataDir:             "./data",
		Sensor1Pin:          14,
		Sensor2Pin:          15,
		NStations:           8,
		MQTTBroker:          "tcp://localhost:1883",
		HTTPAddr:            ":8080",
		LogLevel:            "info",
		StationDelaySeconds: 0,
		WaterPercent:        100,
		LoggingEnabled:      true,
	}
}

// Load reads configs/config.yml (if present) and finally applies any
// flags parsed from args — flags win over the config file, which wins
// over built-in defaults. SPRINKLERD_-prefixed environment variables
// override only keys that the config file sets, and are not consulted
// when no config file is found.
func Load(args []string) (Config, error) {
	cfg := defaults()

	viper.SetConfigName("config")
	viper.AddConfigPath("configs")
	viper.SetEnvPrefix("sprinklerd")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("config: read config file: %w", err)
		}
	} else if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal config file: %w", err)
	}

	if err := applyFlags(&cfg, args); err != nil {
		return cfg, fmt.Errorf("config: parse flags: %w", err)
	}

	return cfg, nil
}

// applyFlags overlays command-line flags onto cfg, mirroring the
// firmware's "-d data_dir" OSPI launch option plus the rest of the
// ambient knobs a deployment commonly needs to override.
func applyFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("sprinklerd", flag.ContinueOnError)
	dataDir := fs.String("d", cfg.DataDir, "data directory for logs and program store")
	mqttBroker := fs.String("mqtt-broker", cfg.MQTTBroker, "MQTT broker URL")
	httpAddr := fs.String("http-addr", cfg.HTTPAddr, "HTTP status/websocket listen address")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.DataDir = *dataDir
	cfg.MQTTBroker = *mqttBroker
	cfg.HTTPAddr = *httpAddr
	cfg.LogLevel = *logLevel
	return nil
}
