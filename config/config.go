// Package config loads daemon settings from an optional YAML file, a .env
// file and the environment, in increasing order of precedence.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Uranury/depthsense/depth"
	"github.com/Uranury/depthsense/framesource"
)

// FileEnv names the environment variable pointing at the YAML file.
const FileEnv = "DEPTHD_CONFIG"

type Influx struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether enough is set to open a write API.
func (i Influx) Enabled() bool {
	return i.URL != "" && i.Org != "" && i.Bucket != ""
}

type Simulator struct {
	Width         int  `yaml:"width"`
	Height        int  `yaml:"height"`
	FPS           int  `yaml:"fps"`
	SupportsDepth bool `yaml:"supports_depth"`
	Confidence    bool `yaml:"confidence"`
}

type Telemetry struct {
	Interval time.Duration `yaml:"interval"`
	DHTPin   string        `yaml:"dht_pin"`
}

type Config struct {
	HTTPAddr  string       `yaml:"http_addr"`
	Influx    Influx       `yaml:"influx"`
	Sampling  depth.Config `yaml:"sampling"`
	Simulator Simulator    `yaml:"simulator"`
	Telemetry Telemetry    `yaml:"telemetry"`
}

func Default() Config {
	sim := framesource.DefaultSimulatedConfig()
	return Config{
		HTTPAddr: ":8080",
		Influx:   Influx{URL: "http://localhost:8086"},
		Sampling: depth.DefaultConfig(),
		Simulator: Simulator{
			Width:         sim.Width,
			Height:        sim.Height,
			FPS:           sim.FPS,
			SupportsDepth: sim.SupportsDepth,
			Confidence:    sim.Confidence,
		},
		Telemetry: Telemetry{Interval: 2 * time.Second},
	}
}

// Load builds the configuration. A missing .env is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.Influx.URL = getEnv("INFLUX_URL", c.Influx.URL)
	c.Influx.Token = getEnv("INFLUX_TOKEN", c.Influx.Token)
	c.Influx.Org = getEnv("INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = getEnv("INFLUX_BUCKET", c.Influx.Bucket)
	c.Telemetry.DHTPin = getEnv("DHT_PIN", c.Telemetry.DHTPin)

	var err error
	if c.Sampling.Stride, err = getEnvInt("DEPTH_STRIDE", c.Sampling.Stride); err != nil {
		return err
	}
	if c.Sampling.RangeMin, err = getEnvFloat32("DEPTH_RANGE_MIN", c.Sampling.RangeMin); err != nil {
		return err
	}
	if c.Sampling.RangeMax, err = getEnvFloat32("DEPTH_RANGE_MAX", c.Sampling.RangeMax); err != nil {
		return err
	}
	if c.Simulator.Width, err = getEnvInt("SIM_WIDTH", c.Simulator.Width); err != nil {
		return err
	}
	if c.Simulator.Height, err = getEnvInt("SIM_HEIGHT", c.Simulator.Height); err != nil {
		return err
	}
	if c.Simulator.FPS, err = getEnvInt("SIM_FPS", c.Simulator.FPS); err != nil {
		return err
	}
	if c.Simulator.SupportsDepth, err = getEnvBool("SIM_SUPPORTS_DEPTH", c.Simulator.SupportsDepth); err != nil {
		return err
	}
	if c.Simulator.Confidence, err = getEnvBool("SIM_CONFIDENCE", c.Simulator.Confidence); err != nil {
		return err
	}
	if c.Telemetry.Interval, err = getEnvDuration("TELEMETRY_INTERVAL", c.Telemetry.Interval); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR is empty")
	}
	if _, err := c.Sampling.Normalize(); err != nil {
		return errors.Wrap(err, "config: sampling")
	}
	if c.Simulator.Width <= 0 || c.Simulator.Height <= 0 {
		return errors.Errorf("config: simulator size %dx%d", c.Simulator.Width, c.Simulator.Height)
	}
	if c.Simulator.FPS <= 0 {
		return errors.Errorf("config: simulator fps %d", c.Simulator.FPS)
	}
	if c.Telemetry.Interval <= 0 {
		return errors.Errorf("config: telemetry interval %s", c.Telemetry.Interval)
	}
	return nil
}

func (s Simulator) SourceConfig() framesource.SimulatedConfig {
	return framesource.SimulatedConfig{
		Width:         s.Width,
		Height:        s.Height,
		FPS:           s.FPS,
		SupportsDepth: s.SupportsDepth,
		Confidence:    s.Confidence,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	return n, errors.Wrapf(err, "config: %s", key)
}

func getEnvFloat32(key string, defaultValue float32) (float32, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 32)
	return float32(f), errors.Wrapf(err, "config: %s", key)
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	return b, errors.Wrapf(err, "config: %s", key)
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	return d, errors.Wrapf(err, "config: %s", key)
}
