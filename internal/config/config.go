// Package config provides runtime configuration values for the service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/shelfi/shelfd/internal/model"
)

// Config holds tuning knobs read from the environment. All weights and
// margins are kilograms.
type Config struct {
	HTTPAddr          string
	ShutdownTimeout   time.Duration
	ConfigFile        string
	CatalogExportPath string

	NoiseMargin        decimal.Decimal
	MatchMargin        decimal.Decimal
	CatalogMaxEntries  int
	QueueHighWatermark int
	DrainBatch         int
	UnlabeledWindow    int
	ClampToCapacity    bool
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolenv(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func decenv(key, def string) decimal.Decimal {
	v := getenv(key, def)
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(def)
	}
	return d
}

func durenvs(key string, defSec int) time.Duration {
	sec := atoienv(key, defSec)
	return time.Duration(sec) * time.Second
}

// Load collects configuration from environment with defaults.
func Load() Config {
	return Config{
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		ShutdownTimeout:    durenvs("SHUTDOWN_TIMEOUT", 15),
		ConfigFile:         getenv("SHELF_CONFIG", ""),
		CatalogExportPath:  getenv("CATALOG_EXPORT", ""),
		NoiseMargin:        decenv("NOISE_MARGIN_KG", "0.02"),
		MatchMargin:        decenv("MATCH_MARGIN_KG", "0.025"),
		CatalogMaxEntries:  atoienv("CATALOG_MAX_ENTRIES", 200000),
		QueueHighWatermark: atoienv("QUEUE_HIGH_WATERMARK", 5000),
		DrainBatch:         atoienv("DRAIN_BATCH", 3),
		UnlabeledWindow:    atoienv("UNLABELED_WINDOW", 20),
		ClampToCapacity:    boolenv("CLAMP_TO_CAPACITY", true),
	}
}

// MQTT configures the telemetry subscription. An empty Broker disables
// the MQTT source.
type MQTT struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// FileConfig is the YAML-file portion of configuration: the product
// roster and the telemetry source.
type FileConfig struct {
	Products []model.Product
	MQTT     MQTT
}

type fileConfigYAML struct {
	Products []struct {
		Name          string `yaml:"name"`
		UnitWeightKg  string `yaml:"unit_weight_kg"`
		ShelfQuantity int    `yaml:"shelf_quantity"`
	} `yaml:"products"`
	MQTT MQTT `yaml:"mqtt"`
}

// LoadFile reads the YAML config file at path.
func LoadFile(path string) (FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var raw fileConfigYAML
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return FileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	fc := FileConfig{MQTT: raw.MQTT}
	for _, p := range raw.Products {
		w, err := decimal.NewFromString(p.UnitWeightKg)
		if err != nil {
			return FileConfig{}, fmt.Errorf("product %q: unit_weight_kg: %w", p.Name, err)
		}
		fc.Products = append(fc.Products, model.Product{
			Name:          p.Name,
			UnitWeight:    w,
			ShelfQuantity: p.ShelfQuantity,
		})
	}
	return fc, nil
}
