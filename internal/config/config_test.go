package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("SHUTDOWN_TIMEOUT", "")
	t.Setenv("SHELF_CONFIG", "")
	t.Setenv("NOISE_MARGIN_KG", "")
	t.Setenv("MATCH_MARGIN_KG", "")
	t.Setenv("CATALOG_MAX_ENTRIES", "")
	t.Setenv("QUEUE_HIGH_WATERMARK", "")
	t.Setenv("DRAIN_BATCH", "")
	t.Setenv("UNLABELED_WINDOW", "")
	t.Setenv("CLAMP_TO_CAPACITY", "")
	c := Load()
	if c.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr default")
	}
	if c.ShutdownTimeout != 15*time.Second {
		t.Fatalf("ShutdownTimeout default")
	}
	if !c.NoiseMargin.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("NoiseMargin default, got %s", c.NoiseMargin)
	}
	if !c.MatchMargin.Equal(decimal.RequireFromString("0.025")) {
		t.Fatalf("MatchMargin default, got %s", c.MatchMargin)
	}
	if c.CatalogMaxEntries != 200000 {
		t.Fatalf("CatalogMaxEntries default")
	}
	if c.QueueHighWatermark != 5000 {
		t.Fatalf("QueueHighWatermark default")
	}
	if c.DrainBatch != 3 {
		t.Fatalf("DrainBatch default")
	}
	if c.UnlabeledWindow != 20 {
		t.Fatalf("UnlabeledWindow default")
	}
	if !c.ClampToCapacity {
		t.Fatalf("ClampToCapacity default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("NOISE_MARGIN_KG", "0.005")
	t.Setenv("MATCH_MARGIN_KG", "0.01")
	t.Setenv("CATALOG_MAX_ENTRIES", "1000")
	t.Setenv("DRAIN_BATCH", "5")
	t.Setenv("CLAMP_TO_CAPACITY", "false")
	c := Load()
	if c.HTTPAddr != ":9999" {
		t.Fatalf("HTTPAddr override")
	}
	if !c.NoiseMargin.Equal(decimal.RequireFromString("0.005")) {
		t.Fatalf("NoiseMargin override, got %s", c.NoiseMargin)
	}
	if !c.MatchMargin.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("MatchMargin override, got %s", c.MatchMargin)
	}
	if c.CatalogMaxEntries != 1000 {
		t.Fatalf("CatalogMaxEntries override")
	}
	if c.DrainBatch != 5 {
		t.Fatalf("DrainBatch override")
	}
	if c.ClampToCapacity {
		t.Fatalf("ClampToCapacity override")
	}
}

func TestLoadBadEnvFallsBackToDefaults(t *testing.T) {
	t.Setenv("NOISE_MARGIN_KG", "not-a-number")
	t.Setenv("DRAIN_BATCH", "xyz")
	c := Load()
	if !c.NoiseMargin.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("expected default noise margin, got %s", c.NoiseMargin)
	}
	if c.DrainBatch != 3 {
		t.Fatalf("expected default drain batch, got %d", c.DrainBatch)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shelf.yaml")
	data := `
products:
  - name: A
    unit_weight_kg: "0.100"
    shelf_quantity: 2
  - name: B
    unit_weight_kg: "0.250"
    shelf_quantity: 1
mqtt:
  broker: broker.example.com:8883
  topic: outTopic
  client_id: shelfd-test
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	fc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(fc.Products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(fc.Products))
	}
	if fc.Products[0].Name != "A" || !fc.Products[0].UnitWeight.Equal(decimal.RequireFromString("0.100")) {
		t.Fatalf("unexpected product: %+v", fc.Products[0])
	}
	if fc.Products[1].ShelfQuantity != 1 {
		t.Fatalf("unexpected quantity: %+v", fc.Products[1])
	}
	if fc.MQTT.Broker != "broker.example.com:8883" || fc.MQTT.Topic != "outTopic" {
		t.Fatalf("unexpected mqtt config: %+v", fc.MQTT)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("products:\n  - name: A\n    unit_weight_kg: oops\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected error for bad weight")
	}
}
