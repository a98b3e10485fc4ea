package config

import (
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.ReadTimeout != 5*time.Second {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.MaxDeviationKm != 5 || cfg.MaxPoolMatches != 5 || cfg.NearbyRadiusKm != 10 {
		t.Fatalf("matching defaults: %+v", cfg)
	}
	if cfg.KafkaTopic != "driver-locations" || cfg.RedisGeoKey != "drivers_geo" {
		t.Fatalf("stream defaults: %+v", cfg)
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("POOL_MAX_DEVIATION_KM", "2.5")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("MIGRATE", "true")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":9999" || cfg.MaxDeviationKm != 2.5 {
		t.Fatalf("overrides: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers: %v", cfg.KafkaBrokers)
	}
	if !cfg.RunMigrations {
		t.Fatal("MIGRATE=true must enable migrations")
	}
}

func TestLoadServerConfigRejectsBadValues(t *testing.T) {
	t.Setenv("POOL_MAX_DEVIATION_KM", "21")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("deviation above 20 must be rejected")
	}

	t.Setenv("POOL_MAX_DEVIATION_KM", "5")
	t.Setenv("NEARBY_RADIUS_KM", "0")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("zero nearby radius must be rejected")
	}

	t.Setenv("NEARBY_RADIUS_KM", "10")
	t.Setenv("HTTP_READ_TIMEOUT", "not-a-duration")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("malformed duration must be rejected")
	}
}
