package util

import (
	"os"
	"testing"
)

func TestConfigConstants(t *testing.T) {
	if Name != "loxodon" {
		t.Errorf("Expected Name 'loxodon', got '%s'", Name)
	}

	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestReadConfWithYaml(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withAp: true
  deliveryWorkers: 4
  maxPayloadBytes: 2097152
  maxContentBytes: 32768
  dbPath: /tmp/test.db
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "127.0.0.1" {
		t.Errorf("Expected Host '127.0.0.1', got '%s'", config.Conf.Host)
	}

	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}

	if config.Conf.SslDomain != "example.com" {
		t.Errorf("Expected SslDomain 'example.com', got '%s'", config.Conf.SslDomain)
	}

	if !config.Conf.WithAp {
		t.Error("Expected WithAp to be true")
	}

	if config.Conf.DeliveryWorkers != 4 {
		t.Errorf("Expected DeliveryWorkers 4, got %d", config.Conf.DeliveryWorkers)
	}

	if config.Conf.MaxPayloadBytes != 2097152 {
		t.Errorf("Expected MaxPayloadBytes 2097152, got %d", config.Conf.MaxPayloadBytes)
	}

	if config.Conf.MaxContentBytes != 32768 {
		t.Errorf("Expected MaxContentBytes 32768, got %d", config.Conf.MaxContentBytes)
	}

	if config.Conf.DbPath != "/tmp/test.db" {
		t.Errorf("Expected DbPath '/tmp/test.db', got '%s'", config.Conf.DbPath)
	}
}

func TestReadConfWithEnvOverrides(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withAp: false
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	os.Setenv("LOXODON_HOST", "192.168.1.1")
	os.Setenv("LOXODON_HTTPPORT", "8080")
	os.Setenv("LOXODON_SSLDOMAIN", "test.example.com")
	os.Setenv("LOXODON_WITH_AP", "true")
	os.Setenv("LOXODON_DELIVERY_WORKERS", "7")
	os.Setenv("LOXODON_DB_PATH", "/tmp/env.db")
	defer func() {
		os.Unsetenv("LOXODON_HOST")
		os.Unsetenv("LOXODON_HTTPPORT")
		os.Unsetenv("LOXODON_SSLDOMAIN")
		os.Unsetenv("LOXODON_WITH_AP")
		os.Unsetenv("LOXODON_DELIVERY_WORKERS")
		os.Unsetenv("LOXODON_DB_PATH")
	}()

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "192.168.1.1" {
		t.Errorf("Expected Host '192.168.1.1', got '%s'", config.Conf.Host)
	}

	if config.Conf.HttpPort != 8080 {
		t.Errorf("Expected HttpPort 8080, got %d", config.Conf.HttpPort)
	}

	if config.Conf.SslDomain != "test.example.com" {
		t.Errorf("Expected SslDomain 'test.example.com', got '%s'", config.Conf.SslDomain)
	}

	if !config.Conf.WithAp {
		t.Error("Expected WithAp overridden to true")
	}

	if config.Conf.DeliveryWorkers != 7 {
		t.Errorf("Expected DeliveryWorkers 7, got %d", config.Conf.DeliveryWorkers)
	}

	if config.Conf.DbPath != "/tmp/env.db" {
		t.Errorf("Expected DbPath '/tmp/env.db', got '%s'", config.Conf.DbPath)
	}
}

func TestReadConfAppliesDefaults(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.DeliveryWorkers != 12 {
		t.Errorf("Expected default DeliveryWorkers 12, got %d", config.Conf.DeliveryWorkers)
	}

	if config.Conf.MaxPayloadBytes != 1*1024*1024 {
		t.Errorf("Expected default MaxPayloadBytes 1MiB, got %d", config.Conf.MaxPayloadBytes)
	}

	if config.Conf.MaxContentBytes != 64*1024 {
		t.Errorf("Expected default MaxContentBytes 64KiB, got %d", config.Conf.MaxContentBytes)
	}

	if config.Conf.DbPath != "database.db" {
		t.Errorf("Expected default DbPath 'database.db', got '%s'", config.Conf.DbPath)
	}
}
