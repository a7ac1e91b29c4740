package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const Name = "loxodon"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host            string
		HttpPort        int    `yaml:"httpPort"`
		SslDomain       string `yaml:"sslDomain"`
		WithAp          bool   `yaml:"withAp"`
		DeliveryWorkers int    `yaml:"deliveryWorkers"`
		MaxPayloadBytes int64  `yaml:"maxPayloadBytes"`
		MaxContentBytes int    `yaml:"maxContentBytes"`
		DbPath          string `yaml:"dbPath"`
	}
}

func ReadConf() (*AppConfig, error) {

	// Optional .env next to the binary; environment wins over yaml either way
	_ = godotenv.Load()

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	if v := os.Getenv("LOXODON_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("LOXODON_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.HttpPort = port
		}
	}
	if v := os.Getenv("LOXODON_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}
	if v := os.Getenv("LOXODON_WITH_AP"); v == "true" {
		c.Conf.WithAp = true
	}
	if v := os.Getenv("LOXODON_DELIVERY_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.DeliveryWorkers = n
		}
	}
	if v := os.Getenv("LOXODON_DB_PATH"); v != "" {
		c.Conf.DbPath = v
	}

	applyDefaults(c)

	return c, nil
}

func applyDefaults(c *AppConfig) {
	if c.Conf.DeliveryWorkers <= 0 {
		c.Conf.DeliveryWorkers = 12
	}
	if c.Conf.MaxPayloadBytes <= 0 {
		c.Conf.MaxPayloadBytes = 1 * 1024 * 1024
	}
	if c.Conf.MaxContentBytes <= 0 {
		c.Conf.MaxContentBytes = 64 * 1024
	}
	if c.Conf.DbPath == "" {
		c.Conf.DbPath = "database.db"
	}
}
