package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
)

const Name = "pitchconnect"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host       string
		HttpPort   int    `yaml:"httpPort"`
		SslDomain  string `yaml:"sslDomain"`
		WithAp     bool   `yaml:"withAp"`
		SignupOpen bool   `yaml:"signupOpen"`
	}
	Smtp struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
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

	envHost := os.Getenv("PITCHCONNECT_HOST")
	envHttpPort := os.Getenv("PITCHCONNECT_HTTPPORT")
	envSslDomain := os.Getenv("PITCHCONNECT_SSLDOMAIN")
	envWithAp := os.Getenv("PITCHCONNECT_WITH_AP")
	envSignupOpen := os.Getenv("PITCHCONNECT_SIGNUP_OPEN")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envSslDomain != "" {
		c.Conf.SslDomain = envSslDomain
	}

	if envWithAp == "true" {
		c.Conf.WithAp = true
	}

	if envSignupOpen == "true" {
		c.Conf.SignupOpen = true
	}

	if v := os.Getenv("PITCHCONNECT_SMTP_HOST"); v != "" {
		c.Smtp.Host = v
	}

	if v := os.Getenv("PITCHCONNECT_SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		}
		c.Smtp.Port = port
	}

	if v := os.Getenv("PITCHCONNECT_SMTP_USERNAME"); v != "" {
		c.Smtp.Username = v
	}

	if v := os.Getenv("PITCHCONNECT_SMTP_PASSWORD"); v != "" {
		c.Smtp.Password = v
	}

	if v := os.Getenv("PITCHCONNECT_SMTP_FROM"); v != "" {
		c.Smtp.From = v
	}

	return c, nil
}
