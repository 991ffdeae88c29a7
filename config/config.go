package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Paths    PathsConfig
	Webhook  WebhookConfig
	ComfyUI  ComfyUIConfig
	Server   ServerConfig
	LogLevel string
}

type PathsConfig struct {
	OutputDir       string
	TempDir         string
	InputDir        string
	DisableMetadata bool
}

type WebhookConfig struct {
	URL      string
	Metadata string
	Owner    string
	Email    string
	Timeout  time.Duration
	Node     string
}

type ComfyUIConfig struct {
	Address     string
	Port        int
	IncludeTemp bool
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := &Config{
		Paths: PathsConfig{
			OutputDir:       getEnv("COMFY_OUTPUT_DIR", "./output"),
			TempDir:         getEnv("COMFY_TEMP_DIR", "./temp"),
			InputDir:        getEnv("COMFY_INPUT_DIR", "./input"),
			DisableMetadata: getEnvAsBool("DISABLE_METADATA", false),
		},
		Webhook: WebhookConfig{
			URL:      getEnv("WEBHOOK_URL", ""),
			Metadata: getEnv("WEBHOOK_METADATA", ""),
			Owner:    getEnv("WEBHOOK_OWNER", ""),
			Email:    getEnv("WEBHOOK_EMAIL", ""),
			Timeout:  getDuration("WEBHOOK_TIMEOUT", 0), // no timeout
			Node:     getEnv("WEBHOOK_NODE", "ImageWebhookNotifier"),
		},
		ComfyUI: ComfyUIConfig{
			Address:     getEnv("COMFY_ADDRESS", "localhost"),
			Port:        getEnvAsInt("COMFY_PORT", 8188),
			IncludeTemp: getEnvAsBool("COMFY_INCLUDE_TEMP", false),
		},
		Server: ServerConfig{
			Port:         getEnv("PORT", "8189"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 0),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
