package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values. Secrets belong here
// rather than in goopcall.json.
const (
	EnvSignaling     = "GOOPCALL_SIGNALING"
	EnvRedisAddr     = "GOOPCALL_REDIS_ADDR"
	EnvRedisPassword = "GOOPCALL_REDIS_PASSWORD"
	EnvRedisDB       = "GOOPCALL_REDIS_DB"
	EnvHTTPAddr      = "GOOPCALL_HTTP_ADDR"
	EnvPublicURL     = "GOOPCALL_PUBLIC_URL"
	EnvJWTSecret     = "GOOPCALL_JWT_SECRET"
	EnvMediaDriver   = "GOOPCALL_MEDIA_DRIVER"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set are left alone. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) {
	setString(&cfg.Signaling.Backend, EnvSignaling)
	setString(&cfg.Signaling.Redis.Addr, EnvRedisAddr)
	setString(&cfg.Signaling.Redis.Password, EnvRedisPassword)
	setString(&cfg.API.HTTPAddr, EnvHTTPAddr)
	setString(&cfg.API.PublicURL, EnvPublicURL)
	setString(&cfg.API.JWTSecret, EnvJWTSecret)
	setString(&cfg.Media.Driver, EnvMediaDriver)
	if v := strings.TrimSpace(os.Getenv(EnvRedisDB)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Signaling.Redis.DB = n
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}
