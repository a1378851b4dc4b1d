package circle

import (
	"encoding/base64"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type ConfigLoader interface {
	Load() (*Config, error)
}

// EnvConfigLoader loads the configuration from environment variables only,
// with an optional .env file. The SECRET variable is expected to be a
// base64-encoded string used as the token signing key. ALLOWED_ORIGINS is a
// comma-separated list of origins allowed to connect.
type EnvConfigLoader struct {
}

func (l *EnvConfigLoader) Load() (*Config, error) {
	// a missing .env file is not an error: plain environment variables win
	_ = godotenv.Load()

	config := &Config{}

	config.Port, _ = strconv.Atoi(getEnv("PORT"))
	config.Hostname = getEnv("HOSTNAME")
	config.Mode = getEnv("MODE")

	secret, err := base64.StdEncoding.DecodeString(getEnv("SECRET"))
	if err != nil {
		return nil, err
	}
	config.Auth.Secret = secret

	config.SQLite.File = getEnv("SQLITE_FILE")
	config.SQLite.Migrations = getEnv("SQLITE_MIGRATIONS")

	if origins := getEnv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	return config, nil
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
