package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Env holds values read from a .env file; the process environment is the fallback
var Env map[string]string

// SetupEnvFile loads the first .env file found. A missing file is not an error,
// deployments usually inject plain environment variables.
func SetupEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env", "../../.env"}
	}
	for _, path := range paths {
		values, err := godotenv.Read(path)
		if err == nil {
			Env = values
			return nil
		}
		if !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func GetEnv(key, def string) string {
	if val, ok := Env[key]; ok {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// GetEnvInt returns def when key is unset and an error when the value is not an integer
func GetEnvInt(key string, def int) (int, error) {
	val := GetEnv(key, "")
	if val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return def, fmt.Errorf("%s: invalid integer %q", key, val)
	}
	return n, nil
}

// GetEnvDuration returns def when key is unset and an error when the value is not a duration
func GetEnvDuration(key string, def time.Duration) (time.Duration, error) {
	val := GetEnv(key, "")
	if val == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return def, fmt.Errorf("%s: invalid duration %q", key, val)
	}
	return d, nil
}

// GetEnvList splits a comma separated value, dropping empty entries
func GetEnvList(key string) []string {
	val := GetEnv(key, "")
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
