package common

import (
	"encoding/base64"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	godotenv.Load()
}

// MaybeEnv returns environment value or empty string (non-panicking)
func MaybeEnv(key string) string {
	return os.Getenv(key)
}

// EnvOr returns the trimmed env value or def when unset.
func EnvOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// EnvSeconds reads a positive number of seconds; anything else yields def.
func EnvSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

// EnvBool accepts the strconv.ParseBool spellings; anything else yields def.
func EnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// DecodeBase64Key decodes a base64-encoded key string
func DecodeBase64Key(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
