// common/config.go
package common

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"fpe_random_id/randomid"
)

// PoolConfig names one generator: a tweak and a digit width under the shared key.
type PoolConfig struct {
	Name   string
	Tweak  uint64
	Digits int
}

// Config is the service configuration, read from the environment.
type Config struct {
	HTTPAddr       string
	APIKey         string
	DatabaseURL    string
	MigrationsPath string

	Key        []byte
	KeyVersion string
	Pools      []PoolConfig

	LogLevel       string
	LogDevelopment bool
}

var ErrNoPools = errors.New("no pools configured")

// LoadConfig reads:
//
//	RANDOM_ID_KEY_BASE64   32-byte key (required)
//	RANDOM_ID_KEY_VERSION  default "v1"
//	RANDOM_ID_POOLS        name:tweak:digits[,name:tweak:digits...] (required)
//	HTTP_ADDR              default ":8081"
//	API_KEY, DATABASE_URL, MIGRATIONS_PATH, LOG_LEVEL, LOG_DEVELOPMENT
func LoadConfig() (*Config, error) {
	kb64 := MaybeEnv("RANDOM_ID_KEY_BASE64")
	if kb64 == "" {
		return nil, fmt.Errorf("RANDOM_ID_KEY_BASE64 not set")
	}
	key, err := DecodeBase64Key(kb64)
	if err != nil {
		return nil, fmt.Errorf("invalid RANDOM_ID_KEY_BASE64: %w", err)
	}
	if len(key) != randomid.KeySize {
		return nil, fmt.Errorf("RANDOM_ID_KEY_BASE64 must decode to %d bytes, got %d", randomid.KeySize, len(key))
	}

	pools, err := ParsePools(MaybeEnv("RANDOM_ID_POOLS"))
	if err != nil {
		return nil, fmt.Errorf("RANDOM_ID_POOLS: %w", err)
	}

	return &Config{
		HTTPAddr:       EnvOr("HTTP_ADDR", ":8081"),
		APIKey:         strings.TrimSpace(MaybeEnv("API_KEY")),
		DatabaseURL:    strings.TrimSpace(MaybeEnv("DATABASE_URL")),
		MigrationsPath: EnvOr("MIGRATIONS_PATH", "migrations/001_create_issued_ids.sql"),
		Key:            key,
		KeyVersion:     EnvOr("RANDOM_ID_KEY_VERSION", "v1"),
		Pools:          pools,
		LogLevel:       EnvOr("LOG_LEVEL", "info"),
		LogDevelopment: EnvBool("LOG_DEVELOPMENT", false),
	}, nil
}

// ParsePools parses "orders:1:6, tickets:2:4". Names must be unique and
// made of letters, digits, '_' or '-'.
func ParsePools(s string) ([]PoolConfig, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrNoPools
	}

	var pools []PoolConfig
	seen := map[string]bool{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("pool %q: want name:tweak:digits", item)
		}
		name := strings.TrimSpace(parts[0])
		if !validPoolName(name) {
			return nil, fmt.Errorf("pool %q: invalid name", item)
		}
		if seen[name] {
			return nil, fmt.Errorf("pool %q: duplicate name", name)
		}
		tweak, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("pool %q: tweak: %w", name, err)
		}
		digits, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("pool %q: digits: %w", name, err)
		}
		if digits < randomid.MinFF1Width || digits > randomid.MaxWidth {
			return nil, fmt.Errorf("pool %q: digits must be %d..%d", name, randomid.MinFF1Width, randomid.MaxWidth)
		}
		seen[name] = true
		pools = append(pools, PoolConfig{Name: name, Tweak: tweak, Digits: digits})
	}
	if len(pools) == 0 {
		return nil, ErrNoPools
	}
	return pools, nil
}

func validPoolName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
