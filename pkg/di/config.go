package di

import (
	"bytes"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/internal/cacheinfra"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, as in
// LAYERCACHE_DISTRIBUTED_ADDR.
const EnvPrefix = "LAYERCACHE_"

// LoadConfig starts from the defaults, applies the YAML file at path when
// path is not empty, then applies environment overrides and validates the
// result.
func LoadConfig(path string) (Config, error) {
	cfg := cacheinfra.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "decode config %s", path)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, errors.Wrap(err, "apply environment overrides")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}
