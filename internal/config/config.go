// Package config loads the service configuration from an optional file and
// HARRIER_ environment variables on top of the tier defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opensource-finance/harrier/internal/domain"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// HARRIER_SERVER_PORT or HARRIER_SCORING_HIGH_THRESHOLD.
const EnvPrefix = "HARRIER"

// Load reads configuration from file and environment variables. The tier
// defaults are picked from HARRIER_TIER before anything else is applied.
func Load(configPath string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv(EnvPrefix+"_TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	v := viper.New()
	setDefaults(v, "", reflect.ValueOf(cfg).Elem())

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every mapstructure key of the struct in rv so that
// AutomaticEnv can override it.
func setDefaults(v *viper.Viper, prefix string, rv reflect.Value) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Time{}) {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// Validate rejects configurations the engine cannot run with.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}

	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown repository driver %q", cfg.Repository.Driver)
	}

	s := cfg.Scoring
	if !(s.LowThreshold < s.HighThreshold && s.HighThreshold <= s.CriticalThreshold && s.CriticalThreshold <= 100) {
		return errors.New("scoring thresholds must satisfy low < high <= critical <= 100")
	}
	if s.UnusualHourStart < 0 || s.UnusualHourEnd > 24 || s.UnusualHourStart > s.UnusualHourEnd {
		return errors.New("unusual hours must be a range within 0-24")
	}

	t := cfg.Trust
	if !(t.SuspiciousAt < t.NewAt && t.NewAt < t.TrustedAt && t.TrustedAt < t.VIPAt) {
		return errors.New("trust breakpoints must be strictly ascending")
	}

	c := cfg.CardTesting
	if c.ReviewScore > c.BlockScore {
		return errors.New("card_testing.review_score must not exceed block_score")
	}

	if cfg.Composite.FraudWeight < 0 || cfg.Composite.SuspicionWeight < 0 ||
		cfg.Composite.FraudWeight+cfg.Composite.SuspicionWeight <= 0 {
		return errors.New("composite weights must be non-negative with a positive sum")
	}
	return nil
}
