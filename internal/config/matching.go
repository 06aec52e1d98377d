package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// MatchingRules tunes the reconciliation engine at runtime.
type MatchingRules struct {
	// Window is how long after creation an intent may still be matched.
	Window time.Duration
	// ExpireAfter is the age at which the sweeper moves PENDING intents to EXPIRED.
	ExpireAfter time.Duration
	// Retention is how long terminal intents stay queryable before purge.
	Retention time.Duration
}

func DefaultMatchingRules() MatchingRules {
	return MatchingRules{
		Window:      15 * time.Minute,
		ExpireAfter: time.Hour, // a multiple of Window
		Retention:   24 * time.Hour,
	}
}

type MatchingRulesHolder struct {
	current atomic.Value // holds MatchingRules
}

// NewMatchingRulesHolder reads matching.yml (or cfg.MatchingRulesFile) and keeps it hot-reloaded.
// A missing default file falls back to DefaultMatchingRules; a missing explicit file is an error.
func NewMatchingRulesHolder(cfg Config, log *zap.Logger) (*MatchingRulesHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("matching.rules")

	v := viper.New()
	if path := strings.TrimSpace(cfg.MatchingRulesFile); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("matching")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/upimatch")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("UPIMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultMatchingRules()
	v.SetDefault("matching.window", defaults.Window.String())
	v.SetDefault("matching.expireAfter", defaults.ExpireAfter.String())
	v.SetDefault("matching.retention", defaults.Retention.String())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	rules := readMatchingRules(v)
	if err := validateMatchingRules(rules); err != nil {
		return nil, err
	}

	holder := &MatchingRulesHolder{}
	holder.current.Store(rules)

	if used := v.ConfigFileUsed(); used != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated := readMatchingRules(v)
			if err := validateMatchingRules(updated); err != nil {
				log.Warn("invalid matching rules ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("matching rules reloaded",
				zap.String("file", e.Name),
				zap.Duration("window", updated.Window),
				zap.Duration("expire_after", updated.ExpireAfter),
				zap.Duration("retention", updated.Retention),
			)
		})
		v.WatchConfig()
	}

	return holder, nil
}

// NewStaticMatchingRules returns a holder that never reloads.
func NewStaticMatchingRules(rules MatchingRules) *MatchingRulesHolder {
	holder := &MatchingRulesHolder{}
	holder.current.Store(rules)
	return holder
}

func (h *MatchingRulesHolder) Get() MatchingRules {
	if h == nil {
		return DefaultMatchingRules()
	}
	return h.current.Load().(MatchingRules)
}

func readMatchingRules(v *viper.Viper) MatchingRules {
	return MatchingRules{
		Window:      v.GetDuration("matching.window"),
		ExpireAfter: v.GetDuration("matching.expireAfter"),
		Retention:   v.GetDuration("matching.retention"),
	}
}

func validateMatchingRules(rules MatchingRules) error {
	if rules.Window <= 0 {
		return errors.New("matching.window must be positive")
	}
	if rules.ExpireAfter < rules.Window {
		return errors.New("matching.expireAfter cannot be shorter than matching.window")
	}
	if rules.Retention <= 0 {
		return errors.New("matching.retention must be positive")
	}
	return nil
}
