package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// UnlimitedLimit marks a plan limit with no cap.
const UnlimitedLimit = -1

// PlanLimits is the monthly generation allowance per resource kind.
type PlanLimits struct {
	Articles int `mapstructure:"articles"`
	Outlines int `mapstructure:"outlines"`
	Images   int `mapstructure:"images"`
}

// PlanConfig maps plan tier names to their limits.
type PlanConfig struct {
	Plans map[string]PlanLimits `mapstructure:"plans"`
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		Plans: map[string]PlanLimits{
			"free":         {Articles: 5, Outlines: 10, Images: 10},
			"starter":      {Articles: 50, Outlines: 100, Images: 100},
			"professional": {Articles: 500, Outlines: 1000, Images: 500},
			"enterprise":   {Articles: UnlimitedLimit, Outlines: UnlimitedLimit, Images: UnlimitedLimit},
		},
	}
}

// PlanConfigHolder serves an immutable snapshot of the plan table and swaps
// it atomically when the config file changes on disk.
type PlanConfigHolder struct {
	current atomic.Value // holds PlanConfig
}

func NewPlanConfigHolder() (*PlanConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/inkwell/config") // Volume-mounted config
	v.AddConfigPath("/etc/inkwell")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("INKWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultPlanConfig()
		v.SetDefault("plans", defaults.Plans)
	}

	var cfg PlanConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validatePlanConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Printf("[plan-config] reload failed: %v", err)
			return
		}
		if err := validatePlanConfig(updated); err != nil {
			log.Printf("[plan-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPlanConfigHolder wraps a fixed plan table, bypassing the file
// watcher. Used by tests.
func NewStaticPlanConfigHolder(cfg PlanConfig) *PlanConfigHolder {
	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PlanConfigHolder) Get() PlanConfig {
	return h.current.Load().(PlanConfig)
}

// Store replaces the current snapshot. Callers must pass a validated config.
func (h *PlanConfigHolder) Store(cfg PlanConfig) {
	h.current.Store(cfg)
}

func validatePlanConfig(cfg PlanConfig) error {
	if len(cfg.Plans) == 0 {
		return errors.New("plans cannot be empty")
	}
	for name, limits := range cfg.Plans {
		for _, v := range []int{limits.Articles, limits.Outlines, limits.Images} {
			if v < UnlimitedLimit {
				return errors.New("plan " + name + " has a limit below -1")
			}
		}
	}
	return nil
}
