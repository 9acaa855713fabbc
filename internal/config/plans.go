package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PlanEntitlements defines the monthly allowances granted by a plan.
// Money amounts are integer cents.
type PlanEntitlements struct {
	PremiumArticlesLimit   int   `mapstructure:"premiumArticlesLimit"`
	FreeQuizzesLimit       int   `mapstructure:"freeQuizzesLimit"`
	FreeQuizValueCap       int64 `mapstructure:"freeQuizValueCap"`
	DiscountedQuizzesLimit int   `mapstructure:"discountedQuizzesLimit"`
	ArticleDiscountPercent int   `mapstructure:"articleDiscountPercent"`
	QuizDiscountPercent    int   `mapstructure:"quizDiscountPercent"`
}

type PlanConfig struct {
	Plans map[string]PlanEntitlements `mapstructure:"plans"`
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		Plans: map[string]PlanEntitlements{
			"standard": {
				PremiumArticlesLimit:   3,
				FreeQuizzesLimit:       2,
				FreeQuizValueCap:       5000,
				DiscountedQuizzesLimit: 3,
				ArticleDiscountPercent: 30,
				QuizDiscountPercent:    20,
			},
			"premium": {
				PremiumArticlesLimit:   10,
				FreeQuizzesLimit:       5,
				FreeQuizValueCap:       10000,
				DiscountedQuizzesLimit: 10,
				ArticleDiscountPercent: 50,
				QuizDiscountPercent:    30,
			},
		},
	}
}

// PlanConfigHolder exposes the current plan allowances and hot-reloads
// them when plans.yml changes on disk.
type PlanConfigHolder struct {
	current atomic.Value // holds PlanConfig
}

func NewPlanConfigHolder() (*PlanConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/inkwell/config")
	v.AddConfigPath("/etc/inkwell")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INKWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	usingDefaults := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		usingDefaults = true
	}

	holder := &PlanConfigHolder{}

	load := func() error {
		if usingDefaults {
			holder.current.Store(DefaultPlanConfig())
			return nil
		}
		var cfg PlanConfig
		if err := v.Unmarshal(&cfg); err != nil {
			return err
		}
		if err := validatePlanConfig(cfg); err != nil {
			return err
		}
		holder.current.Store(cfg)
		return nil
	}

	if err := load(); err != nil {
		return nil, err
	}

	if !usingDefaults {
		v.OnConfigChange(func(_ fsnotify.Event) {
			// A broken edit keeps the previous good config in place.
			_ = load()
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *PlanConfigHolder) Current() PlanConfig {
	cfg, _ := h.current.Load().(PlanConfig)
	return cfg
}

// Plan resolves the entitlements for a plan name, falling back to
// "standard" for unknown plans so a provider-side rename never strands
// an active subscriber with zero allowances.
func (h *PlanConfigHolder) Plan(name string) PlanEntitlements {
	cfg := h.Current()
	if ent, ok := cfg.Plans[strings.ToLower(strings.TrimSpace(name))]; ok {
		return ent
	}
	if ent, ok := cfg.Plans["standard"]; ok {
		return ent
	}
	return PlanEntitlements{}
}

func validatePlanConfig(cfg PlanConfig) error {
	if len(cfg.Plans) == 0 {
		return errors.New("plan config: no plans defined")
	}
	for name, ent := range cfg.Plans {
		if strings.TrimSpace(name) == "" {
			return errors.New("plan config: empty plan name")
		}
		if ent.PremiumArticlesLimit < 0 || ent.FreeQuizzesLimit < 0 || ent.DiscountedQuizzesLimit < 0 {
			return errors.New("plan config: negative allowance limit")
		}
		if ent.FreeQuizValueCap < 0 {
			return errors.New("plan config: negative value cap")
		}
		if ent.ArticleDiscountPercent < 0 || ent.ArticleDiscountPercent > 100 {
			return errors.New("plan config: article discount percent out of range")
		}
		if ent.QuizDiscountPercent < 0 || ent.QuizDiscountPercent > 100 {
			return errors.New("plan config: quiz discount percent out of range")
		}
	}
	return nil
}
