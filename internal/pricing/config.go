// Package pricing owns the static pricing table: credit cost per tutor
// model, feature surcharges, and the purchasable credit packages. The table
// is configuration, not computed state; it can be hot-reloaded from a
// mounted pricing.yml without restarting the service.
package pricing

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ModelPrice describes one selectable tutor model and its per-call cost.
type ModelPrice struct {
	ID          string `mapstructure:"id" json:"id"`
	Name        string `mapstructure:"name" json:"name"`
	Description string `mapstructure:"description" json:"description"`
	Credits     int64  `mapstructure:"credits" json:"credits"`
	IsDefault   bool   `mapstructure:"default" json:"is_default"`
}

// Package describes a purchasable credit block.
type Package struct {
	ID           string `mapstructure:"id" json:"id"`
	Name         string `mapstructure:"name" json:"name"`
	Credits      int64  `mapstructure:"credits" json:"credits"`
	PriceCents   int64  `mapstructure:"priceCents" json:"price_cents"`
	Currency     string `mapstructure:"currency" json:"currency"`
	Unlimited    bool   `mapstructure:"unlimited" json:"unlimited"`
	DurationDays int    `mapstructure:"durationDays" json:"duration_days"`
}

// Table is the full pricing configuration.
type Table struct {
	Models []ModelPrice `mapstructure:"models" json:"models"`
	// QuizCredits is the flat cost of generating a quiz, regardless of model.
	QuizCredits int64 `mapstructure:"quizCredits" json:"quiz_credits"`
	// FallbackCredits applies when a model is missing from Models.
	FallbackCredits int64     `mapstructure:"fallbackCredits" json:"fallback_credits"`
	Packages        []Package `mapstructure:"packages" json:"packages"`
}

func DefaultTable() Table {
	return Table{
		Models: []ModelPrice{
			{
				ID:          "rekaai/reka-flash-3:free",
				Name:        "Reka Flash 3",
				Description: "Default model that balances performance and credit usage.",
				Credits:     1,
				IsDefault:   true,
			},
			{
				ID:          "google/learnlm-1.5-pro:experimental",
				Name:        "Google LearnLM 1.5 Pro",
				Description: "More powerful learning model with improved understanding of complex topics.",
				Credits:     3,
			},
			{
				ID:          "nvidia/nemotron-253b:free",
				Name:        "NVIDIA Nemotron 253B",
				Description: "Advanced model with deep knowledge capabilities for complex subject matter.",
				Credits:     5,
			},
		},
		QuizCredits:     2,
		FallbackCredits: 1,
		Packages: []Package{
			{ID: "credits-50", Name: "50 Credits", Credits: 50, PriceCents: 599, Currency: "USD", DurationDays: 30},
			{ID: "credits-200", Name: "200 Credits", Credits: 200, PriceCents: 1599, Currency: "USD", DurationDays: 30},
			{ID: "credits-500", Name: "500 Credits", Credits: 500, PriceCents: 3999, Currency: "USD", DurationDays: 30},
			{ID: "unlimited-30", Name: "Unlimited (30 days)", Credits: 0, PriceCents: 2599, Currency: "USD", Unlimited: true, DurationDays: 30},
		},
	}
}

// Holder keeps the active pricing table behind an atomic swap so reloads
// never block readers mid-request.
type Holder struct {
	current atomic.Value // holds Table
}

func NewHolder() (*Holder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/learnify/config") // Volume-mounted config
	v.AddConfigPath("/etc/learnify")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("LEARNIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultTable()
		v.SetDefault("pricing.models", defaults.Models)
		v.SetDefault("pricing.quizCredits", defaults.QuizCredits)
		v.SetDefault("pricing.fallbackCredits", defaults.FallbackCredits)
		v.SetDefault("pricing.packages", defaults.Packages)
	}

	var table Table
	if err := v.UnmarshalKey("pricing", &table); err != nil {
		return nil, err
	}
	if err := validateTable(table); err != nil {
		return nil, err
	}

	holder := &Holder{}
	holder.current.Store(table)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Table
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validateTable(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticHolder wraps a fixed table, used by tests and embedded callers.
func NewStaticHolder(table Table) (*Holder, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	holder := &Holder{}
	holder.current.Store(table)
	return holder, nil
}

func (h *Holder) Get() Table {
	return h.current.Load().(Table)
}

func validateTable(table Table) error {
	if len(table.Models) == 0 {
		return errors.New("pricing.models cannot be empty")
	}
	if table.FallbackCredits <= 0 {
		return errors.New("pricing.fallbackCredits must be positive")
	}
	if table.QuizCredits <= 0 {
		return errors.New("pricing.quizCredits must be positive")
	}
	for _, model := range table.Models {
		if strings.TrimSpace(model.ID) == "" {
			return errors.New("pricing model id cannot be empty")
		}
		if model.Credits <= 0 {
			return errors.New("pricing model credits must be positive")
		}
	}
	for _, pkg := range table.Packages {
		if strings.TrimSpace(pkg.ID) == "" {
			return errors.New("pricing package id cannot be empty")
		}
		if pkg.PriceCents <= 0 {
			return errors.New("pricing package price must be positive")
		}
		if !pkg.Unlimited && pkg.Credits <= 0 {
			return errors.New("pricing package credits must be positive")
		}
		if pkg.DurationDays <= 0 {
			return errors.New("pricing package duration must be positive")
		}
	}
	return nil
}
