// Package config loads the claim processing policy from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/strategy"
	"github.com/dukex/claimflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Policy is the tunable part of claim processing. Every field has a production default.
type Policy struct {
	Thresholds      strategy.Thresholds  `yaml:"thresholds"`
	Retry           workflow.RetryPolicy `yaml:"retry"`
	PreliminaryRisk models.RiskCategory  `yaml:"preliminary_risk" validate:"oneof=LOW MEDIUM HIGH"`
	Generator       Generator            `yaml:"generator"`
	MetricsReport   string               `yaml:"metrics_report"   validate:"omitempty,cron"`
}

// Generator configures documentation text generation. An empty BaseURL selects the built-in
// template renderer.
type Generator struct {
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"  validate:"gte=0"`
}

func DefaultPolicy() Policy {
	return Policy{
		Thresholds:      strategy.DefaultThresholds(),
		Retry:           workflow.DefaultRetryPolicy(),
		PreliminaryRisk: models.RiskMedium,
		Generator: Generator{
			Timeout: 60 * time.Second,
		},
		MetricsReport: "@every 1m",
	}
}

// LoadPolicy reads a policy file. Fields absent from the file keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	policy, err := ParsePolicy(data)
	if err != nil {
		return Policy{}, fmt.Errorf("config file %s: %w", path, err)
	}

	return policy, nil
}

// LoadPolicyOrDefault loads path when set and returns the defaults otherwise.
func LoadPolicyOrDefault(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	return LoadPolicy(path)
}

func ParsePolicy(data []byte) (Policy, error) {
	policy := DefaultPolicy()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&policy); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := ValidatePolicy(policy); err != nil {
		return Policy{}, err
	}

	return policy, nil
}

// ValidatePolicy checks field constraints and cross-field rules.
func ValidatePolicy(policy Policy) error {
	if err := newValidator().Struct(policy); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())

		return err == nil
	})

	return v
}
