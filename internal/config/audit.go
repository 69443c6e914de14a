package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JaimeStill/billwatch/internal/audit"
	"github.com/JaimeStill/billwatch/internal/risk"
)

const (
	EnvHashExtended            = "BILLWATCH_HASH_EXTENDED"
	EnvAuditSensitiveFields    = "BILLWATCH_AUDIT_SENSITIVE_FIELDS"
	EnvAuditBatchSize          = "BILLWATCH_AUDIT_BATCH_SIZE"
	EnvAuditMediumThreshold    = "BILLWATCH_AUDIT_MEDIUM_THRESHOLD"
	EnvAuditHighThreshold      = "BILLWATCH_AUDIT_HIGH_THRESHOLD"
	EnvAuditPriceVarianceRatio = "BILLWATCH_AUDIT_PRICE_VARIANCE_RATIO"
)

// HashConfig selects the fingerprint mode.
type HashConfig struct {
	Extended bool `toml:"extended"`
}

// Merge overwrites non-zero fields from overlay.
func (c *HashConfig) Merge(overlay *HashConfig) {
	if overlay.Extended {
		c.Extended = true
	}
}

// Finalize applies environment variable overrides.
func (c *HashConfig) Finalize() error {
	if v := os.Getenv(EnvHashExtended); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHashExtended, err)
		}
		c.Extended = b
	}
	return nil
}

// AuditConfig holds change detection and risk classification parameters.
type AuditConfig struct {
	SensitiveFields    []string `toml:"sensitive_fields"`
	BatchSize          int      `toml:"batch_size"`
	Workers            int      `toml:"workers"`
	MediumThreshold    int      `toml:"medium_threshold"`
	HighThreshold      int      `toml:"high_threshold"`
	PriceVarianceRatio string   `toml:"price_variance_ratio"`
	DisableBaseline    bool     `toml:"disable_baseline"`
}

// Thresholds returns the configured risk thresholds.
func (c *AuditConfig) Thresholds() risk.Thresholds {
	return risk.Thresholds{Medium: c.MediumThreshold, High: c.HighThreshold}
}

// VarianceRatio returns PriceVarianceRatio as a decimal.
func (c *AuditConfig) VarianceRatio() decimal.Decimal {
	d, err := decimal.NewFromString(c.PriceVarianceRatio)
	if err != nil {
		return risk.DefaultVarianceRatio
	}
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *AuditConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *AuditConfig) Merge(overlay *AuditConfig) {
	if len(overlay.SensitiveFields) > 0 {
		c.SensitiveFields = overlay.SensitiveFields
	}
	if overlay.BatchSize != 0 {
		c.BatchSize = overlay.BatchSize
	}
	if overlay.Workers != 0 {
		c.Workers = overlay.Workers
	}
	if overlay.MediumThreshold != 0 {
		c.MediumThreshold = overlay.MediumThreshold
	}
	if overlay.HighThreshold != 0 {
		c.HighThreshold = overlay.HighThreshold
	}
	if overlay.PriceVarianceRatio != "" {
		c.PriceVarianceRatio = overlay.PriceVarianceRatio
	}
	if overlay.DisableBaseline {
		c.DisableBaseline = true
	}
}

func (c *AuditConfig) loadDefaults() {
	if len(c.SensitiveFields) == 0 {
		c.SensitiveFields = audit.DefaultFields()
	}
	if c.BatchSize == 0 {
		c.BatchSize = audit.DefaultBatchSize
	}
	if c.MediumThreshold == 0 {
		c.MediumThreshold = risk.MediumThreshold
	}
	if c.HighThreshold == 0 {
		c.HighThreshold = risk.HighThreshold
	}
	if c.PriceVarianceRatio == "" {
		c.PriceVarianceRatio = risk.DefaultVarianceRatio.String()
	}
}

func (c *AuditConfig) loadEnv() {
	if v := os.Getenv(EnvAuditSensitiveFields); v != "" {
		c.SensitiveFields = strings.Split(v, ",")
		for i, f := range c.SensitiveFields {
			c.SensitiveFields[i] = strings.TrimSpace(f)
		}
	}
	if v := os.Getenv(EnvAuditBatchSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BatchSize = n
		}
	}
	if v := os.Getenv(EnvAuditMediumThreshold); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MediumThreshold = n
		}
	}
	if v := os.Getenv(EnvAuditHighThreshold); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HighThreshold = n
		}
	}
	if v := os.Getenv(EnvAuditPriceVarianceRatio); v != "" {
		c.PriceVarianceRatio = v
	}
}

func (c *AuditConfig) validate() error {
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	d, err := decimal.NewFromString(c.PriceVarianceRatio)
	if err != nil {
		return fmt.Errorf("invalid price_variance_ratio: %w", err)
	}
	if !d.IsPositive() {
		return fmt.Errorf("price_variance_ratio must be positive: %s", d)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive: %d", c.BatchSize)
	}
	for _, f := range c.SensitiveFields {
		if f != audit.FieldQuantity && f != audit.FieldUnitPrice {
			return fmt.Errorf("%w: %s", audit.ErrUnknownField, f)
		}
	}
	return nil
}
