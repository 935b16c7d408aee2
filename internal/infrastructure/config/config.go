package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`
	MetricsAddr string `koanf:"metrics_addr"`

	Database Database `koanf:"database"`
	Redis    Redis    `koanf:"redis"`
	Kafka    Kafka    `koanf:"kafka"`
	Cold     Cold     `koanf:"cold_storage"`
	Vector   Vector   `koanf:"vector"`
	Graph    Graph    `koanf:"graph"`

	Audit     Audit     `koanf:"audit"`
	Routing   Routing   `koanf:"routing"`
	Breaker   Breaker   `koanf:"circuit_breaker"`
	Limits    Limits    `koanf:"limits"`
	Autonomy  Autonomy  `koanf:"autonomy"`
	Detection Detection `koanf:"detection"`
	Canary    Canary    `koanf:"canary"`
	Drift     Drift     `koanf:"drift"`
	Migration Migration `koanf:"embedding_migration"`
	Auth      Auth      `koanf:"auth"`
}

type Database struct {
	URL              string        `koanf:"url" validate:"required"`
	MaxConns         int           `koanf:"max_conns"`
	MinConns         int           `koanf:"min_conns"`
	ConnMaxLifetime  time.Duration `koanf:"conn_max_lifetime"`
	StatementTimeout time.Duration `koanf:"statement_timeout"`
}

type Redis struct {
	Addr         string        `koanf:"addr"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type Kafka struct {
	Brokers      []string      `koanf:"brokers"`
	GroupID      string        `koanf:"group_id"`
	BatchSize    int           `koanf:"batch_size"`
	BatchTimeout time.Duration `koanf:"batch_timeout"`
	ProbeTimeout time.Duration `koanf:"probe_timeout"`
}

type Cold struct {
	Bucket   string `koanf:"bucket" validate:"required"`
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // MinIO / LocalStack in tests
	KMSKeyID string `koanf:"kms_key_id"`
	Prefix   string `koanf:"prefix"`
}

type Vector struct {
	URL        string        `koanf:"url"`
	APIKey     string        `koanf:"api_key"`
	Collection string        `koanf:"collection"`
	Timeout    time.Duration `koanf:"timeout"`
}

type Graph struct {
	URL      string        `koanf:"url"`
	Database string        `koanf:"database"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	Timeout  time.Duration `koanf:"timeout"`
}

type Audit struct {
	WarmRetentionMonths   int      `koanf:"warm_retention_months"`
	RetentionBufferMonths int      `koanf:"retention_buffer_months"`
	PartitionsAhead       int      `koanf:"partitions_ahead"`
	ContinuousWindow      int      `koanf:"continuous_window"` // records per continuous check
	ColdSampleSize        int      `koanf:"cold_sample_size"`  // records per weekly check
	LagAlertThreshold     int64    `koanf:"lag_alert_threshold"`
	LegalHoldTenants      []string `koanf:"legal_hold_tenants"`
}

// TierModel configures one tier's model binding.
type TierModel struct {
	Provider          string  `koanf:"provider"`
	ModelID           string  `koanf:"model_id"`
	MaxContextTokens  int     `koanf:"max_context_tokens"`
	MaxOutputTokens   int     `koanf:"max_output_tokens"`
	InputCostPerMTok  float64 `koanf:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `koanf:"output_cost_per_mtok"`
	ToolUse           bool    `koanf:"tool_use"`
	ExtendedReasoning bool    `koanf:"extended_reasoning"`
	PromptCaching     bool    `koanf:"prompt_caching"`
	BatchEligible     bool    `koanf:"batch_eligible"`
	ReliableJSON      bool    `koanf:"reliable_json"`
	FallbackProvider  string  `koanf:"fallback_provider"`
	FallbackModelID   string  `koanf:"fallback_model_id"`
}

type Routing struct {
	Tiers           map[string]TierModel `koanf:"tiers"`      // keyed by tier name
	TaskTiers       map[string]string    `koanf:"task_tiers"` // task -> tier name
	AnthropicAPIKey string               `koanf:"anthropic_api_key"`
	OpenAIAPIKey    string               `koanf:"openai_api_key"`
}

type Breaker struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	RecoveryTimeout  time.Duration `koanf:"recovery_timeout"`
}

// PriorityLimit is one row of the concurrency table.
type PriorityLimit struct {
	MaxConcurrent int `koanf:"max_concurrent"`
	MaxRPM        int `koanf:"max_rpm"`
}

type Limits struct {
	Priorities        map[string]PriorityLimit `koanf:"priorities"`
	TenantQuotas      map[string]int           `koanf:"tenant_quotas"` // tenant tier -> hourly cap
	EscalationPerHour int                      `koanf:"escalation_per_hour"`
}

type Autonomy struct {
	MinPerStratum    int     `koanf:"min_per_stratum"`
	NovelPatternDays int     `koanf:"novel_pattern_days"`
	PrecisionTarget  float64 `koanf:"precision_target"`
	FNRTarget        float64 `koanf:"fnr_target"`
	ThresholdStep    float64 `koanf:"threshold_step"`
	ThresholdCap     float64 `koanf:"threshold_cap"`
}

type Detection struct {
	SafetyRelevantRules []string      `koanf:"safety_relevant_rules"`
	SafetyFloor         float64       `koanf:"safety_floor"`
	TickInterval        time.Duration `koanf:"tick_interval"`
}

type Canary struct {
	PromotionDays     int     `koanf:"promotion_days"`
	MinPrecision      float64 `koanf:"min_precision"`
	RollbackPrecision float64 `koanf:"rollback_precision"`
}

type Drift struct {
	SourceWeight            float64 `koanf:"source_weight"`
	TechniqueWeight         float64 `koanf:"technique_weight"`
	EntityWeight            float64 `koanf:"entity_weight"`
	Threshold               float64 `koanf:"threshold"`
	ElevatedConfidenceFloor float64 `koanf:"elevated_confidence_floor"`
	NormalConfidenceFloor   float64 `koanf:"normal_confidence_floor"`
}

type Migration struct {
	OldModelID        string  `koanf:"old_model_id"`
	NewModelID        string  `koanf:"new_model_id"`
	BatchSize         int     `koanf:"batch_size"`
	RateLimitRPS      float64 `koanf:"rate_limit_rps"`
	PageSize          int     `koanf:"page_size"`
	EmbeddingEndpoint string  `koanf:"embedding_endpoint"`
	EmbeddingAPIKey   string  `koanf:"embedding_api_key"`
}

type Auth struct {
	JWTSecret string `koanf:"jwt_secret"`
}

// Load builds the configuration from defaults, an optional yaml file, and
// AEGIS_-prefixed environment variables, in that order of precedence.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional.
	_ = k.Load(file.Provider("configs/config.yaml"), yaml.Parser())

	if err := k.Load(env.Provider("AEGIS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "AEGIS_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Defaults returns the built-in configuration. Every tunable named in the
// subsystem designs appears here with its documented default.
func Defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		MetricsAddr: ":9090",
		Database: Database{
			MaxConns:         25,
			MinConns:         5,
			ConnMaxLifetime:  5 * time.Minute,
			StatementTimeout: 30 * time.Second,
		},
		Redis: Redis{
			Addr:         "localhost:6379",
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{
			Brokers:      []string{"localhost:9092"},
			GroupID:      "aegis-backend",
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			ProbeTimeout: 10 * time.Second,
		},
		Cold: Cold{
			Region: "us-east-1",
			Prefix: "cold",
		},
		Vector: Vector{
			URL:        "http://localhost:6333",
			Collection: "alerts",
			Timeout:    30 * time.Second,
		},
		Graph: Graph{
			URL:      "http://localhost:7474",
			Database: "neo4j",
			Timeout:  30 * time.Second,
		},
		Audit: Audit{
			WarmRetentionMonths:   12,
			RetentionBufferMonths: 1,
			PartitionsAhead:       3,
			ContinuousWindow:      100,
			ColdSampleSize:        100,
			LagAlertThreshold:     1000,
		},
		Routing: Routing{
			Tiers: map[string]TierModel{
				"tier_0": {
					Provider:          "anthropic",
					ModelID:           "claude-haiku-latest",
					MaxContextTokens:  200000,
					MaxOutputTokens:   4096,
					InputCostPerMTok:  0.80,
					OutputCostPerMTok: 4.00,
					ToolUse:           true,
					PromptCaching:     true,
					ReliableJSON:      true,
					FallbackProvider:  "openai",
					FallbackModelID:   "gpt-4o-mini",
				},
				"tier_1": {
					Provider:          "anthropic",
					ModelID:           "claude-sonnet-latest",
					MaxContextTokens:  200000,
					MaxOutputTokens:   8192,
					InputCostPerMTok:  3.00,
					OutputCostPerMTok: 15.00,
					ToolUse:           true,
					ExtendedReasoning: true,
					PromptCaching:     true,
					ReliableJSON:      true,
					FallbackProvider:  "openai",
					FallbackModelID:   "gpt-4o",
				},
				"tier_1+": {
					Provider:          "anthropic",
					ModelID:           "claude-opus-latest",
					MaxContextTokens:  200000,
					MaxOutputTokens:   16384,
					InputCostPerMTok:  15.00,
					OutputCostPerMTok: 75.00,
					ToolUse:           true,
					ExtendedReasoning: true,
					PromptCaching:     true,
					ReliableJSON:      true,
				},
				"tier_2": {
					Provider:          "anthropic",
					ModelID:           "claude-haiku-latest",
					MaxContextTokens:  200000,
					MaxOutputTokens:   4096,
					InputCostPerMTok:  0.40,
					OutputCostPerMTok: 2.00,
					BatchEligible:     true,
					ReliableJSON:      true,
				},
			},
			TaskTiers: map[string]string{
				"triage":            "tier_0",
				"classification":    "tier_0",
				"summarization":     "tier_0",
				"enrichment":        "tier_0",
				"investigation":     "tier_1",
				"correlation":       "tier_1",
				"response_planning": "tier_1",
				"forensics":         "tier_1+",
				"retro_hunt":        "tier_2",
				"batch_rescan":      "tier_2",
			},
		},
		Breaker: Breaker{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
		},
		Limits: Limits{
			Priorities: map[string]PriorityLimit{
				"critical": {MaxConcurrent: 8, MaxRPM: 200},
				"high":     {MaxConcurrent: 6, MaxRPM: 100},
				"normal":   {MaxConcurrent: 4, MaxRPM: 50},
				"low":      {MaxConcurrent: 2, MaxRPM: 20},
			},
			TenantQuotas: map[string]int{
				"premium":  500,
				"standard": 100,
				"trial":    20,
			},
			EscalationPerHour: 10,
		},
		Autonomy: Autonomy{
			MinPerStratum:    30,
			NovelPatternDays: 30,
			PrecisionTarget:  0.98,
			FNRTarget:        0.005,
			ThresholdStep:    0.02,
			ThresholdCap:     0.99,
		},
		Detection: Detection{
			SafetyFloor:  0.7,
			TickInterval: time.Minute,
		},
		Canary: Canary{
			PromotionDays:     7,
			MinPrecision:      0.98,
			RollbackPrecision: 0.95,
		},
		Drift: Drift{
			SourceWeight:            0.40,
			TechniqueWeight:         0.35,
			EntityWeight:            0.25,
			Threshold:               0.30,
			ElevatedConfidenceFloor: 0.95,
			NormalConfidenceFloor:   0.90,
		},
		Migration: Migration{
			BatchSize:    100,
			RateLimitRPS: 10,
			PageSize:     256,
		},
	}
}
