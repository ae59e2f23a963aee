package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iamgideonidoko/nudge/internal/models"
)

type Config struct {
	API        APIConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Targeting  TargetingConfig
	RateLimit  RateLimitConfig
	Security   SecurityConfig
	Enrichment EnrichmentConfig
	Kafka      KafkaConfig
	Monitoring MonitoringConfig
}

type APIConfig struct {
	Port        string
	Host        string
	Environment string
}

func (c APIConfig) Address() string {
	return c.Host + ":" + c.Port
}

func (c APIConfig) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

type DatabaseConfig struct {
	Driver       string // postgres or memory
	URL          string
	MaxConns     int
	MaxIdleConns int
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	CacheTTL time.Duration
}

type TargetingConfig struct {
	SessionTimeout     time.Duration
	QuotaHardStopRatio float64
	PlansFile          string
	Plans              map[models.PlanTier]models.Plan
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type SecurityConfig struct {
	CORSOrigins  []string
	StrictOrigin bool
}

type EnrichmentConfig struct {
	GeoIPDBPath string
}

type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.EventsTopic != ""
}

type MonitoringConfig struct {
	LogLevel string
}

// DefaultPlans are used for any tier the plans file does not override.
func DefaultPlans() map[models.PlanTier]models.Plan {
	return map[models.PlanTier]models.Plan{
		models.PlanFree:    {Tier: models.PlanFree, CampaignLimit: 1, VisitorQuota: 1000},
		models.PlanStarter: {Tier: models.PlanStarter, CampaignLimit: 3, VisitorQuota: 10000},
		models.PlanGrowth:  {Tier: models.PlanGrowth, CampaignLimit: 10, VisitorQuota: 50000},
		models.PlanScale:   {Tier: models.PlanScale, CampaignLimit: 0, VisitorQuota: 250000},
	}
}

func Load() (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			Port:        getEnv("API_PORT", "6969"),
			Host:        getEnv("API_HOST", "0.0.0.0"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("STORE_DRIVER", "postgres"),
			URL:          getEnv("DATABASE_URL", "postgresql://nudge:@localhost:5432/nudge?sslmode=disable"),
			MaxConns:     getEnvInt("DB_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			CacheTTL: getEnvDuration("REDIS_CACHE_TTL", 5*time.Minute),
		},
		Targeting: TargetingConfig{
			SessionTimeout:     getEnvDuration("SESSION_TIMEOUT", models.DefaultSessionTimeout),
			QuotaHardStopRatio: getEnvFloat("QUOTA_HARD_STOP_RATIO", 1.2),
			PlansFile:          getEnv("PLANS_FILE", ""),
			Plans:              DefaultPlans(),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 1000),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
		},
		Security: SecurityConfig{
			CORSOrigins:  getEnvSlice("CORS_ORIGINS", []string{"*"}),
			StrictOrigin: getEnvBool("STRICT_ORIGIN", false),
		},
		Enrichment: EnrichmentConfig{
			GeoIPDBPath: getEnv("GEOIP_DB_PATH", ""),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvSlice("KAFKA_BROKERS", nil),
			EventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "nudge.events"),
		},
		Monitoring: MonitoringConfig{
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
	}

	if cfg.Targeting.PlansFile != "" {
		plans, err := LoadPlans(cfg.Targeting.PlansFile)
		if err != nil {
			return nil, err
		}
		cfg.Targeting.Plans = plans
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.Database.Driver)
	}
	if c.Targeting.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive")
	}
	if c.Targeting.QuotaHardStopRatio < 1 {
		return fmt.Errorf("QUOTA_HARD_STOP_RATIO must be at least 1")
	}
	for tier, plan := range c.Targeting.Plans {
		if plan.CampaignLimit < 0 || plan.VisitorQuota <= 0 {
			return fmt.Errorf("plan %s: campaign_limit must be >= 0 and visitor_quota > 0", tier)
		}
	}
	return nil
}

type plansFile struct {
	Plans []models.Plan `yaml:"plans"`
}

// LoadPlans reads tier overrides from a YAML file on top of DefaultPlans.
func LoadPlans(path string) (map[models.PlanTier]models.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}
	return ParsePlans(data)
}

func ParsePlans(data []byte) (map[models.PlanTier]models.Plan, error) {
	var file plansFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plans file: %w", err)
	}

	plans := DefaultPlans()
	for _, p := range file.Plans {
		p.Tier = models.PlanTier(strings.ToUpper(string(p.Tier)))
		if p.Tier == "" {
			return nil, fmt.Errorf("plan entry without tier")
		}
		plans[p.Tier] = p
	}
	return plans, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				result = append(result, item)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
