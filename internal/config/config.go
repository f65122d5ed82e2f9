package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fliptools/pkg/logger"
)

// Config 应用配置
// 优先级：环境变量 (FLIP_ 前缀) > config.yaml > 默认值
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      logger.Config  `mapstructure:"log"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Ebay     PlatformConfig `mapstructure:"ebay"`
	Etsy     PlatformConfig `mapstructure:"etsy"`
	Depop    PlatformConfig `mapstructure:"depop"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
	// OAuth 回调完成后跳回前端的地址
	SettingsURL string `mapstructure:"settings_url"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// RedisConfig Addr 为空时使用进程内存储
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// HTTPConfig 调用平台 API 的客户端配置
type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	Proxy      string        `mapstructure:"proxy"`
	Debug      bool          `mapstructure:"debug"`
}

type SyncConfig struct {
	Cooldown      time.Duration `mapstructure:"cooldown"`
	TokenBuffer   time.Duration `mapstructure:"token_buffer"`
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
	Cron          string        `mapstructure:"cron"`
	TokenCron     string        `mapstructure:"token_cron"`
	RefreshWindow time.Duration `mapstructure:"refresh_window"`
	Concurrency   int           `mapstructure:"concurrency"`
	// 同步接口每用户限流
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// PlatformConfig 各平台 OAuth 应用与 API 配置
type PlatformConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURI  string   `mapstructure:"redirect_uri"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	APIBaseURL   string   `mapstructure:"api_base_url"`
	Scopes       []string `mapstructure:"scopes"`
	PageSize     int      `mapstructure:"page_size"`
	Rate         float64  `mapstructure:"rate"`
	Burst        int      `mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fliptools")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.settings_url", "http://localhost:3000/settings")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.slow_threshold", 200*time.Millisecond)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.time_format", "2006-01-02 15:04:05.000")

	v.SetDefault("jwt.secret", "")

	v.SetDefault("http.timeout", 20*time.Second)
	v.SetDefault("http.retry_count", 2)
	v.SetDefault("http.proxy", "")
	v.SetDefault("http.debug", false)

	v.SetDefault("sync.cooldown", 2*time.Minute)
	v.SetDefault("sync.token_buffer", 5*time.Minute)
	v.SetDefault("sync.run_timeout", 10*time.Minute)
	v.SetDefault("sync.cron", "0 */30 * * * *")
	v.SetDefault("sync.token_cron", "0 */10 * * * *")
	v.SetDefault("sync.refresh_window", 30*time.Minute)
	v.SetDefault("sync.concurrency", 5)
	v.SetDefault("sync.requests_per_minute", 6)

	for _, p := range []string{"ebay", "etsy", "depop"} {
		v.SetDefault(p+".enabled", true)
		v.SetDefault(p+".client_id", "")
		v.SetDefault(p+".client_secret", "")
		v.SetDefault(p+".redirect_uri", "")
		v.SetDefault(p+".auth_url", "")
		v.SetDefault(p+".token_url", "")
		v.SetDefault(p+".api_base_url", "")
		v.SetDefault(p+".scopes", []string{})
		v.SetDefault(p+".page_size", 0)
		v.SetDefault(p+".rate", 5.0)
		v.SetDefault(p+".burst", 5)
	}
}

// Load 读取 .env、config.yaml 与环境变量
func Load(paths ...string) (*Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("FLIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 启动前的必填项检查
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.dsn 未配置 (FLIP_DATABASE_DSN)")
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret 未配置 (FLIP_JWT_SECRET)")
	}
	if c.Sync.Concurrency <= 0 {
		return errors.New("sync.concurrency 必须大于 0")
	}
	return nil
}
