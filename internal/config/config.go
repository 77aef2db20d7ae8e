package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	ProviderLocal   = "local"
	ProviderLiveKit = "livekit"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PublicURL  string        `mapstructure:"public_url"`
	// Per-client limit on /api/token.
	TokenRate  float64 `mapstructure:"token_rate"`
	TokenBurst int     `mapstructure:"token_burst"`

	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Room    RoomConfig    `mapstructure:"room"`
	LiveKit LiveKitConfig `mapstructure:"livekit"`
}

type BridgeConfig struct {
	JoinTimeout         time.Duration `mapstructure:"join_timeout"`
	LeaveTimeout        time.Duration `mapstructure:"leave_timeout"`
	BufferMaxFrames     int           `mapstructure:"buffer_max_frames"`
	BufferMaxDuration   time.Duration `mapstructure:"buffer_max_duration"`
	MailboxSize         int           `mapstructure:"mailbox_size"`
	IdentityPrefix      string        `mapstructure:"identity_prefix"`
	CounterpartIdentity string        `mapstructure:"counterpart_identity"`
	CounterpartIdle     time.Duration `mapstructure:"counterpart_idle"`
}

type RoomConfig struct {
	Provider string `mapstructure:"provider"`
	// Policy for slow members of local rooms: "drop" or "kick".
	Policy string `mapstructure:"policy"`
}

type LiveKitConfig struct {
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load for an explicit path. Environment variables override the
// file, with dots replaced by underscores (LIVEKIT_API_KEY).
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("provider", cfg.Room.Provider).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("public_url", "")
	v.SetDefault("token_rate", 1.0)
	v.SetDefault("token_burst", 5)

	v.SetDefault("bridge.join_timeout", "10s")
	v.SetDefault("bridge.leave_timeout", "5s")
	v.SetDefault("bridge.buffer_max_frames", 250)
	v.SetDefault("bridge.buffer_max_duration", "5s")
	v.SetDefault("bridge.mailbox_size", 64)
	v.SetDefault("bridge.identity_prefix", "twilio-bridge-")
	v.SetDefault("bridge.counterpart_identity", "")
	v.SetDefault("bridge.counterpart_idle", "2s")

	v.SetDefault("room.provider", ProviderLocal)
	v.SetDefault("room.policy", "drop")

	v.SetDefault("livekit.url", "")
	v.SetDefault("livekit.api_key", "")
	v.SetDefault("livekit.api_secret", "")
	v.SetDefault("livekit.token_ttl", "1h")
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, errors.New("ping_period must be positive"))
	}
	if c.ReadLimit <= 0 {
		errs = append(errs, errors.New("read_limit must be positive"))
	}
	if c.TokenRate <= 0 || c.TokenBurst <= 0 {
		errs = append(errs, errors.New("token_rate and token_burst must be positive"))
	}
	b := c.Bridge
	if b.JoinTimeout <= 0 || b.LeaveTimeout <= 0 {
		errs = append(errs, errors.New("bridge timeouts must be positive"))
	}
	if b.BufferMaxFrames <= 0 || b.BufferMaxDuration <= 0 {
		errs = append(errs, errors.New("bridge buffer caps must be positive"))
	}
	if b.MailboxSize <= 0 {
		errs = append(errs, errors.New("bridge.mailbox_size must be positive"))
	}
	if b.CounterpartIdle <= 0 {
		errs = append(errs, errors.New("bridge.counterpart_idle must be positive"))
	}
	if b.IdentityPrefix == "" {
		errs = append(errs, errors.New("bridge.identity_prefix is required"))
	}
	switch c.Room.Policy {
	case "drop", "kick":
	default:
		errs = append(errs, fmt.Errorf("unknown room.policy %q", c.Room.Policy))
	}
	switch c.Room.Provider {
	case ProviderLocal:
	case ProviderLiveKit:
		if c.LiveKit.URL == "" || c.LiveKit.APIKey == "" || c.LiveKit.APISecret == "" {
			errs = append(errs, errors.New("livekit provider needs livekit.url, livekit.api_key and livekit.api_secret"))
		}
		if c.LiveKit.TokenTTL <= 0 {
			errs = append(errs, errors.New("livekit.token_ttl must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown room.provider %q", c.Room.Provider))
	}
	return errors.Join(errs...)
}
