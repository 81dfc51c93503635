package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the relay server configuration.
type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	Secret       string        `mapstructure:"secret"`
	LogLevel     string        `mapstructure:"log_level"`
	JoinLimit    int           `mapstructure:"join_limit"`
	JoinWindow   time.Duration `mapstructure:"join_window"`
	MaxPending   int           `mapstructure:"max_pending"`
	Backpressure string        `mapstructure:"backpressure"`
}

// ClientConfig is the call client configuration.
type ClientConfig struct {
	RelayURL             string        `mapstructure:"relay_url"`
	AckTimeout           time.Duration `mapstructure:"ack_timeout"`
	CandidateTimeout     time.Duration `mapstructure:"candidate_timeout"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	ICEServers           []string      `mapstructure:"ice_servers"`
	ICECandidatePoolSize uint8         `mapstructure:"ice_candidate_pool_size"`
	Media                MediaConfig   `mapstructure:"media"`
	LogLevel             string        `mapstructure:"log_level"`
}

type MediaConfig struct {
	Audio bool `mapstructure:"audio"`
}

func env() string {
	if e := os.Getenv("CONFIG_ENV"); e != "" {
		return e
	}
	return "dev"
}

func newViper(fileName string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("CALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func read(v *viper.Viper, fileName string) error {
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	default:
		return fmt.Errorf("read config %s: %w", fileName, err)
	}
	return nil
}

func Load() (*Config, error) {
	fileName := fmt.Sprintf("config/config.%s.yaml", env())
	v := newViper(fileName)

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("join_limit", 20)
	v.SetDefault("join_window", "1m")
	v.SetDefault("max_pending", 128)
	v.SetDefault("backpressure", "kick")

	if err := read(v, fileName); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Secret == "" {
		log.Warn().Str("module", "config").Msg("empty cookie secret, client tokens do not survive restarts")
		cfg.Secret = "call-dev-secret"
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("relay config")
	return &cfg, nil
}

// ClientFlags declares the call client flags. LoadClient lets them win over
// the file and the environment.
func ClientFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("call", pflag.ContinueOnError)
	fs.String("relay_url", "ws://localhost:8080/socket/websocket", "relay websocket url")
	fs.Duration("ack_timeout", 10*time.Second, "acknowledgement timeout for join, offer, answer and get_offer")
	fs.Duration("candidate_timeout", 10*time.Second, "delivery deadline of each trickled candidate")
	fs.StringSlice("ice_servers", []string{"stun:stun1.l.google.com:19302", "stun:stun2.l.google.com:19302"}, "ICE server urls")
	fs.Bool("media.audio", true, "send a local audio track")
	fs.String("log_level", "info", "log level")
	return fs
}

func LoadClient(flags *pflag.FlagSet) (*ClientConfig, error) {
	fileName := fmt.Sprintf("config/call.%s.yaml", env())
	v := newViper(fileName)

	v.SetDefault("relay_url", "ws://localhost:8080/socket/websocket")
	v.SetDefault("ack_timeout", "10s")
	v.SetDefault("candidate_timeout", "10s")
	v.SetDefault("heartbeat_interval", "30s")
	v.SetDefault("ice_servers", []string{"stun:stun1.l.google.com:19302", "stun:stun2.l.google.com:19302"})
	v.SetDefault("ice_candidate_pool_size", 10)
	v.SetDefault("media.audio", true)
	v.SetDefault("log_level", "info")

	if err := read(v, fileName); err != nil {
		return nil, err
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}
	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.RelayURL == "" {
		return nil, errors.New("relay_url is required")
	}
	return &cfg, nil
}

// SetLogLevel applies a textual level to the global logger.
func SetLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
