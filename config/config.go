package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/austinwade/sitechat/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultDebounceWindow    = 300 * time.Millisecond
	defaultNoticeClearDelay  = 3 * time.Second
	defaultHealthCheckSpec   = "@every 30s"
	defaultMaxMessageLength  = 200
	defaultNickLimitComments = 10
	defaultNickLimitChat     = 20
	defaultReservedName      = "austin"
	defaultHistorySize       = 50
	defaultIdentityPath      = "sitechat-identity.db"
)

// Config is the global configuration object which is filled via the configuration file.
type Config struct {
	ChatConfig        ChatConfig        `mapstructure:"chat"`
	FilterConfig      FilterConfig      `mapstructure:"filter"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	IdentityConfig    IdentityConfig    `mapstructure:"identity"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	LogLevel          string            `mapstructure:"log_level"`
}

// ChatConfig tunes the client core: debounce window for sends, lifetime of
// transient user notices and the reconnect health-check schedule.
type ChatConfig struct {
	DebounceWindowMs   int    `mapstructure:"debounce_window_ms"`
	NoticeClearDelayMs int    `mapstructure:"notice_clear_delay_ms"`
	HealthCheckSpec    string `mapstructure:"health_check_spec"`
	HistorySize        int    `mapstructure:"history_size"`
}

// FilterConfig configures the content filter: extra profanity words on top of
// the built-in list, reserved nicknames and optional expr rules which must all
// evaluate to true for an input to pass.
type FilterConfig struct {
	ExtraWords       []string `mapstructure:"extra_words"`
	ReservedNames    []string `mapstructure:"reserved_names"`
	Rules            []string `mapstructure:"rules"`
	MaxMessageLength int      `mapstructure:"max_message_length"`
	NickLimitComment int      `mapstructure:"nick_limit_comment"`
	NickLimitChat    int      `mapstructure:"nick_limit_chat"`
}

// PersistenceConfig configures the persistence backends. Supported types are
// "buntdb", "sqlite" and "postgres" (the latter two via gorm).
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// IdentityConfig points to the durable per-device identity store.
type IdentityConfig struct {
	Path string `mapstructure:"path"`
}

// AuthConfig holds the shared secret used to sign presence-channel
// authorization tokens.
type AuthConfig struct {
	AppKey    string `mapstructure:"app_key"`
	AppSecret string `mapstructure:"app_secret"`
}

func (c ChatConfig) DebounceWindow() time.Duration {
	if c.DebounceWindowMs <= 0 {
		return defaultDebounceWindow
	}
	return time.Duration(c.DebounceWindowMs) * time.Millisecond
}

func (c ChatConfig) NoticeClearDelay() time.Duration {
	if c.NoticeClearDelayMs <= 0 {
		return defaultNoticeClearDelay
	}
	return time.Duration(c.NoticeClearDelayMs) * time.Millisecond
}

func (c ChatConfig) HealthCheck() string {
	if c.HealthCheckSpec == "" {
		return defaultHealthCheckSpec
	}
	return c.HealthCheckSpec
}

func (c ChatConfig) History() int {
	if c.HistorySize <= 0 {
		return defaultHistorySize
	}
	return c.HistorySize
}

func (c FilterConfig) MessageLimit() int {
	if c.MaxMessageLength <= 0 {
		return defaultMaxMessageLength
	}
	return c.MaxMessageLength
}

func (c FilterConfig) CommentNickLimit() int {
	if c.NickLimitComment <= 0 {
		return defaultNickLimitComments
	}
	return c.NickLimitComment
}

func (c FilterConfig) ChatNickLimit() int {
	if c.NickLimitChat <= 0 {
		return defaultNickLimitChat
	}
	return c.NickLimitChat
}

// Reserved returns the configured reserved nicknames, falling back to the
// site author's name.
func (c FilterConfig) Reserved() []string {
	if len(c.ReservedNames) == 0 {
		return []string{defaultReservedName}
	}
	return c.ReservedNames
}

func (c IdentityConfig) StorePath() string {
	if c.Path == "" {
		return defaultIdentityPath
	}
	return c.Path
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.Replace(name, "-", "_", -1))
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("SITECHAT")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}

	return &cfg, nil
}
