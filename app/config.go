package livechat

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/spf13/viper"
)

type Config struct {
	// Port is the port number to listen on. The default is 8080.
	Port int `validate:"required,port" default:"8080"`
	// Hostname is the hostname to listen on. The default is 0.0.0.0.
	Hostname string `validate:"required" default:"0.0.0.0"`
	Auth     struct {
		// Secret is the key tokens are verified against. It must match the key
		// the token issuer signs with. The secret must be a base64 encoded
		// string; the default is a random 32 byte string.
		Secret Base64Encoded `validate:"required"`
	}
	SQLite struct {
		// File is the path to the SQLite database file.
		File string `validate:"required"`
		// Migrations is the path to the directory that the migration files reside.
		Migrations string `validate:"required"`
	}
	Redis struct {
		// Addr enables the pub/sub backplane when set. A single-process
		// deployment leaves it empty.
		Addr string
		// Channel is the pub/sub channel broadcasts are replicated on.
		Channel string
	}
	Chat struct {
		// HistoryLimit is how many recent messages are replayed on join.
		HistoryLimit int `validate:"required"`
		// TypingIdle is how long a typing indicator lives without a refresh.
		TypingIdle time.Duration `validate:"required"`
		// MessageRate is the sustained per-connection send-message rate.
		MessageRate float64 `validate:"required"`
		// MessageBurst is the per-connection send-message burst allowance.
		MessageBurst int `validate:"required"`
	}
	TLS struct {
		Crt string
		Key string
	}
	// AllowedOrigins is a list of origins that are allowed to connect to the
	// server. The default is ["*"].
	AllowedOrigins []string
	valid          bool
}

type Base64Encoded []byte

func (b *Base64Encoded) UnmarshalText(text []byte) error {
	dec, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}
	*b = dec
	return nil
}

// LoadConfig loads the configuration from the config file and environment variables.
// Any invalid configuration will not be loaded, and the error will be caught in
// the validation step.
func LoadConfig() (*Config, error) {
	config := &Config{}
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("port", 8080)
	// generate a random secret key
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	viper.SetDefault("auth.secret", base64.StdEncoding.EncodeToString(secret))
	viper.SetDefault("hostname", "0.0.0.0")

	viper.SetDefault("sqlite.file", "./livechat.db")
	viper.SetDefault("sqlite.migrations", "./migrations")

	viper.SetDefault("redis.channel", "livechat:events")

	viper.SetDefault("chat.historylimit", 50)
	viper.SetDefault("chat.typingidle", "10s")
	viper.SetDefault("chat.messagerate", 5.0)
	viper.SetDefault("chat.messageburst", 10)

	viper.SetDefault("allowedorigins", []string{"*"})

	if err := viper.ReadInConfig(); err != nil {
		// the config file is optional; env vars and defaults cover everything
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := viper.Unmarshal(&config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		// defer error to validation step
		return config, nil
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := validate.Struct(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

func FormatValidationErrors(err error) string {
	errors, ok := err.(validator.ValidationErrors)
	if !ok {
		return ""
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errors.Translate(trans)

	var sb strings.Builder
	for v := range maps.Values(translated) {
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return sb.String()
}
