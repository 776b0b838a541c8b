package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPPort  string `json:"http_port"`
	HTTPSPort string `json:"https_port"`
	Domain    string `json:"domain"`
	DBPath    string `json:"db_path"`

	TURNPort  int    `json:"turn_port"`
	TURNRealm string `json:"turn_realm"`

	JWTSecret string     `json:"-"`
	VAPIDKeys *VAPIDKeys `json:"-"`

	// NoAnswerTimeout converts an unanswered call into a missed-call
	// record when it elapses.
	NoAnswerTimeout time.Duration `json:"-"`

	LogLevel string `json:"log_level"`

	// Backend-only mode fields
	HTTPOnly    bool   `json:"http_only"`
	FrontendURI string `json:"frontend_uri"`
}

type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	Subject    string `json:"-"`
}

// envOverrides mirrors the Config fields that may be set through the
// environment. Defaults apply first, then config.json, then environment.
type envOverrides struct {
	HTTPPort        string        `envconfig:"HTTP_PORT" default:"8080"`
	HTTPSPort       string        `envconfig:"HTTPS_PORT" default:"8443"`
	Domain          string        `envconfig:"DOMAIN"`
	DBPath          string        `envconfig:"DB_PATH" default:"chat.db"`
	TURNPort        int           `envconfig:"TURN_PORT" default:"3478"`
	TURNRealm       string        `envconfig:"TURN_REALM" default:"chat-application"`
	JWTSecret       string        `envconfig:"JWT_SECRET"`
	NoAnswerTimeout time.Duration `envconfig:"NO_ANSWER_TIMEOUT" default:"30s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	FrontendURI     string        `envconfig:"FRONTEND_URI"`
	VAPIDSubject    string        `envconfig:"VAPID_SUBJECT" default:"mailto:admin@localhost"`
}

// Load reads config.json next to the executable (if present) and applies
// environment overrides on top.
func Load(httpOnly *bool) (*Config, error) {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg := &Config{
		HTTPPort:        env.HTTPPort,
		HTTPSPort:       env.HTTPSPort,
		Domain:          env.Domain,
		DBPath:          env.DBPath,
		TURNPort:        env.TURNPort,
		TURNRealm:       env.TURNRealm,
		JWTSecret:       env.JWTSecret,
		NoAnswerTimeout: env.NoAnswerTimeout,
		LogLevel:        env.LogLevel,
		FrontendURI:     env.FrontendURI,
	}

	if saved, err := loadConfigFile(); err == nil {
		if saved.HTTPPort != "" {
			cfg.HTTPPort = saved.HTTPPort
		}
		if saved.HTTPSPort != "" {
			cfg.HTTPSPort = saved.HTTPSPort
		}
		if saved.Domain != "" {
			cfg.Domain = saved.Domain
		}
		if saved.DBPath != "" {
			cfg.DBPath = saved.DBPath
		}
		if saved.TURNPort != 0 {
			cfg.TURNPort = saved.TURNPort
		}
		if saved.TURNRealm != "" {
			cfg.TURNRealm = saved.TURNRealm
		}
		if saved.LogLevel != "" {
			cfg.LogLevel = saved.LogLevel
		}
		if saved.FrontendURI != "" {
			cfg.FrontendURI = saved.FrontendURI
		}
		cfg.HTTPOnly = saved.HTTPOnly
	}

	if httpOnly != nil && *httpOnly {
		cfg.HTTPOnly = true
	}

	keys, err := loadOrGenerateVAPIDKeys(env.VAPIDSubject)
	if err != nil {
		return nil, err
	}
	cfg.VAPIDKeys = keys

	return cfg, nil
}

func loadConfigFile() (*Config, error) {
	data, err := os.ReadFile(configFilePath())
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config.json: %w", err)
	}
	return &cfg, nil
}

func configFilePath() string {
	execPath, err := os.Executable()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(filepath.Dir(execPath), "config.json")
}

// loadOrGenerateVAPIDKeys keeps the web-push keypair stable across restarts
// so existing browser subscriptions keep working.
func loadOrGenerateVAPIDKeys(subject string) (*VAPIDKeys, error) {
	keysPath := vapidKeysPath()

	if data, err := os.ReadFile(keysPath); err == nil {
		var keys VAPIDKeys
		if err := json.Unmarshal(data, &keys); err == nil && keys.PublicKey != "" {
			keys.Subject = subject
			return &keys, nil
		}
	}

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("generate VAPID keys: %w", err)
	}

	keys := &VAPIDKeys{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Subject:    subject,
	}

	if data, err := json.MarshalIndent(keys, "", "  "); err == nil {
		if mkErr := os.MkdirAll(filepath.Dir(keysPath), 0700); mkErr == nil {
			_ = os.WriteFile(keysPath, data, 0600)
		}
	}

	return keys, nil
}

func vapidKeysPath() string {
	execPath, err := os.Executable()
	if err != nil {
		return filepath.Join("keys", "vapid.json")
	}
	return filepath.Join(filepath.Dir(execPath), "keys", "vapid.json")
}
