package config

import (
	"flag"
	"fmt"
	"io/ioutil"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

// DBCredential struct
type DBCredential struct {
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

// GetRedisAddress returns host:port of the redis server.
func (c *DBCredential) GetRedisAddress() string {
	return fmt.Sprintf("%v:%v", c.Address, c.Port)
}

// Configuration struct
type Configuration struct {
	LogLevel         int        `yaml:"log_level"`
	IDProvider       IDProvider `yaml:"id_provider"`
	Chain            Chain      `yaml:"chain"`
	Popup            Popup      `yaml:"popup"`
	Storage          Storage    `yaml:"storage"`
	Platform         string     `yaml:"platform"`
	Callback         Callback   `yaml:"callback"`
	Bridge           Bridge     `yaml:"bridge"`
	Kafka            Kafka      `yaml:"kafka"`
	VerifySignatures bool       `yaml:"verify_signatures"`
	SentryDSN        string     `yaml:"sentry_dsn"`
	LarkAlarmWebhook string     `yaml:"lark_alarm_webhook"`
}

// IDProvider describes the remote identity/wallet service.
type IDProvider struct {
	Origin       string        `yaml:"origin"`
	ClientID     string        `yaml:"client_id"`
	Scopes       []string      `yaml:"scopes"`
	Mode         string        `yaml:"mode"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type Chain struct {
	ID     int    `yaml:"id"`
	RPCURL string `yaml:"rpc_url"`
}

type Popup struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type Storage struct {
	Driver string       `yaml:"driver"`
	Path   string       `yaml:"path"`
	Key    string       `yaml:"key"`
	Redis  DBCredential `yaml:"redis"`
}

// Callback is the loopback listener receiving the ID provider's messages.
type Callback struct {
	Listen string `yaml:"listen"`
}

// Bridge is the websocket relay used by the QR code flow.
type Bridge struct {
	URL    string `yaml:"url"`
	Topic  string `yaml:"topic"`
	QRPath string `yaml:"qr_path"`
}

type Kafka struct {
	Servers string `yaml:"servers"`
	Topic   string `yaml:"topic"`
}

const (
	ModePopup    = "popup"
	ModeRedirect = "redirect"

	PlatformLoopback = "loopback"
	PlatformBridge   = "bridge"

	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

const (
	defaultTimeout      = 5 * time.Minute
	defaultPollInterval = 500 * time.Millisecond
	defaultPopupWidth   = 480
	defaultPopupHeight  = 720
	defaultStorageKey   = "idconnect.address"
	defaultStoragePath  = ".idconnect.json"
	defaultListen       = "127.0.0.1:8089"
	defaultKafkaTopic   = "idconnect_events"
	defaultQRPath       = "idconnect_qr.png"
)

func (c *Configuration) applyDefaults() {
	if c.IDProvider.Mode == "" {
		c.IDProvider.Mode = ModePopup
	}
	if c.IDProvider.Timeout <= 0 {
		c.IDProvider.Timeout = defaultTimeout
	}
	if c.IDProvider.PollInterval <= 0 {
		c.IDProvider.PollInterval = defaultPollInterval
	}
	c.IDProvider.Origin = strings.TrimRight(c.IDProvider.Origin, "/")
	if c.Chain.ID == 0 {
		c.Chain.ID = 1
	}
	if c.Popup.Width <= 0 {
		c.Popup.Width = defaultPopupWidth
	}
	if c.Popup.Height <= 0 {
		c.Popup.Height = defaultPopupHeight
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageFile
	}
	if c.Storage.Key == "" {
		c.Storage.Key = defaultStorageKey
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Platform == "" {
		c.Platform = PlatformLoopback
	}
	if c.Callback.Listen == "" {
		c.Callback.Listen = defaultListen
	}
	if c.Bridge.QRPath == "" {
		c.Bridge.QRPath = defaultQRPath
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = defaultKafkaTopic
	}
}

func (c *Configuration) validate() error {
	if c.IDProvider.Origin == "" {
		return errors.New("id_provider.origin is required")
	}
	if c.IDProvider.ClientID == "" {
		return errors.New("id_provider.client_id is required")
	}
	switch c.IDProvider.Mode {
	case ModePopup, ModeRedirect:
	default:
		return errors.Errorf("unknown id_provider.mode %q", c.IDProvider.Mode)
	}
	switch c.Storage.Driver {
	case StorageMemory, StorageFile, StorageRedis:
	default:
		return errors.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Platform {
	case PlatformLoopback:
	case PlatformBridge:
		if c.Bridge.URL == "" {
			return errors.New("bridge.url is required for the bridge platform")
		}
	default:
		return errors.Errorf("unknown platform %q", c.Platform)
	}
	return nil
}

// Parse decodes a yaml document, fills defaults and validates the result.
func Parse(data []byte) (*Configuration, error) {
	var c Configuration
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Configuration, error) {
	log.Infof("Loading configuration file from %s", path)
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

var Global *Configuration

// Read reads configuration information from yml.
func Read() {
	configFilePath := flag.String("config-path", "config.yml", "The path to the configuration file")
	flag.Parse()
	globalConfig, err := Load(*configFilePath)
	if err != nil {
		log.Fatal(err)
	}
	Global = globalConfig
}
