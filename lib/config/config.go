package config

import (
	"os"
	"path/filepath"

	"github.com/go-i2p/go-datapump/lib/buffer"
	"github.com/go-i2p/go-datapump/lib/util"
	"github.com/go-i2p/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	// CfgFile is the config file path supplied on the command line; empty
	// means the default location.
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const DATAPUMP_BASE_DIR = ".go-datapump"

// RelayConfig holds everything the relay daemon needs.
type RelayConfig struct {
	// Listen is the address the relay accepts clients on.
	Listen string `yaml:"listen"`
	// Upstream is the host:port every accepted connection is relayed to.
	Upstream string `yaml:"upstream"`
	// Resolver is an optional DNS server (host:port) used to resolve the
	// upstream host; empty uses the system resolver.
	Resolver string `yaml:"resolver"`
	// BufferSize is the per-direction working buffer hint in bytes.
	BufferSize int `yaml:"buffer_size"`
	// Watermark paces reads against write drain; 0 disables pacing.
	Watermark int64 `yaml:"watermark"`
	// RateLimit caps client-to-upstream read bandwidth in bytes per
	// second; 0 disables limiting.
	RateLimit int `yaml:"rate_limit"`
}

// DefaultRelayConfig returns the settings used when no config file exists.
func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		Listen:     "127.0.0.1:4180",
		Upstream:   "127.0.0.1:8080",
		Resolver:   "",
		BufferSize: buffer.DefaultSize,
		Watermark:  0,
		RateLimit:  0,
	}
}

// InitConfig loads the config file (creating the default one on first run)
// and primes viper with defaults.
func InitConfig() {
	if CfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(CfgFile)
	} else {
		// Default config path is $HOME/.go-datapump/
		viper.AddConfigPath(BuildDataPumpDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	handleConfigFile()
}

func setDefaults() {
	def := DefaultRelayConfig()
	viper.SetDefault("listen", def.Listen)
	viper.SetDefault("upstream", def.Upstream)
	viper.SetDefault("resolver", def.Resolver)
	viper.SetDefault("buffer_size", def.BufferSize)
	viper.SetDefault("watermark", def.Watermark)
	viper.SetDefault("rate_limit", def.RateLimit)
}

// NewRelayConfigFromViper builds a RelayConfig from current viper settings.
func NewRelayConfigFromViper() *RelayConfig {
	return &RelayConfig{
		Listen:     viper.GetString("listen"),
		Upstream:   viper.GetString("upstream"),
		Resolver:   viper.GetString("resolver"),
		BufferSize: viper.GetInt("buffer_size"),
		Watermark:  viper.GetInt64("watermark"),
		RateLimit:  viper.GetInt("rate_limit"),
	}
}

// createDefaultConfig writes the default settings out so the first run
// leaves an editable file behind.
func createDefaultConfig(defaultConfigDir string) {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	if util.CheckFileExists(defaultConfigFile) {
		return
	}
	if err := os.MkdirAll(defaultConfigDir, 0o755); err != nil {
		log.Fatalf("Could not create config directory: %s", err)
	}

	out, err := yaml.Marshal(DefaultRelayConfig())
	if err != nil {
		log.Fatalf("Could not render default config: %s", err)
	}
	if err := os.WriteFile(defaultConfigFile, out, 0o644); err != nil {
		log.Fatalf("Could not write default config file: %s", err)
	}

	log.Debugf("Created default configuration at: %s", defaultConfigFile)
}

func handleConfigFile() {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if CfgFile != "" {
				log.Fatalf("Config file %s is not found: %s", CfgFile, err)
			} else {
				createDefaultConfig(BuildDataPumpDirPath())
			}
		} else {
			log.Fatalf("Error reading config file: %s", err)
		}
	} else {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

// BuildDataPumpDirPath is the default config directory, $HOME/.go-datapump.
func BuildDataPumpDirPath() string {
	return filepath.Join(util.UserHome(), DATAPUMP_BASE_DIR)
}
