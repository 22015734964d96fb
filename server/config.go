package server

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/cluster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/message"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/raster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/sog"
)

const (
	// DefaultWebAddress is the default address of the export service.
	DefaultWebAddress = "localhost:8000"

	// DefaultMaxUploadMB bounds the size of an uploaded PLY.
	DefaultMaxUploadMB = 2048
)

// Config is the parsed TOML configuration.
type Config struct {
	Logging lfs.LogConfig
	Export  ExportConfig
	Cache   CacheConfig
	Server  ServerConfig
	Auth    AuthConfig
	Kafka   message.Config
	Viewer  ViewerConfig

	location string
}

type ExportConfig struct {
	Iterations int
	Workers    int
	Codec      string
	Generator  string
}

// CacheConfig enables memoization of clustering results.  A path selects an on-disk badger
// store; otherwise memory_mb > 0 selects an in-memory store.
type CacheConfig struct {
	MemoryMB int `toml:"memory_mb"`
	Path     string
}

type ServerConfig struct {
	HTTPAddress string   `toml:"http_address"`
	CorsDomains []string `toml:"cors_domains"`
	MaxUploadMB int      `toml:"max_upload_mb"`
	Host        string
}

type AuthConfig struct {
	SecretKey string `toml:"secret_key"`
}

type ViewerConfig struct {
	TemplateDir string `toml:"template_dir"`
}

// DefaultConfig returns the configuration used when no TOML file is given.
func DefaultConfig() *Config {
	return &Config{
		Export: ExportConfig{Iterations: sog.DefaultIterations, Workers: runtime.GOMAXPROCS(0), Codec: "webp"},
		Server: ServerConfig{HTTPAddress: DefaultWebAddress, MaxUploadMB: DefaultMaxUploadMB},
	}
}

// LoadConfig decodes a TOML file over the defaults.
func LoadConfig(filename string) (*Config, error) {
	c := DefaultConfig()
	if filename == "" {
		return c, nil
	}
	if _, err := toml.DecodeFile(filename, c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	c.location = filename
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	lfs.Debugf("Loaded config %s: %+v\n", filename, *c)
	return c, nil
}

// Location returns the file the configuration was loaded from, if any.
func (c *Config) Location() string {
	return c.location
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)
	paths := []struct {
		setting string
		value   *string
	}{
		{"[logging].logfile", &c.Logging.Logfile},
		{"[cache].path", &c.Cache.Path},
		{"[viewer].template_dir", &c.Viewer.TemplateDir},
	}
	for _, p := range paths {
		if *p.value == "" {
			continue
		}
		abs, err := lfs.ConvertToAbsolute(*p.value, configDir)
		if err != nil {
			return fmt.Errorf("Error converting %s setting to absolute path", p.setting)
		}
		*p.value = abs
	}
	return nil
}

// Encoder returns the configured raster codec.
func (c *Config) Encoder() (raster.Encoder, error) {
	return raster.Lookup(c.Export.Codec)
}

// Clusterer returns the default clustering engine, wrapped with a result cache if one is
// configured.  The returned store, if any, must be closed by the caller.
func (c *Config) Clusterer() (cluster.Clusterer, cluster.Store, error) {
	engine := cluster.Default(c.Export.Workers)
	var store cluster.Store
	switch {
	case c.Cache.Path != "":
		ds, err := cluster.OpenDiskStore(c.Cache.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("can't open clustering cache at %s: %v", c.Cache.Path, err)
		}
		lfs.Infof("Caching clustering results in %s\n", c.Cache.Path)
		store = ds
	case c.Cache.MemoryMB > 0:
		lfs.Infof("Caching clustering results in %d MB of memory\n", c.Cache.MemoryMB)
		store = cluster.NewMemoryStore(c.Cache.MemoryMB * lfs.Mega)
	default:
		return engine, nil, nil
	}
	return &cluster.Cached{Inner: engine, Store: store}, store, nil
}

// ExportOptions returns pipeline options for the export settings.  Callers set the output
// and progress themselves.
func (c *Config) ExportOptions(clusterer cluster.Clusterer) (sog.Options, error) {
	enc, err := c.Encoder()
	if err != nil {
		return sog.Options{}, err
	}
	return sog.Options{
		Iterations: c.Export.Iterations,
		Workers:    c.Export.Workers,
		Clusterer:  clusterer,
		Encoder:    enc,
		Generator:  c.Export.Generator,
	}, nil
}

// MaxUploadBytes returns the upload limit for the export endpoint.
func (c *Config) MaxUploadBytes() int64 {
	mb := c.Server.MaxUploadMB
	if mb <= 0 {
		mb = DefaultMaxUploadMB
	}
	return int64(mb) * lfs.Mega
}
