package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/cluster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/sog"
)

const testConfig = `
[logging]
logfile = "logs/sogs.log"
max_log_size = 100
max_log_age = 7

[export]
iterations = 4
workers = 2
codec = "png"
generator = "test rig"

[cache]
path = "cache"

[server]
http_address = "localhost:9123"
cors_domains = ["https://viewer.example.org"]
max_upload_mb = 16

[auth]
secret_key = "sekrit"

[kafka]
servers = ["localhost:9092"]
topic = "exports"
buffer_size = 64

[viewer]
template_dir = "/opt/viewer"
`

func writeConfig(t *testing.T, contents string) string {
	dir := t.TempDir()
	filename := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(filename, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestLoadConfig(t *testing.T) {
	filename := writeConfig(t, testConfig)
	c, err := LoadConfig(filename)
	if err != nil {
		t.Fatalf("unable to load config: %v", err)
	}
	dir := filepath.Dir(filename)
	if c.Location() != filename {
		t.Errorf("bad location %q", c.Location())
	}
	if c.Logging.Logfile != filepath.Join(dir, "logs/sogs.log") || c.Logging.MaxSize != 100 || c.Logging.MaxAge != 7 {
		t.Errorf("bad logging config: %+v", c.Logging)
	}
	if c.Export.Iterations != 4 || c.Export.Workers != 2 || c.Export.Codec != "png" || c.Export.Generator != "test rig" {
		t.Errorf("bad export config: %+v", c.Export)
	}
	if c.Cache.Path != filepath.Join(dir, "cache") {
		t.Errorf("cache path not made absolute: %q", c.Cache.Path)
	}
	if c.Server.HTTPAddress != "localhost:9123" || len(c.Server.CorsDomains) != 1 || c.MaxUploadBytes() != 16<<20 {
		t.Errorf("bad server config: %+v", c.Server)
	}
	if c.Auth.SecretKey != "sekrit" {
		t.Errorf("bad auth config: %+v", c.Auth)
	}
	if len(c.Kafka.Servers) != 1 || c.Kafka.Topic != "exports" || c.Kafka.BufferSize != 64 {
		t.Errorf("bad kafka config: %+v", c.Kafka)
	}
	if c.Viewer.TemplateDir != "/opt/viewer" {
		t.Errorf("absolute template dir changed: %q", c.Viewer.TemplateDir)
	}
	enc, err := c.Encoder()
	if err != nil || enc.Name() != "png" {
		t.Errorf("expected png encoder, got %v, %v", enc, err)
	}
}

func TestDefaultConfig(t *testing.T) {
	c, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Export.Iterations != sog.DefaultIterations || c.Export.Codec != "webp" || c.Server.HTTPAddress != DefaultWebAddress {
		t.Errorf("bad defaults: %+v", c)
	}
	clusterer, store, err := c.Clusterer()
	if err != nil || store != nil {
		t.Fatalf("expected no cache by default, got %v, %v", store, err)
	}
	if _, ok := clusterer.(*cluster.Cached); ok {
		t.Errorf("default clusterer should not be cached")
	}
	if _, err := LoadConfig(writeConfig(t, "[export\niterations = ")); err == nil {
		t.Errorf("expected error on malformed TOML")
	}
}

func TestCachedClusterer(t *testing.T) {
	c := DefaultConfig()
	c.Cache.MemoryMB = 4
	clusterer, store, err := c.Clusterer()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, ok := clusterer.(*cluster.Cached); !ok {
		t.Errorf("expected cached clusterer, got %T", clusterer)
	}

	c.Cache.Path = filepath.Join(t.TempDir(), "kmeans")
	clusterer, disk, err := c.Clusterer()
	if err != nil {
		t.Fatal(err)
	}
	defer disk.Close()
	if _, ok := disk.(*cluster.DiskStore); !ok {
		t.Errorf("expected disk store when a path is set, got %T", disk)
	}
	opts, err := c.ExportOptions(clusterer)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Clusterer != clusterer || opts.Encoder.Name() != "webp" || opts.Iterations != sog.DefaultIterations {
		t.Errorf("bad export options: %+v", opts)
	}
}
