package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goclaw/recall/pkg/embedding"
	"github.com/goclaw/recall/pkg/memory"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.App.Name != "recall" {
		t.Errorf("expected app name 'recall', got %s", cfg.App.Name)
	}
	if cfg.App.Environment != "development" {
		t.Errorf("expected environment 'development', got %s", cfg.App.Environment)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Log.Level)
	}
	if cfg.Retrieval.RRFK != 60 {
		t.Errorf("expected rrf_k 60, got %v", cfg.Retrieval.RRFK)
	}
	if cfg.Retrieval.BM25.K1 != 1.5 || cfg.Retrieval.BM25.B != 0.75 {
		t.Errorf("expected bm25 k1=1.5 b=0.75, got k1=%v b=%v", cfg.Retrieval.BM25.K1, cfg.Retrieval.BM25.B)
	}
	if cfg.Cache.Type != "memory" {
		t.Errorf("expected cache type memory, got %s", cfg.Cache.Type)
	}
	if cfg.Embedding.Provider != "hash" {
		t.Errorf("expected embedding provider hash, got %s", cfg.Embedding.Provider)
	}
	if cfg.Reranker.Enabled {
		t.Error("expected reranker to be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing app name", func(c *Config) { c.App.Name = "" }, true},
		{"invalid environment", func(c *Config) { c.App.Environment = "qa" }, true},
		{"invalid log level", func(c *Config) { c.Log.Level = "trace" }, true},
		{"uppercase log level is normalized", func(c *Config) { c.Log.Level = "DEBUG" }, false},
		{"invalid host", func(c *Config) { c.Server.Host = "not a host" }, true},
		{"zero rrf k", func(c *Config) { c.Retrieval.RRFK = 0 }, true},
		{"negative weight", func(c *Config) { c.Retrieval.Weights.Vector = -1 }, true},
		{"bm25 b out of range", func(c *Config) { c.Retrieval.BM25.B = 1.5 }, true},
		{"source top k too large", func(c *Config) { c.Retrieval.SourceTopK = 5000 }, true},
		{"unknown cache type", func(c *Config) { c.Cache.Type = "memcached" }, true},
		{"unknown storage type", func(c *Config) { c.Storage.Type = "postgres" }, true},
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "cohere" }, true},
		{"invalid reranker url", func(c *Config) { c.Reranker.URL = "::nope" }, true},
		{"invalid sampler", func(c *Config) { c.Tracing.Sampler = "sometimes" }, true},
		{"sample rate above one", func(c *Config) { c.Tracing.SampleRate = 2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateDependencies(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"redis cache without address", func(c *Config) {
			c.Cache.Type = "redis"
			c.Redis.Address = ""
		}, "Config.Redis.Address"},
		{"badger without path", func(c *Config) {
			c.Storage.Type = "badger"
			c.Storage.Badger.Path = ""
		}, "Config.Storage.Badger.Path"},
		{"openai without model", func(c *Config) {
			c.Embedding.Provider = "openai"
			c.Embedding.Model = ""
		}, "Config.Embedding.Model"},
		{"reranker without url", func(c *Config) {
			c.Reranker.Enabled = true
			c.Reranker.URL = ""
		}, "Config.Reranker.URL"},
		{"notify without brokers", func(c *Config) {
			c.Notify.Enabled = true
			c.Notify.Brokers = nil
		}, "Config.Notify.Brokers"},
		{"notify without topic", func(c *Config) {
			c.Notify.Enabled = true
			c.Notify.Topic = ""
		}, "Config.Notify.Topic"},
		{"tracing without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Endpoint = " "
		}, "Config.Tracing.Endpoint"},
		{"tracing without timeout", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Timeout = 0
		}, "Config.Tracing.Timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			var details ValidationErrors
			if !errors.As(err, &details) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			found := false
			for _, d := range details {
				if d.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected an error for %s, got %v", tt.field, details)
			}
		})
	}

	t.Run("in-memory badger needs no path", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage.Type = "badger"
		cfg.Storage.Badger.Path = ""
		cfg.Storage.Badger.InMemory = true
		if err := cfg.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestConfig_NormalizeTracingExporter(t *testing.T) {
	for _, exporter := range []string{"otlp", "grpc", "OTLP-GRPC", ""} {
		cfg := DefaultConfig()
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = exporter
		if err := cfg.Validate(); err != nil {
			t.Fatalf("exporter %q: unexpected error: %v", exporter, err)
		}
		if cfg.Tracing.Exporter != "otlpgrpc" {
			t.Errorf("exporter %q: expected otlpgrpc, got %s", exporter, cfg.Tracing.Exporter)
		}
	}

	cfg := DefaultConfig()
	cfg.Tracing.Exporter = "zipkin"
	if err := cfg.Validate(); err == nil {
		t.Error("expected unsupported exporter to fail")
	}
}

func TestValidateWithDetails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.Reranker.Enabled = true
	cfg.Reranker.URL = ""

	err := ValidateWithDetails(cfg)
	var details ValidationErrors
	if !errors.As(err, &details) {
		t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
	}
	if len(details) != 2 {
		t.Fatalf("expected struct and dependency errors together, got %v", details)
	}
	if details[0].Field != "Config.Server.Port" {
		t.Errorf("expected port error first, got %s", details[0].Field)
	}
	if details[0].Message != "this field is required" {
		t.Errorf("unexpected message: %s", details[0].Message)
	}
	if details[1].Field != "Config.Reranker.URL" {
		t.Errorf("expected reranker url error, got %s", details[1].Field)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "server.port", Message: "must be at most 65535", Value: 99999},
		{Field: "log.level", Message: "must be one of [debug info warn error]", Value: "trace"},
	}

	msg := errs.Error()
	if !strings.Contains(msg, "server.port: must be at most 65535 (got 99999)") {
		t.Errorf("unexpected message: %s", msg)
	}
	if (ValidationErrors{}).Error() != "no validation errors" {
		t.Error("expected empty message for no errors")
	}
}

func TestConfig_String(t *testing.T) {
	s := DefaultConfig().String()
	if !strings.Contains(s, "recall") || !strings.Contains(s, ":8080") {
		t.Errorf("unexpected string: %s", s)
	}
	if strings.Contains(s, "Token") || strings.Contains(s, "Password") {
		t.Errorf("string must not include secrets: %s", s)
	}
}

func TestLoader_Get(t *testing.T) {
	loader := NewLoader()
	if _, err := loader.Load("", nil); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loader.Get("app.name") == nil {
		t.Error("expected non-nil value for app.name")
	}
	if got := loader.GetString("app.name"); got != "recall" {
		t.Errorf("expected 'recall', got '%s'", got)
	}
	if got := loader.GetInt("server.port"); got != 8080 {
		t.Errorf("expected 8080, got %d", got)
	}
	if !loader.GetBool("metrics.enabled") {
		t.Error("expected metrics.enabled to be true")
	}
}

func TestLoader_Set(t *testing.T) {
	loader := NewLoader()
	if _, err := loader.Load("", nil); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := loader.Set("app.name", "custom-app"); err != nil {
		t.Errorf("unexpected error setting value: %v", err)
	}
	if loader.GetString("app.name") != "custom-app" {
		t.Errorf("expected 'custom-app', got '%s'", loader.GetString("app.name"))
	}
	if loader.Print() == "" {
		t.Error("expected non-empty print output")
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache.TTL != memory.DefaultCacheTTL {
		t.Errorf("expected default cache ttl, got %v", cfg.Cache.TTL)
	}
	if cfg.Server.HTTP.ReadTimeout != 30*time.Second {
		t.Errorf("expected read timeout 30s, got %v", cfg.Server.HTTP.ReadTimeout)
	}

	if LoadOrDie("", nil) == nil {
		t.Error("expected non-nil config")
	}
}

func TestLoadOrDie_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for missing config file")
		}
	}()

	LoadOrDie("/nonexistent/path/config.yaml", nil)
}

func TestLoader_LoadFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, `
app:
  name: yaml-test
  environment: production
server:
  port: 9999
log:
  level: debug
  format: text
retrieval:
  rrf_k: 30
  source_top_k: 20
  weights:
    vector: 2.5
  synonyms:
    kv: [keyvalue]
cache:
  type: redis
  ttl: 90s
embedding:
  provider: none
tracing:
  headers:
    x-api-key: secret
`)

	cfg, err := NewLoader().Load(configPath, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.App.Name != "yaml-test" || cfg.App.Environment != "production" {
		t.Errorf("unexpected app section: %+v", cfg.App)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected text format, got %s", cfg.Log.Format)
	}
	if cfg.Retrieval.RRFK != 30 || cfg.Retrieval.SourceTopK != 20 {
		t.Errorf("unexpected retrieval section: %+v", cfg.Retrieval)
	}
	// Sibling keys keep their defaults when a file sets only one field.
	if cfg.Retrieval.Weights.Vector != 2.5 || cfg.Retrieval.Weights.Keyword != 1 {
		t.Errorf("unexpected weights: %+v", cfg.Retrieval.Weights)
	}
	if cfg.Retrieval.BM25.K1 != memory.DefaultBM25K1 {
		t.Errorf("expected default k1, got %v", cfg.Retrieval.BM25.K1)
	}
	if got := cfg.Retrieval.Synonyms["kv"]; len(got) != 1 || got[0] != "keyvalue" {
		t.Errorf("unexpected synonyms: %v", cfg.Retrieval.Synonyms)
	}
	if cfg.Cache.Type != "redis" || cfg.Cache.TTL != 90*time.Second {
		t.Errorf("unexpected cache section: %+v", cfg.Cache)
	}
	if cfg.Redis.Address != "localhost:6379" {
		t.Errorf("expected default redis address, got %s", cfg.Redis.Address)
	}
	if cfg.Tracing.Headers["x-api-key"] != "secret" {
		t.Errorf("unexpected tracing headers: %v", cfg.Tracing.Headers)
	}
}

func TestLoader_LoadJSONFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, configPath, `{
  "app": {"name": "json-test"},
  "storage": {"type": "badger", "badger": {"in_memory": true}},
  "reranker": {"enabled": true, "url": "http://scorer:8081/rerank", "workers": 8}
}`)

	cfg, err := NewLoader().Load(configPath, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.App.Name != "json-test" {
		t.Errorf("expected json-test, got %s", cfg.App.Name)
	}
	if cfg.Storage.Type != "badger" || !cfg.Storage.Badger.InMemory {
		t.Errorf("unexpected storage section: %+v", cfg.Storage)
	}
	if !cfg.Reranker.Enabled || cfg.Reranker.Workers != 8 {
		t.Errorf("unexpected reranker section: %+v", cfg.Reranker)
	}
	if cfg.Reranker.BatchSize != memory.DefaultRerankBatchSize {
		t.Errorf("expected default batch size, got %d", cfg.Reranker.BatchSize)
	}
}

func TestLoader_LoadInvalidFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		writeConfig(t, path, "app: [unclosed\n")
		if _, err := NewLoader().Load(path, nil); err == nil {
			t.Error("expected error for invalid yaml")
		}
	})

	t.Run("unsupported format", func(t *testing.T) {
		path := filepath.Join(dir, "config.toml")
		writeConfig(t, path, "[app]\nname = \"x\"\n")
		_, err := NewLoader().Load(path, nil)
		if err == nil || !strings.Contains(err.Error(), "unsupported config file format") {
			t.Errorf("expected unsupported format error, got %v", err)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.yaml")
		writeConfig(t, path, "cache:\n  type: memcached\n")
		if _, err := NewLoader().Load(path, nil); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestLoader_ReloadStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  port: 9000\n")

	loader := NewLoader()
	if _, err := loader.Load(path, nil); err != nil {
		t.Fatalf("first Load failed: %v", err)
	}

	writeConfig(t, path, "log:\n  level: warn\n")
	cfg, err := loader.Load(path, nil)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected removed key to fall back to default, got port %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected warn, got %s", cfg.Log.Level)
	}
}

func TestLoader_EnvVars(t *testing.T) {
	t.Setenv("RECALL_SERVER_PORT", "7070")
	t.Setenv("RECALL_LOG_LEVEL", "debug")
	t.Setenv("RECALL_SERVER_HTTP_READ_TIMEOUT", "3s")
	t.Setenv("RECALL_RETRIEVAL_SOURCE_TOP_K", "25")
	t.Setenv("RECALL_NOTIFY_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("RECALL_UNKNOWN_SETTING", "ignored")

	cfg, err := NewLoader().Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug, got %s", cfg.Log.Level)
	}
	if cfg.Server.HTTP.ReadTimeout != 3*time.Second {
		t.Errorf("expected 3s read timeout, got %v", cfg.Server.HTTP.ReadTimeout)
	}
	if cfg.Retrieval.SourceTopK != 25 {
		t.Errorf("expected source top k 25, got %d", cfg.Retrieval.SourceTopK)
	}
	if len(cfg.Notify.Brokers) != 2 || cfg.Notify.Brokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Notify.Brokers)
	}
}

func TestLoader_OverridesWinOverEnv(t *testing.T) {
	t.Setenv("RECALL_SERVER_PORT", "7070")

	cfg, err := NewLoader().Load("", map[string]any{"server.port": 6060})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 6060 {
		t.Errorf("expected override port 6060, got %d", cfg.Server.Port)
	}
}

func TestEnvKeys(t *testing.T) {
	keys := envKeys()
	cases := map[string]string{
		"server_http_read_timeout": "server.http.read_timeout",
		"cache_ttl":                "cache.ttl",
		"storage_badger_path":      "storage.badger.path",
		"retrieval_weights_graph":  "retrieval.weights.graph",
	}
	for env, want := range cases {
		if got := keys[env]; got != want {
			t.Errorf("envKeys()[%q] = %q, want %q", env, got, want)
		}
	}
}

func TestConfig_ToRetrieverConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retrieval.Weights.Graph = 0.5
	cfg.Retrieval.RerankDepth = 40
	cfg.Retrieval.BM25.StopWords = []string{"the"}
	cfg.Reranker.Workers = 2
	cfg.App.Debug = true

	rc := cfg.ToRetrieverConfig()
	if rc.RRFK != memory.DefaultRRFK || rc.RerankDepth != 40 {
		t.Errorf("unexpected fusion settings: %+v", rc)
	}
	if rc.DefaultWeights[memory.SourceGraph] != 0.5 || rc.DefaultWeights[memory.SourceKeyword] != 1 {
		t.Errorf("unexpected weights: %v", rc.DefaultWeights)
	}
	if rc.Keyword.K1 != memory.DefaultBM25K1 || len(rc.Keyword.StopWords) != 1 {
		t.Errorf("unexpected keyword config: %+v", rc.Keyword)
	}
	if rc.Reranker.Workers != 2 {
		t.Errorf("expected 2 rerank workers, got %d", rc.Reranker.Workers)
	}
	if !rc.DebugInvariants {
		t.Error("expected app.debug to enable invariant checks")
	}
}

func TestRetrievalConfig_Conversions(t *testing.T) {
	r := DefaultConfig().Retrieval
	r.SourceTopK = 15
	r.Synonyms = map[string][]string{"db": {"datastore"}, "kv": {"keyvalue"}}

	opts := r.DefaultRetrieveOptions()
	if opts.BM25TopK != 15 || opts.VectorTopK != 15 || opts.GraphTopK != 15 {
		t.Errorf("unexpected caps: %+v", opts)
	}
	if !opts.UseReranker {
		t.Error("expected reranker on by default")
	}

	table := r.SynonymTable()
	if table["db"][0] != "datastore" {
		t.Errorf("expected configured synonyms to override, got %v", table["db"])
	}
	if table["k8s"][0] != "kubernetes" {
		t.Error("expected built-in synonyms to remain")
	}
	if memory.DefaultSynonyms["db"][0] != "database" {
		t.Error("built-in table must not be modified")
	}
}

func TestSectionConversions(t *testing.T) {
	cfg := DefaultConfig()

	cc := cfg.Cache.ToCacheConfig()
	if cc.MaxSize != cfg.Cache.MaxSize || cc.TTL != cfg.Cache.TTL {
		t.Errorf("unexpected cache config: %+v", cc)
	}
	rc := cfg.Cache.ToRedisCacheConfig()
	if rc.Prefix != memory.DefaultRedisCachePrefix {
		t.Errorf("unexpected redis prefix: %s", rc.Prefix)
	}

	ec := cfg.Embedding.ToEmbeddingConfig()
	if ec.Provider != embedding.ProviderHash || ec.Dimension != 256 {
		t.Errorf("unexpected embedding config: %+v", ec)
	}

	cfg.Reranker.MaxRetries = 5
	sc := cfg.Reranker.ToScorerConfig()
	if sc.URL != cfg.Reranker.URL || sc.Retry.MaxRetries != 5 || sc.Retry.BaseDelay <= 0 {
		t.Errorf("unexpected scorer config: %+v", sc)
	}

	mc := cfg.Metrics.ToMetricsConfig()
	if !mc.Enabled || mc.Port != 9091 || mc.Path != "/metrics" {
		t.Errorf("unexpected metrics config: %+v", mc)
	}
	if len(mc.RetrievalDurationBuckets) == 0 {
		t.Error("expected default buckets to be kept")
	}
}

func TestMain(m *testing.M) {
	// Keep stray RECALL_ variables from the developer's shell out of loader tests.
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, EnvPrefix) {
			os.Unsetenv(strings.SplitN(kv, "=", 2)[0])
		}
	}
	os.Exit(m.Run())
}
