package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setGenesysEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOOKRELAY_REGION", "usw2.pure.cloud")
	t.Setenv("HOOKRELAY_CLIENT_ID", "id")
	t.Setenv("HOOKRELAY_CLIENT_SECRET", "secret")
	t.Setenv("HOOKRELAY_ELASTIC_URL", "http://localhost:9200")
}

func TestLoadDefaults(t *testing.T) {
	setGenesysEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Transport != "genesys" {
		t.Errorf("Transport = %q, want genesys", cfg.Transport)
	}
	if cfg.BulkMaxDocs != 200 {
		t.Errorf("BulkMaxDocs = %d, want 200", cfg.BulkMaxDocs)
	}
	if cfg.BulkMaxInterval != 5*time.Second {
		t.Errorf("BulkMaxInterval = %v, want 5s", cfg.BulkMaxInterval)
	}
	if cfg.TopicInclude != "audiohook" {
		t.Errorf("TopicInclude = %q, want audiohook", cfg.TopicInclude)
	}
	if cfg.StatusAddr != ":8077" {
		t.Errorf("StatusAddr = %q, want :8077", cfg.StatusAddr)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setGenesysEnv(t)
	t.Setenv("HOOKRELAY_TOPICS", "platform.integration.audiohook, platform.operations.audiohook")
	t.Setenv("HOOKRELAY_BULK_MAX_DOCS", "50")
	t.Setenv("HOOKRELAY_RETRY_CAP", "1m")
	t.Setenv("HOOKRELAY_AUTO_DISCOVER", "false")
	t.Setenv("HOOKRELAY_STATUS_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.Topics) != 2 || cfg.Topics[0] != "platform.integration.audiohook" {
		t.Errorf("Topics = %v", cfg.Topics)
	}
	if cfg.BulkMaxDocs != 50 {
		t.Errorf("BulkMaxDocs = %d, want 50", cfg.BulkMaxDocs)
	}
	if cfg.RetryCap != time.Minute {
		t.Errorf("RetryCap = %v, want 1m", cfg.RetryCap)
	}
	if cfg.AutoDiscover {
		t.Error("AutoDiscover = true, want false")
	}
	if cfg.StatusAddr != "" {
		t.Errorf("StatusAddr = %q, want empty (disabled)", cfg.StatusAddr)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	setGenesysEnv(t)

	path := filepath.Join(t.TempDir(), "hookrelay.toml")
	content := `
elastic_index = "ops-audiohook"
bulk_concurrency = 4
topics = ["v2.auditing.integration.audiohook"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	t.Setenv("HOOKRELAY_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ElasticIndex != "ops-audiohook" {
		t.Errorf("ElasticIndex = %q, want ops-audiohook", cfg.ElasticIndex)
	}
	if cfg.BulkConcurrency != 4 {
		t.Errorf("BulkConcurrency = %d, want 4", cfg.BulkConcurrency)
	}
	if len(cfg.Topics) != 1 || cfg.Topics[0] != "v2.auditing.integration.audiohook" {
		t.Errorf("Topics = %v", cfg.Topics)
	}
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	setGenesysEnv(t)

	path := filepath.Join(t.TempDir(), "hookrelay.toml")
	if err := os.WriteFile(path, []byte(`bulk_max_docs = 10`), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	t.Setenv("HOOKRELAY_CONFIG", path)
	t.Setenv("HOOKRELAY_BULK_MAX_DOCS", "75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BulkMaxDocs != 75 {
		t.Errorf("BulkMaxDocs = %d, want env value 75", cfg.BulkMaxDocs)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	t.Setenv("HOOKRELAY_REGION", "usw2.pure.cloud")
	t.Setenv("HOOKRELAY_ELASTIC_URL", "http://localhost:9200")

	if _, err := Load(); err == nil {
		t.Fatal("Load() succeeded without client credentials")
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	cases := []struct {
		key, value string
	}{
		{"HOOKRELAY_BULK_MAX_DOCS", "two hundred"},
		{"HOOKRELAY_RETRY_CAP", "30"}, // bare number is not a duration
		{"HOOKRELAY_AUTO_DISCOVER", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			setGenesysEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() accepted %s=%q", tc.key, tc.value)
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Errorf("error %q does not name %s", err, tc.key)
			}
		})
	}
}

func TestLoadUnknownSink(t *testing.T) {
	setGenesysEnv(t)
	t.Setenv("HOOKRELAY_SINK", "kafka")

	if _, err := Load(); err == nil {
		t.Fatal("Load() succeeded with unknown sink")
	}
}
