package cmd

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/parley/cli/config"
)

func TestValidateArchive(t *testing.T) {
	tests := []struct {
		name    string
		choice  archiveChoice
		wantErr string
	}{
		{name: "none needs nothing", choice: archiveChoice{policy: "none"}},
		{name: "empty policy is none", choice: archiveChoice{}},
		{name: "strict fs", choice: archiveChoice{policy: "strict", backend: "fs", path: "/tmp/a"}},
		{name: "buffered s3", choice: archiveChoice{policy: "buffered", backend: "s3", path: "bucket/p", bufferTurns: 4}},
		{
			name:    "buffered without buffer",
			choice:  archiveChoice{policy: "buffered", backend: "fs", path: "/tmp/a"},
			wantErr: "--archive-buffer-turns",
		},
		{
			name:    "unknown policy",
			choice:  archiveChoice{policy: "eventual", backend: "fs", path: "/tmp/a"},
			wantErr: "must be strict, buffered or none",
		},
		{
			name:    "unknown backend",
			choice:  archiveChoice{policy: "strict", backend: "gcs", path: "/tmp/a"},
			wantErr: "must be fs or s3",
		},
		{
			name:    "missing path",
			choice:  archiveChoice{policy: "strict", backend: "fs"},
			wantErr: "--archive-path is required when --archive-policy=strict",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateArchive(tt.choice)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolveArchive_ConfigThenFlags(t *testing.T) {
	cfg := &config.Config{Archive: config.ArchiveConfig{
		Policy:      "buffered",
		Backend:     "s3",
		Path:        "bucket/from-config",
		Region:      "eu-west-1",
		BufferTurns: 8,
	}}
	c := newFlagContext(t, ArchiveFlags(), "--archive-path", "bucket/from-flag")

	choice, err := resolveArchive(c, cfg)
	if err != nil {
		t.Fatalf("resolveArchive: %v", err)
	}
	if choice.policy != "buffered" || choice.backend != "s3" || choice.region != "eu-west-1" {
		t.Errorf("config values not applied: %+v", choice)
	}
	if choice.path != "bucket/from-flag" {
		t.Errorf("path = %q, want flag value", choice.path)
	}
	if choice.bufferTurns != 8 {
		t.Errorf("bufferTurns = %d, want 8", choice.bufferTurns)
	}
	if choice.dataset != "parley" {
		t.Errorf("dataset = %q, want flag default", choice.dataset)
	}

	s3 := choice.s3Config()
	if s3.Bucket != "bucket" || s3.Prefix != "from-flag" {
		t.Errorf("s3Config = %+v", s3)
	}
}

func TestParseAdapterConfigWithPrecedence(t *testing.T) {
	tests := []struct {
		name        string
		adapterType string
		args        []string
		cfg         *config.Config
		wantErr     string
		check       func(t *testing.T, a *adapterChoice)
	}{
		{
			name:        "webhook from flags",
			adapterType: "webhook",
			args:        []string{"--adapter-url", "https://hooks.example.com/parley", "--adapter-header", "Authorization=Bearer x"},
			check: func(t *testing.T, a *adapterChoice) {
				if a.url != "https://hooks.example.com/parley" {
					t.Errorf("url = %q", a.url)
				}
				if a.headers["Authorization"] != "Bearer x" {
					t.Errorf("headers = %v", a.headers)
				}
				if a.timeout != 10*time.Second || a.retries != 3 || a.encoding != "json" {
					t.Errorf("defaults not applied: %+v", a)
				}
				if a.channel != "" {
					t.Errorf("webhook should not carry a channel, got %q", a.channel)
				}
			},
		},
		{
			name:        "webhook missing url",
			adapterType: "webhook",
			wantErr:     "--adapter-url is required when --adapter=webhook",
		},
		{
			name:        "redis from config",
			adapterType: "redis",
			cfg: &config.Config{Adapter: config.AdapterConfig{
				URL:      "redis://localhost:6379/0",
				Channel:  "chat:turns",
				Retries:  intPtr(0),
				Encoding: "msgpack",
			}},
			check: func(t *testing.T, a *adapterChoice) {
				if a.url != "redis://localhost:6379/0" || a.channel != "chat:turns" {
					t.Errorf("config values not applied: %+v", a)
				}
				if a.retries != 0 {
					t.Errorf("retries = %d, want explicit 0 from config", a.retries)
				}
				if a.encoding != "msgpack" {
					t.Errorf("encoding = %q", a.encoding)
				}
			},
		},
		{
			name:        "flag url overrides config",
			adapterType: "redis",
			args:        []string{"--adapter-url", "redis://flag:6379"},
			cfg:         &config.Config{Adapter: config.AdapterConfig{URL: "redis://config:6379"}},
			check: func(t *testing.T, a *adapterChoice) {
				if a.url != "redis://flag:6379" {
					t.Errorf("url = %q, want flag value", a.url)
				}
			},
		},
		{
			name:        "redis missing url",
			adapterType: "redis",
			wantErr:     "--adapter-url is required when --adapter=redis",
		},
		{
			name:        "unknown type",
			adapterType: "kafka",
			args:        []string{"--adapter-url", "x"},
			wantErr:     `unknown adapter type: "kafka"`,
		},
		{
			name:        "malformed header",
			adapterType: "webhook",
			args:        []string{"--adapter-url", "https://x", "--adapter-header", "broken"},
			wantErr:     "expected key=value",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFlagContext(t, AdapterFlags(), tt.args...)
			got, err := parseAdapterConfigWithPrecedence(c, tt.cfg, tt.adapterType)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, got)
		})
	}
}

func TestBuildAdapter_NoneConfigured(t *testing.T) {
	c := newFlagContext(t, AdapterFlags())
	a, typ, err := buildAdapter(c, nil)
	if err != nil || a != nil || typ != "" {
		t.Fatalf("got %v, %q, %v; want nil adapter", a, typ, err)
	}
}

func TestBuildAdapter_BadEncoding(t *testing.T) {
	c := newFlagContext(t, AdapterFlags(), "--adapter", "webhook", "--adapter-url", "https://x", "--adapter-encoding", "xml")
	if _, _, err := buildAdapter(c, nil); err == nil {
		t.Fatal("expected encoding error")
	}
}

func TestResolveClientID(t *testing.T) {
	c := newFlagContext(t, ClientFlags(), "--client-id", "cli")
	if got := resolveClientID(c, &config.Config{ClientID: "cfg"}); got != "cli" {
		t.Errorf("flag: got %q", got)
	}
	c = newFlagContext(t, ClientFlags())
	if got := resolveClientID(c, &config.Config{ClientID: "cfg"}); got != "cfg" {
		t.Errorf("config: got %q", got)
	}
	if got := resolveClientID(c, nil); got == "" {
		t.Error("fallback should never be empty")
	}
}

func TestResolveBackend(t *testing.T) {
	flags := append(ClientFlags(), BackendFlags()...)

	t.Run("missing url", func(t *testing.T) {
		if _, ok := os.LookupEnv("PARLEY_BACKEND_URL"); ok {
			t.Skip("PARLEY_BACKEND_URL is set in the environment")
		}
		_, err := resolveBackend(newFlagContext(t, flags), nil, nil)
		if err == nil || !strings.Contains(err.Error(), "--backend-url is required") {
			t.Fatalf("error = %v", err)
		}
	})

	t.Run("config with flag headers", func(t *testing.T) {
		cfg := &config.Config{Backend: config.BackendConfig{
			BaseURL: "https://chat.example.com",
			Token:   "cfg-token",
			Headers: map[string]string{"X-Org": "a"},
			Timeout: config.Duration{Duration: 5 * time.Second},
			Paths:   config.PathsConfig{Personas: "/v2/personas"},
		}}
		c := newFlagContext(t, flags, "--backend-header", "X-Org=b", "--token", "flag-token")
		got, err := resolveBackend(c, cfg, nil)
		if err != nil {
			t.Fatalf("resolveBackend: %v", err)
		}
		if got.BaseURL != "https://chat.example.com" {
			t.Errorf("BaseURL = %q", got.BaseURL)
		}
		if got.Token != "flag-token" {
			t.Errorf("Token = %q, want flag value", got.Token)
		}
		if got.Headers["X-Org"] != "b" {
			t.Errorf("Headers = %v", got.Headers)
		}
		if got.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v", got.Timeout)
		}
		if got.Paths.Personas != "/v2/personas" {
			t.Errorf("Paths = %+v", got.Paths)
		}
	})
}

func TestBuildReadDataset_UnknownBackend(t *testing.T) {
	_, err := buildReadDataset(t.Context(), archiveChoice{backend: "gcs", path: "x"})
	if err == nil || !strings.Contains(err.Error(), "must be fs or s3") {
		t.Fatalf("error = %v", err)
	}
}
