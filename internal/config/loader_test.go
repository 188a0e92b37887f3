package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file uses defaults",
			yaml: ``,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
					t.Errorf("log defaults not applied: %+v", cfg.Log)
				}
				if cfg.Transport.Input != "-" || cfg.Transport.Output != "-" {
					t.Errorf("transport defaults not applied: %+v", cfg.Transport)
				}
				if cfg.Protocol.MaxFrameBytes != 8*1024*1024 {
					t.Errorf("max_frame_bytes default = %d", cfg.Protocol.MaxFrameBytes)
				}
				if len(cfg.Run.Steps) != 0 {
					t.Error("expected no steps")
				}
			},
		},
		{
			name: "full config",
			yaml: `
log:
  level: debug
  format: text
transport:
  input: /tmp/in.fifo
  output: /tmp/out.fifo
protocol:
  max_frame_bytes: 1024
run:
  ctxt:
    client: dapp
    nested:
      depth: 2
  steps:
    - command: foo
      input: bar
    - command: cleanup
      input: ""
      ignore_errors: true
  result: done
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
					t.Errorf("log not parsed: %+v", cfg.Log)
				}
				if cfg.Transport.Input != "/tmp/in.fifo" || cfg.Transport.Output != "/tmp/out.fifo" {
					t.Errorf("transport not parsed: %+v", cfg.Transport)
				}
				if cfg.Protocol.MaxFrameBytes != 1024 {
					t.Error("max_frame_bytes not parsed")
				}
				if cfg.Run.Ctxt["client"] != "dapp" {
					t.Error("run.ctxt not parsed")
				}
				if len(cfg.Run.Steps) != 2 {
					t.Fatalf("want 2 steps, got %d", len(cfg.Run.Steps))
				}
				if cfg.Run.Steps[0].Command != "foo" || cfg.Run.Steps[0].Input != "bar" {
					t.Errorf("step 0 not parsed: %+v", cfg.Run.Steps[0])
				}
				if !cfg.Run.Steps[1].IgnoreErrors {
					t.Error("ignore_errors not parsed")
				}
				if cfg.Run.Result != "done" {
					t.Error("run.result not parsed")
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
run:
  steps:
    - command: fetch
      input: ${DAPP_TEST_INPUT}
`,
			env: map[string]string{"DAPP_TEST_INPUT": "from-env"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Run.Steps[0].Input != "from-env" {
					t.Errorf("input = %q, want from-env", cfg.Run.Steps[0].Input)
				}
			},
		},
		{
			name: "unset env var in input",
			yaml: `
run:
  steps:
    - command: fetch
      input: ${DAPP_TEST_UNSET_VAR}
`,
			wantErr: true,
		},
		{
			name:    "invalid log level",
			yaml:    "log:\n  level: verbose\n",
			wantErr: true,
		},
		{
			name:    "invalid log format",
			yaml:    "log:\n  format: xml\n",
			wantErr: true,
		},
		{
			name:    "negative frame limit",
			yaml:    "protocol:\n  max_frame_bytes: -1\n",
			wantErr: true,
		},
		{
			name:    "step without command",
			yaml:    "run:\n  steps:\n    - input: bar\n",
			wantErr: true,
		},
		{
			name:    "unknown field",
			yaml:    "service:\n  name: gw\n",
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			yaml:    "log: [unclosed\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yaml), 0644); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(configPath)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cfg.SourcePath != configPath {
				t.Errorf("SourcePath = %q, want %q", cfg.SourcePath, configPath)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("log:\n  level: warn\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("level = %q, want warn", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("want not-found error, got %v", err)
	}
}

func TestInterpolateEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple replacement",
			input: "input: ${DAPP_HOME}/data",
			env:   map[string]string{"DAPP_HOME": "/users/test"},
			want:  "input: /users/test/data",
		},
		{
			name:  "multiple vars",
			input: "${DAPP_USER}:${DAPP_PASS}@${DAPP_HOST}",
			env: map[string]string{
				"DAPP_USER": "admin",
				"DAPP_PASS": "secret",
				"DAPP_HOST": "localhost",
			},
			want: "admin:secret@localhost",
		},
		{
			name:  "undefined var unchanged",
			input: "key: ${DAPP_UNDEFINED}",
			want:  "key: ${DAPP_UNDEFINED}",
		},
		{
			name:  "no vars",
			input: "plain text",
			want:  "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got := interpolateEnv(tt.input)
			if got != tt.want {
				t.Errorf("interpolateEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}
