package config

// Config represents the complete dapp-client configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Transport TransportConfig `yaml:"transport"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Integrity IntegrityConfig `yaml:"integrity"`
	Run       RunConfig       `yaml:"run"`

	// SourcePath is the absolute path the config was loaded from, if any.
	SourcePath string `yaml:"-"`
}

// LogConfig defines logging settings. Logs always go to stderr.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// TransportConfig names the inbound and outbound streams.
// "-" means stdin for input and stdout for output.
type TransportConfig struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
}

// ProtocolConfig tunes the frame codec. The protocol version is compiled in
// and cannot be configured.
type ProtocolConfig struct {
	MaxFrameBytes int `yaml:"max_frame_bytes"`
}

// IntegrityConfig controls checksum verification of the config file.
type IntegrityConfig struct {
	// Require makes a missing .checksums manifest a load error.
	Require bool `yaml:"require"`
}

// RunConfig describes what the bundled handler does on each run message.
type RunConfig struct {
	// Ctxt is merged into the received ctxt before any step runs.
	Ctxt  map[string]any `yaml:"ctxt,omitempty"`
	Steps []StepConfig   `yaml:"steps,omitempty"`
	// Result, when set, replaces the last step's res in the finished message.
	Result any `yaml:"result,omitempty"`
}

// StepConfig is a single host command invocation.
type StepConfig struct {
	Command      string `yaml:"command"`
	Input        string `yaml:"input"`
	IgnoreErrors bool   `yaml:"ignore_errors,omitempty"`
}

// ChecksumManifest is the on-disk .checksums format.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with default values.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Transport: TransportConfig{
			Input:  "-",
			Output: "-",
		},
		Protocol: ProtocolConfig{
			MaxFrameBytes: 8 * 1024 * 1024,
		},
	}
}
