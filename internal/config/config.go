// Package config defines the process-wide options recognized by the
// engine. The Options value is built once at startup and passed
// explicitly to the constructors that need it instead of living in
// package-level globals.
package config

import (
	"flag"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Options is the recognized-options set from the external interfaces
// description. Unknown keys loaded from a file are ignored.
type Options struct {
	Interface    string `yaml:"interface"`
	CapturePort  int    `yaml:"capturePort"`
	LocalPort    int    `yaml:"localPort"`
	FlowIdleMs   int    `yaml:"flowIdleMs"`
	IdleClearMs  int    `yaml:"idleClearMs"`

	AutoClearOnTimeout bool `yaml:"autoClearOnTimeout"`
	EnableFightLog     bool `yaml:"enableFightLog"`

	FlowBufferCapBytes int    `yaml:"flowBufferCapBytes"`
	MaxRecordSize      int    `yaml:"maxRecordSize"`
	Signature          string `yaml:"signature"`
	CompressedKind     int    `yaml:"compressedKind"`

	ReferenceFetchURL     string        `yaml:"referenceFetchURL"`
	ReferenceFetchTimeout time.Duration `yaml:"-"`
	NegativeCacheTTL      time.Duration `yaml:"-"`
	AuxPoolSize           int           `yaml:"auxPoolSize"`

	Debug bool `yaml:"debug"`
}

// Default returns the recognized-options defaults from the external
// interfaces section: autoClearOnTimeout=true, idleClearMs=20000,
// enableFightLog=false, localPort=8989, capturePort=9002, flowIdleMs=120000.
func Default() Options {
	return Options{
		Interface:   "",
		CapturePort: 9002,
		LocalPort:   8989,
		FlowIdleMs:  120000,
		IdleClearMs: 20000,

		AutoClearOnTimeout: true,
		EnableFightLog:     false,

		FlowBufferCapBytes: 4 << 20,
		MaxRecordSize:      512 << 10,
		Signature:          "PWv1",
		CompressedKind:     0xFFFF,

		ReferenceFetchTimeout: 10 * time.Second,
		NegativeCacheTTL:      5 * time.Minute,
		AuxPoolSize:           4,
	}
}

// LoadFile overlays a yaml config file's recognized keys onto o. Unknown
// keys are ignored by yaml.v3's default decode behavior. Call before
// ParseFlags so command-line flags can still override file values.
func LoadFile(o Options, path string) (Options, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return o, err
	}

	if err := yaml.Unmarshal(b, &o); err != nil {
		return o, err
	}

	return o, nil
}

// ParseFlags overlays command-line flags onto o and returns the result.
// An optional -config yaml file is applied first, so command-line flags
// still take precedence over it.
func ParseFlags(fs *flag.FlagSet, args []string) (Options, error) {
	o := Default()

	if path := scanConfigFlag(args); path != "" {
		loaded, err := LoadFile(o, path)
		if err != nil {
			return Options{}, err
		}

		o = loaded
	}

	var configPath string

	fs.StringVar(&configPath, "config", "", "optional yaml config file overlaid before flags")
	fs.StringVar(&o.Interface, "iface", o.Interface, "network interface to capture on")
	fs.IntVar(&o.CapturePort, "capture-port", o.CapturePort, "TCP port carrying game traffic")
	fs.IntVar(&o.LocalPort, "local-port", o.LocalPort, "local HTTP/WebSocket port for glue consumers")
	fs.IntVar(&o.FlowIdleMs, "flow-idle-ms", o.FlowIdleMs, "flow eviction idle timeout in ms")
	fs.IntVar(&o.IdleClearMs, "idle-clear-ms", o.IdleClearMs, "combat model idle-clear timeout in ms")
	fs.BoolVar(&o.AutoClearOnTimeout, "auto-clear", o.AutoClearOnTimeout, "clear combat model after idle timeout")
	fs.BoolVar(&o.EnableFightLog, "fight-log", o.EnableFightLog, "enable append-only fight log")
	fs.StringVar(&o.Signature, "signature", o.Signature, "framing handshake signature bytes")
	fs.StringVar(&o.ReferenceFetchURL, "reference-url", o.ReferenceFetchURL, "external reference metadata endpoint")
	fs.BoolVar(&o.Debug, "debug", o.Debug, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}

	return o, nil
}

// scanConfigFlag finds -config's value (if given) without disturbing the
// caller's real FlagSet, so LoadFile can run before flag defaults are
// bound to it.
func scanConfigFlag(args []string) string {
	scan := flag.NewFlagSet("", flag.ContinueOnError)
	scan.SetOutput(io.Discard)

	var path string

	scan.StringVar(&path, "config", "", "")
	_ = scan.Parse(args)

	return path
}

// Fields returns zap fields summarizing the active configuration, used for
// a single startup log line.
func (o Options) Fields() []zap.Field {
	return []zap.Field{
		zap.String("interface", o.Interface),
		zap.Int("capturePort", o.CapturePort),
		zap.Int("localPort", o.LocalPort),
		zap.Int("flowIdleMs", o.FlowIdleMs),
		zap.Int("idleClearMs", o.IdleClearMs),
		zap.Bool("autoClearOnTimeout", o.AutoClearOnTimeout),
		zap.Bool("enableFightLog", o.EnableFightLog),
	}
}
