// Package config binds the streaming engine's process-level configuration:
// the environment variables named in the spec (HTTP_PORT, TEST_MODE) plus
// the flags needed to select and reach a durable document backend. The
// pattern - an Options struct with AddFlags and a PreRun that folds
// environment variables over flag defaults - follows the teacher's
// cmd/restic global options (spf13/pflag flags with an env-var escape
// hatch such as RESTIC_PACK_SIZE).
package config

import (
	"strconv"

	"github.com/spf13/pflag"

	"github.com/owlglass/typewritermonkey/internal/errors"
)

// Options holds every value monkeyd needs to start serving.
type Options struct {
	HTTPPort int
	TestMode bool

	// Backend selects the durable document backend driver: "local" (the
	// default, a directory of JSON documents) or "s3".
	Backend string
	DataDir string

	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool

	DictionaryPath string
}

// Default returns the compiled-in defaults before flags or environment
// variables are applied.
func Default() Options {
	return Options{
		HTTPPort:       5500,
		TestMode:       true,
		Backend:        "local",
		DataDir:        "./monkeydata",
		S3UseSSL:       true,
		DictionaryPath: "./dictionary.txt",
	}
}

// AddFlags registers o's fields on fs with the defaults already in o.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.HTTPPort, "http-port", o.HTTPPort, "TCP port for the REST and WebSocket endpoints")
	fs.BoolVar(&o.TestMode, "test-mode", o.TestMode, "add baseline viewer jitter to the subscriber count")
	fs.StringVar(&o.Backend, "backend", o.Backend, "durable document backend driver: local or s3")
	fs.StringVar(&o.DataDir, "data-dir", o.DataDir, "directory for the local backend driver")
	fs.StringVar(&o.S3Endpoint, "s3-endpoint", o.S3Endpoint, "S3-compatible endpoint host:port")
	fs.StringVar(&o.S3Bucket, "s3-bucket", o.S3Bucket, "S3 bucket used as the document store")
	fs.StringVar(&o.S3AccessKey, "s3-access-key", o.S3AccessKey, "S3 access key")
	fs.StringVar(&o.S3SecretKey, "s3-secret-key", o.S3SecretKey, "S3 secret key")
	fs.BoolVar(&o.S3UseSSL, "s3-use-ssl", o.S3UseSSL, "use TLS when talking to the S3 endpoint")
	fs.StringVar(&o.DictionaryPath, "dictionary", o.DictionaryPath, "path to the newline-delimited dictionary file")
}

// PreRun folds HTTP_PORT and TEST_MODE environment variables over flags
// that were not explicitly set on the command line, then validates the
// result. A malformed HTTP_PORT is a fatal startup error, matching the
// teacher's treatment of a malformed RESTIC_PACK_SIZE.
func (o *Options) PreRun(fs *pflag.FlagSet, lookupEnv func(string) (string, bool)) error {
	if v, ok := lookupEnv("HTTP_PORT"); ok && !fs.Changed("http-port") {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Fatalf("HTTP_PORT=%q is not a valid port: %v", v, err)
		}
		o.HTTPPort = port
	}

	if v, ok := lookupEnv("TEST_MODE"); ok && !fs.Changed("test-mode") {
		o.TestMode = v != "false"
	}

	if o.HTTPPort <= 0 || o.HTTPPort > 65535 {
		return errors.Fatalf("invalid HTTP port %d", o.HTTPPort)
	}

	switch o.Backend {
	case "local", "s3":
	default:
		return errors.Fatalf("unknown backend %q, must be local or s3", o.Backend)
	}

	return nil
}
