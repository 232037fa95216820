package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// base is the process-wide logger every tagged logger derives from. It
// is unexported: callers always go through a With* constructor so a tag
// is never forgotten at a call site.
var base zerolog.Logger

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config controls how Init builds the process-wide logger.
type Config struct {
	Level Level
	// JSONOutput selects structured JSON lines, the shape a log
	// shipper expects in production; console output is for local runs.
	JSONOutput bool
	Output     io.Writer
}

// Init builds the process-wide logger from cfg. It is called once, from
// the CLI entrypoint, after flags are parsed.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(cfg.Level.zerolog())

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		base = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	base = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

func init() {
	// Usable before the entrypoint calls Init, e.g. in package tests.
	Init(Config{Level: InfoLevel})
}

// tagged returns a child of base with a single string field attached.
func tagged(field, value string) zerolog.Logger {
	return base.With().Str(field, value).Logger()
}

// WithComponent tags log lines with the subsystem that produced them
// (e.g. "catalog", "objstore", "cluster") for components that aren't
// tied to a single stream.
func WithComponent(component string) zerolog.Logger {
	return tagged("component", component)
}

// WithNodeID tags log lines with the cluster node that produced them.
func WithNodeID(nodeID string) zerolog.Logger {
	return tagged("node_id", nodeID)
}

// WithStream tags log lines with the stream they concern, the
// dimension most operational log queries filter on.
func WithStream(stream string) zerolog.Logger {
	return tagged("stream", stream)
}

// WithArtifact tags log lines with the ULID of the converted artifact
// they concern, for tracing one conversion through upload and publish.
func WithArtifact(ulid string) zerolog.Logger {
	return tagged("artifact", ulid)
}
