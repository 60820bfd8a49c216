package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/autoglean/types"
	"github.com/saiset-co/autoglean/utils"
)

type ZapLoggerConfig struct {
	Level  string            `yaml:"level" json:"level"`
	Format string            `yaml:"format" json:"format"`
	Output string            `yaml:"output" json:"output"`
	File   string            `yaml:"file" json:"file"`
	Fields map[string]string `yaml:"fields" json:"fields"`
}

// NewDefaultLogger builds a zap logger writing console lines to stderr unless
// logger.config says otherwise.
func NewDefaultLogger(config *types.LoggerConfig) (types.Logger, error) {
	lConfig := &ZapLoggerConfig{
		Format: "console",
		Output: "stderr",
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, lConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal logger config")
		}
	}
	if config.Level != "" {
		lConfig.Level = config.Level
	}

	logger, err := buildZapLogger(lConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	l := NewZapWrapper(logger.With(staticFields(lConfig.Fields)...))

	l.Debug("Logger initialized",
		zap.String("level", lConfig.Level),
		zap.String("format", lConfig.Format),
		zap.String("output", lConfig.Output),
	)

	return l, nil
}

func buildZapLogger(config *ZapLoggerConfig) (*zap.Logger, error) {
	outputs, err := outputPaths(config)
	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	if config.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeCaller = ideCallerEncoder
		if config.Output != "file" {
			zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	}

	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.DisableStacktrace = true
	zapConfig.Level = zap.NewAtomicLevelAt(parseLogLevel(config.Level))
	zapConfig.OutputPaths = outputs
	zapConfig.ErrorOutputPaths = outputs

	return zapConfig.Build(zap.AddCaller())
}

func outputPaths(config *ZapLoggerConfig) ([]string, error) {
	switch config.Output {
	case "stdout":
		return []string{"stdout"}, nil
	case "file":
		if err := ensureLogDir(config.File); err != nil {
			return nil, err
		}
		return []string{config.File}, nil
	default:
		return []string{"stderr"}, nil
	}
}

func staticFields(fields map[string]string) []zap.Field {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		out = append(out, zap.String(key, fields[key]))
	}
	return out
}

func ideCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("%s:%d", caller.File, caller.Line))
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ensureLogDir creates the directory of logFile. A bare file name is
// rejected so logs never land in whatever the working directory is.
func ensureLogDir(logFile string) error {
	if logFile == "" {
		return types.ErrLogFileIsEmpty
	}

	dir := filepath.Dir(logFile)
	if dir == "." {
		return types.Errorf(types.ErrLogFileWrongFormat, "%s has no directory", logFile)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.WrapError(err, "access denied to log directory")
	}

	return nil
}

// ZapWrapper adapts *zap.Logger to types.Logger. Callers are reported from
// the call site above the wrapper.
type ZapWrapper struct {
	base        *zap.Logger
	log         *zap.Logger
	stackOutput io.Writer
}

func NewZapWrapper(logger *zap.Logger) types.Logger {
	return newZapWrapper(logger, os.Stderr)
}

// NewNop is used by tests and by components built without a logger.
func NewNop() types.Logger {
	return newZapWrapper(zap.NewNop(), io.Discard)
}

func newZapWrapper(logger *zap.Logger, stackOutput io.Writer) *ZapWrapper {
	return &ZapWrapper{
		base:        logger,
		log:         logger.WithOptions(zap.AddCallerSkip(2)),
		stackOutput: stackOutput,
	}
}

func (z *ZapWrapper) Sync() error {
	return z.base.Sync()
}

func (z *ZapWrapper) Error(msg string, fields ...zap.Field) {
	z.log.Error(msg, fields...)
}

func (z *ZapWrapper) Warn(msg string, fields ...zap.Field) {
	z.log.Warn(msg, fields...)
}

func (z *ZapWrapper) Info(msg string, fields ...zap.Field) {
	z.log.Info(msg, fields...)
}

func (z *ZapWrapper) Debug(msg string, fields ...zap.Field) {
	z.log.Debug(msg, fields...)
}

func (z *ZapWrapper) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	z.log.Log(lvl, msg, fields...)
}

// ErrorWithErrStack logs err at error level and, when err carries a
// pkg/errors stack, prints the frames below the log line.
func (z *ZapWrapper) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	if err == nil {
		z.log.Error(msg, fields...)
		return
	}

	z.log.Error(msg, append([]zap.Field{zap.String("error", err.Error())}, fields...)...)

	if stack := stackOf(err); stack != "" {
		z.printStack(stack)
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// stackOf returns the innermost pkg/errors stack in err's chain, or the
// %+v rendering when there is none.
func stackOf(err error) string {
	var stack string
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok {
			stack = fmt.Sprintf("%+v", st.StackTrace())
		}
	}

	if stack == "" {
		stack = fmt.Sprintf("%+v", err)
	}

	return stack
}

var stackNoise = []string{
	"autoglean/types/errors.go:",
	"runtime.goexit",
	"runtime/asm_",
	"testing.tRunner",
}

func (z *ZapWrapper) printStack(stack string) {
	_, _ = fmt.Fprintln(z.stackOutput, "ERROR STACK TRACE")

	for _, line := range strings.Split(stack, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isStackNoise(line) {
			continue
		}

		if len(line) > 120 {
			line = line[:117] + "..."
		}

		_, _ = fmt.Fprintln(z.stackOutput, "  "+line)
	}
}

func isStackNoise(line string) bool {
	for _, noise := range stackNoise {
		if strings.Contains(line, noise) {
			return true
		}
	}
	return false
}
