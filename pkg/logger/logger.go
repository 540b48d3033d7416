package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel representa os níveis de log disponíveis
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String retorna a representação em string do nível de log
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLogLevel converte uma string em LogLevel
func ParseLogLevel(level string) LogLevel {
	levelUpper := strings.ToUpper(strings.TrimSpace(level))
	switch levelUpper {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO // Padrão
	}
}

// Logger gerencia mensagens de log com níveis configuráveis.
// The printf-style methods and Z() write to the same zerolog.Logger.
type Logger struct {
	mu     sync.RWMutex
	level  LogLevel
	zl     zerolog.Logger
	output io.Writer
}

var (
	// defaultLogger é o logger padrão usado globalmente (singleton)
	defaultLogger *Logger
	once          sync.Once
	mu            sync.RWMutex
)

func init() {
	once.Do(func() {
		defaultLogger = NewLogger(INFO, zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stderr
		}))
	})
}

func getDefaultLogger() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	if defaultLogger == nil {
		return NewLogger(INFO, os.Stderr)
	}
	return defaultLogger
}

// NewLogger cria uma nova instância de Logger escrevendo em w.
func NewLogger(level LogLevel, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		level:  level,
		zl:     zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger(),
		output: w,
	}
}

// SetLevel define o nível mínimo de log
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.zl = l.zl.Level(level.zerolog())
}

// GetLevel retorna o nível atual de log
func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetOutput define o destino de saída do log
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.zl = l.zl.Output(w)
}

// Z returns the underlying zerolog.Logger for structured events.
func (l *Logger) Z() *zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	zl := l.zl
	return &zl
}

// With returns a child logger carrying the given string field.
func (l *Logger) With(key, value string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{
		level:  l.level,
		zl:     l.zl.With().Str(key, value).Logger(),
		output: l.output,
	}
}

func (l *Logger) shouldLog(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}
	zl := l.Z()
	var ev *zerolog.Event
	switch level {
	case DEBUG:
		ev = zl.Debug()
	case WARN:
		ev = zl.Warn()
	case ERROR:
		ev = zl.Error()
	default:
		ev = zl.Info()
	}
	ev.Msg(fmt.Sprintf(format, args...))
}

// Debug registra uma mensagem de debug
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info registra uma mensagem informativa
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn registra uma mensagem de aviso
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error registra uma mensagem de erro
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// WouldLog verifica se um nível de log seria exibido por este logger
func (l *Logger) WouldLog(level LogLevel) bool {
	return l.shouldLog(level)
}

// SetDefaultLogger define o logger padrão usado globalmente (singleton)
func SetDefaultLogger(logger *Logger) {
	if logger == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// GetDefaultLogger retorna o logger padrão (singleton)
func GetDefaultLogger() *Logger {
	return getDefaultLogger()
}

// SetDefaultLevel define o nível do logger padrão (singleton)
func SetDefaultLevel(level LogLevel) {
	getDefaultLogger().SetLevel(level)
}

// Z retorna o zerolog.Logger do logger padrão
func Z() *zerolog.Logger {
	return getDefaultLogger().Z()
}

func Debug(format string, args ...interface{}) {
	getDefaultLogger().Debug(format, args...)
}

func Info(format string, args ...interface{}) {
	getDefaultLogger().Info(format, args...)
}

func Warn(format string, args ...interface{}) {
	getDefaultLogger().Warn(format, args...)
}

func Error(format string, args ...interface{}) {
	getDefaultLogger().Error(format, args...)
}

// WouldLog verifica se um nível de log seria exibido no logger padrão
// Útil para evitar trabalho caro (dumps) quando o nível não está habilitado
func WouldLog(level LogLevel) bool {
	return getDefaultLogger().shouldLog(level)
}

// TestLogger é uma interface para logging em testes
// Permite que o logger seja usado com *testing.T sem criar dependência direta
type TestLogger interface {
	Helper()
	Logf(format string, args ...interface{})
}

// TestDebug registra uma mensagem de debug no logger e, se DEBUG estiver habilitado, em t.Logf
func TestDebug(t TestLogger, format string, args ...interface{}) {
	if t != nil {
		t.Helper()
	}
	Debug(format, args...)
	if t != nil && WouldLog(DEBUG) {
		t.Logf(format, args...)
	}
}

// TestInfo registra uma mensagem informativa no logger e, se INFO estiver habilitado, em t.Logf
func TestInfo(t TestLogger, format string, args ...interface{}) {
	if t != nil {
		t.Helper()
	}
	Info(format, args...)
	if t != nil && WouldLog(INFO) {
		t.Logf(format, args...)
	}
}
