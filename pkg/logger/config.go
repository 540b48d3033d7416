package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"sessiondb/internal/config"
)

// InitFromConfig configura o logger padrão a partir da seção logging.
// format "json" escreve JSON puro; qualquer outro valor usa o console writer.
// Se file estiver definido, o log vai para o arquivo (append) em vez de stderr.
func InitFromConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("logger: nil config")
	}
	var out io.Writer = os.Stderr
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("logger: open %s: %w", cfg.Logging.File, err)
		}
		out = f
	}
	if cfg.Logging.Format != "json" {
		dst := out
		out = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = dst
			w.NoColor = cfg.Logging.File != ""
		})
	}
	SetDefaultLogger(NewLogger(ParseLogLevel(cfg.Logging.Level), out))
	return nil
}
