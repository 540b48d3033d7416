package testutil

import (
	"os"
	"strings"

	"sessiondb/pkg/logger"
)

// IsTestVerbose verifica se estamos rodando testes em modo verbose
// (-test.v nos argumentos ou GO_TEST_VERBOSE=1).
func IsTestVerbose() bool {
	for _, arg := range os.Args {
		if strings.Contains(arg, "-test.v") {
			return true
		}
	}
	return os.Getenv("GO_TEST_VERBOSE") == "1"
}

// LogIfVerbose registra uma mensagem apenas em modo verbose de teste.
func LogIfVerbose(format string, args ...interface{}) {
	if IsTestVerbose() {
		logger.Info(format, args...)
	}
}

// LogIfVerboseWithTest registra a mensagem no logger e também em t.Logf, apenas com -v.
func LogIfVerboseWithTest(t logger.TestLogger, format string, args ...interface{}) {
	if !IsTestVerbose() {
		return
	}
	logger.Info(format, args...)
	if t != nil {
		t.Helper()
		t.Logf(format, args...)
	}
}

// QuietLogs raises the default log level to ERROR for the duration of a test.
func QuietLogs(t interface{ Cleanup(func()) }) {
	if IsTestVerbose() {
		return
	}
	prev := logger.GetDefaultLogger().GetLevel()
	logger.SetDefaultLevel(logger.ERROR)
	t.Cleanup(func() { logger.SetDefaultLevel(prev) })
}
