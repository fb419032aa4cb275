package negotiation

import "github.com/pion/logging"

var (
	loggerFactory logging.LoggerFactory = logging.NewDefaultLoggerFactory()
	logger                              = loggerFactory.NewLogger("negotiation")
)

// SetLoggerFactory заменяет фабрику логгеров пакета
func SetLoggerFactory(f logging.LoggerFactory) {
	if f == nil {
		return
	}
	loggerFactory = f
	logger = f.NewLogger("negotiation")
}
