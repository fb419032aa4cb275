package capneg

import "github.com/pion/logging"

var (
	loggerFactory logging.LoggerFactory = logging.NewDefaultLoggerFactory()
	logger                              = loggerFactory.NewLogger("capneg")
)

// SetLoggerFactory заменяет фабрику логгеров пакета
func SetLoggerFactory(f logging.LoggerFactory) {
	if f == nil {
		return
	}
	loggerFactory = f
	logger = f.NewLogger("capneg")
}
