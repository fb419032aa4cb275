package media_sdp

import "github.com/pion/logging"

var (
	loggerFactory logging.LoggerFactory = logging.NewDefaultLoggerFactory()
	logger                              = loggerFactory.NewLogger("media_sdp")
)

// SetLoggerFactory заменяет фабрику логгеров пакета.
// Вызывается до начала разбора описаний, синхронизации нет.
func SetLoggerFactory(f logging.LoggerFactory) {
	if f == nil {
		return
	}
	loggerFactory = f
	logger = f.NewLogger("media_sdp")
}
