package media_sdp

import (
	"fmt"
	"strings"
)

// Биты результата сравнения описаний
const (
	Unchanged                 = 0
	CodecChanged              = 1 << 0
	NetworkChanged            = 1 << 1
	IceRestartDetected        = 1 << 2
	CryptoKeysChanged         = 1 << 3
	NetworkXXXCastChanged     = 1 << 4
	StreamsChanged            = 1 << 5
	CryptoPolicyChanged       = 1 << 6
	ForceStreamReconstruction = 1 << 7
)

type changeReason struct {
	bit   int
	token string
}

var changeReasons = []changeReason{
	{CodecChanged, "CODEC_CHANGED"},
	{NetworkChanged, "NETWORK_CHANGED"},
	{IceRestartDetected, "ICE_RESTART_DETECTED"},
	{CryptoKeysChanged, "CRYPTO_KEYS_CHANGED"},
	{NetworkXXXCastChanged, "NETWORK_XXXCAST_CHANGED"},
	{StreamsChanged, "STREAMS_CHANGED"},
	{CryptoPolicyChanged, "CRYPTO_POLICY_CHANGED"},
	{ForceStreamReconstruction, "FORCE_STREAM_RECONSTRUCTION"},
}

// PrintDifferences переводит маску изменений в список причин через пробел.
// Для пустой маски возвращается "NONE". Неизвестный бит означает рассинхронизацию
// словаря причин с функциями сравнения и приводит к панике.
func PrintDifferences(result int) string {
	var tokens []string
	for _, reason := range changeReasons {
		if result&reason.bit != 0 {
			tokens = append(tokens, reason.token)
			result &^= reason.bit
		}
	}
	if result != 0 {
		panic(fmt.Sprintf("media_sdp: неизвестные биты изменений 0x%x", result))
	}
	if len(tokens) == 0 {
		return "NONE"
	}
	return strings.Join(tokens, " ")
}
