package media_sdp

import (
	"strings"
)

// MediaProto транспортный протокол медиа потока (m= строка)
type MediaProto int

const (
	ProtoRtpAvp MediaProto = iota
	ProtoRtpSavp
	ProtoRtpAvpf
	ProtoRtpSavpf
	ProtoUdpTlsRtpSavp
	ProtoUdpTlsRtpSavpf
	ProtoOther
)

var protoNames = map[MediaProto]string{
	ProtoRtpAvp:         "RTP/AVP",
	ProtoRtpSavp:        "RTP/SAVP",
	ProtoRtpAvpf:        "RTP/AVPF",
	ProtoRtpSavpf:       "RTP/SAVPF",
	ProtoUdpTlsRtpSavp:  "UDP/TLS/RTP/SAVP",
	ProtoUdpTlsRtpSavpf: "UDP/TLS/RTP/SAVPF",
}

// String возвращает каноническое имя протокола; для ProtoOther - "unknown"
func (p MediaProto) String() string {
	if name, ok := protoNames[p]; ok {
		return name
	}
	return "unknown"
}

// ProtoFromString сопоставляет строку протоколу без учета регистра.
// Для неизвестной строки возвращается ProtoOther.
func ProtoFromString(s string) MediaProto {
	for proto, name := range protoNames {
		if strings.EqualFold(name, s) {
			return proto
		}
	}
	return ProtoOther
}

// StreamDir направление медиа потока
type StreamDir int

const (
	DirSendRecv StreamDir = iota
	DirSendOnly
	DirRecvOnly
	DirInactive
)

func (d StreamDir) String() string {
	switch d {
	case DirSendOnly:
		return "sendonly"
	case DirRecvOnly:
		return "recvonly"
	case DirInactive:
		return "inactive"
	default:
		return "sendrecv"
	}
}

// StreamDirFromString разбирает атрибут направления
func StreamDirFromString(s string) (StreamDir, bool) {
	switch s {
	case "sendrecv":
		return DirSendRecv, true
	case "sendonly":
		return DirSendOnly, true
	case "recvonly":
		return DirRecvOnly, true
	case "inactive":
		return DirInactive, true
	}
	return DirSendRecv, false
}

// StreamType тип медиа потока
type StreamType int

const (
	StreamAudio StreamType = iota
	StreamVideo
	StreamText
	StreamOther
)

func (t StreamType) String() string {
	switch t {
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	case StreamText:
		return "text"
	default:
		return "other"
	}
}

// StreamTypeFromString разбирает тип из m= строки без учета регистра
func StreamTypeFromString(s string) StreamType {
	switch strings.ToLower(s) {
	case "audio":
		return StreamAudio
	case "video":
		return StreamVideo
	case "text":
		return StreamText
	}
	return StreamOther
}

// DtlsRole роль DTLS рукопожатия
type DtlsRole int

const (
	DtlsRoleInvalid DtlsRole = iota
	DtlsRoleIsServer
	DtlsRoleIsClient
	DtlsRoleUnset
)

func (r DtlsRole) String() string {
	switch r {
	case DtlsRoleIsServer:
		return "server"
	case DtlsRoleIsClient:
		return "client"
	case DtlsRoleUnset:
		return "unset"
	default:
		return "invalid"
	}
}

// MediaEncryption вид шифрования медиа
type MediaEncryption int

const (
	EncryptionNone MediaEncryption = iota
	EncryptionSRTP
	EncryptionZRTP
	EncryptionDTLS
)

func (e MediaEncryption) String() string {
	switch e {
	case EncryptionSRTP:
		return "srtp"
	case EncryptionZRTP:
		return "zrtp"
	case EncryptionDTLS:
		return "dtls"
	default:
		return "none"
	}
}

// MediaEncryptionFromString разбирает имя вида шифрования
func MediaEncryptionFromString(s string) (MediaEncryption, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return EncryptionNone, true
	case "srtp":
		return EncryptionSRTP, true
	case "zrtp":
		return EncryptionZRTP, true
	case "dtls", "dtls-srtp":
		return EncryptionDTLS, true
	}
	return EncryptionNone, false
}

// MulticastRole роль в multicast сессии
type MulticastRole int

const (
	MulticastInactive MulticastRole = iota
	MulticastSender
	MulticastReceiver
)

// RecordState состояние атрибута a=record
type RecordState int

const (
	RecordStateUnset RecordState = iota
	RecordStateOn
	RecordStateOff
	RecordStatePaused
)

func (r RecordState) String() string {
	switch r {
	case RecordStateOn:
		return "on"
	case RecordStateOff:
		return "off"
	case RecordStatePaused:
		return "paused"
	default:
		return ""
	}
}

// RecordStateFromString разбирает значение a=record
func RecordStateFromString(s string) RecordState {
	switch strings.ToLower(s) {
	case "on":
		return RecordStateOn
	case "off":
		return RecordStateOff
	case "paused":
		return RecordStatePaused
	}
	return RecordStateUnset
}
