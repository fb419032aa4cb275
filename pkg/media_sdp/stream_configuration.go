package media_sdp

import (
	"slices"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// StreamConfiguration одна самосогласованная конфигурация медиа потока:
// протокол, направление, кодеки, параметры безопасности и BUNDLE.
type StreamConfiguration struct {
	Proto      MediaProto
	OtherProto string // значение протокола для ProtoOther как есть
	Dir        StreamDir
	Payloads   []*PayloadType
	// Formats форматы m= строки протокола без RTP (SCTP, UDPTL), хранятся как есть
	Formats    []string
	Ptime      int
	MaxPtime   int
	MaxRate    int

	Crypto          []SrtpCrypto
	DtlsRole        DtlsRole
	DtlsFingerprint string
	ZrtpHash        string
	HaveZrtpHash    bool
	HaveLimeIk      bool

	Mid                      string
	BundleOnly               bool
	RtcpMux                  bool
	MidRtpExtHeaderId        int
	MixerToClientExtensionId int
	ClientToMixerExtensionId int
	FrameMarkingExtensionId  int

	RtcpFb         RtcpFb
	ImplicitRtcpFb bool
	RtcpXr         RtcpXrConfig
	ConferenceSsrc uint32
	RtcpCname      string

	Ttl   int
	Index uint
	// AcapIndexes наборы индексов acap по альтернативам, из которых построена конфигурация
	AcapIndexes             [][]uint
	TcapIndex               uint
	DeleteMediaAttributes   bool
	DeleteSessionAttributes bool

	// CustomAttributes атрибуты потока, не распознанные при разборе
	CustomAttributes []sdp.Attribute
}

// NewStreamConfiguration создает пустую конфигурацию RTP/AVP sendrecv
func NewStreamConfiguration() *StreamConfiguration {
	return &StreamConfiguration{
		Proto:    ProtoRtpAvp,
		Dir:      DirSendRecv,
		DtlsRole: DtlsRoleInvalid,
		RtcpXr:   DefaultRtcpXrConfig(),
	}
}

// ProtoAsString возвращает строку протокола m= строки
func (c *StreamConfiguration) ProtoAsString() string {
	if c.Proto == ProtoOther {
		return c.OtherProto
	}
	return c.Proto.String()
}

// CarriesRtp протокол переносит RTP, и форматы m= строки являются номерами кодеков
func (c *StreamConfiguration) CarriesRtp() bool {
	if c.Proto != ProtoOther {
		return true
	}
	return slices.Contains(strings.Split(strings.ToUpper(c.OtherProto), "/"), "RTP")
}

// SetProtoFromString устанавливает протокол; неизвестное значение сохраняется как есть
func (c *StreamConfiguration) SetProtoFromString(s string) {
	c.Proto = ProtoFromString(s)
	if c.Proto == ProtoOther {
		c.OtherProto = s
	} else {
		c.OtherProto = ""
	}
}

func (c *StreamConfiguration) sameProto(other *StreamConfiguration) bool {
	if c.Proto != other.Proto {
		return false
	}
	return c.Proto != ProtoOther || strings.EqualFold(c.OtherProto, other.OtherProto)
}

// Equal возвращает маску различий с другой конфигурацией
func (c *StreamConfiguration) Equal(other *StreamConfiguration) int {
	result := Unchanged

	// смена протокола требует перезапуска потока, поэтому CODEC_CHANGED
	if !c.sameProto(other) {
		result |= CodecChanged
	}
	for i := 0; i < len(c.Crypto) && i < len(other.Crypto); i++ {
		if !c.Crypto[i].samePolicy(other.Crypto[i]) {
			result |= CryptoPolicyChanged
		}
		if c.Crypto[i].MasterKey != other.Crypto[i].MasterKey {
			result |= CryptoKeysChanged
		}
	}
	if len(c.Crypto) != len(other.Crypto) {
		result |= CryptoPolicyChanged | CryptoKeysChanged
	}

	if !isSamePayloadList(c.Payloads, other.Payloads) || !slices.Equal(c.Formats, other.Formats) {
		result |= CodecChanged
	}
	if c.Ptime != other.Ptime {
		result |= CodecChanged
	}
	if c.Dir != other.Dir {
		result |= CodecChanged
	}

	if c.DtlsRole != other.DtlsRole || c.DtlsFingerprint != other.DtlsFingerprint {
		result |= CryptoKeysChanged
	}
	if c.HaveZrtpHash != other.HaveZrtpHash || c.ZrtpHash != other.ZrtpHash {
		result |= CryptoKeysChanged
	}

	if c.RtcpMux != other.RtcpMux || c.Mid != other.Mid || c.BundleOnly != other.BundleOnly {
		result |= NetworkChanged
	}

	if c.RtcpFb != other.RtcpFb || c.ImplicitRtcpFb != other.ImplicitRtcpFb ||
		!sameRtcpFeedback(c.Payloads, other.Payloads) || !c.RtcpXr.Equal(other.RtcpXr) {
		result |= CodecChanged
	}
	return result
}

// HasAvpf протокол с обратной связью (AVPF)
func (c *StreamConfiguration) HasAvpf() bool {
	switch c.Proto {
	case ProtoRtpAvpf, ProtoRtpSavpf, ProtoUdpTlsRtpSavpf:
		return true
	}
	return false
}

// HasImplicitAvpf rtcp-fb встретился при протоколе без AVPF
func (c *StreamConfiguration) HasImplicitAvpf() bool {
	return c.ImplicitRtcpFb
}

// HasSrtp протокол SRTP с ключами в SDP
func (c *StreamConfiguration) HasSrtp() bool {
	switch c.Proto {
	case ProtoRtpSavp, ProtoRtpSavpf:
		return true
	}
	return false
}

// HasDtls протокол DTLS-SRTP
func (c *StreamConfiguration) HasDtls() bool {
	switch c.Proto {
	case ProtoUdpTlsRtpSavp, ProtoUdpTlsRtpSavpf:
		return true
	}
	return false
}

func (c *StreamConfiguration) HasZrtp() bool {
	return c.HaveZrtpHash
}

func (c *StreamConfiguration) HasZrtpHash() bool {
	return c.HaveZrtpHash
}

func (c *StreamConfiguration) HasLimeIk() bool {
	return c.HaveLimeIk
}

// Encryption вид шифрования, который подразумевает конфигурация
func (c *StreamConfiguration) Encryption() MediaEncryption {
	return configurationEncryption(c)
}

// Disable убирает параметры BUNDLE; порт принадлежит StreamDescription
func (c *StreamConfiguration) Disable() {
	c.Mid = ""
	c.BundleOnly = false
}

// EnableAvpfForStream включает RTCP feedback для всех кодеков
func (c *StreamConfiguration) EnableAvpfForStream() {
	for _, pt := range c.Payloads {
		pt.Flags |= PayloadTypeRtcpFeedbackEnabled
	}
}

// DisableAvpfForStream выключает RTCP feedback для всех кодеков
func (c *StreamConfiguration) DisableAvpfForStream() {
	for _, pt := range c.Payloads {
		pt.Flags &^= PayloadTypeRtcpFeedbackEnabled
	}
}

// MergeAcaps добавляет наборы acap, пропуская уже имеющиеся
func (c *StreamConfiguration) MergeAcaps(acaps [][]uint) {
	for _, set := range acaps {
		if containsAcapSet(c.AcapIndexes, set) {
			continue
		}
		c.AcapIndexes = append(c.AcapIndexes, append([]uint(nil), set...))
	}
}

func containsAcapSet(sets [][]uint, set []uint) bool {
	for _, s := range sets {
		if len(s) != len(set) {
			continue
		}
		same := true
		for i := range s {
			if s[i] != set[i] {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

// SdpString тело строки acfg/pcfg: "a=[-m:|-s:|-ms:]<наборы acap> t=<tcap>"
func (c *StreamConfiguration) SdpString() string {
	var sets []string
	for _, set := range c.AcapIndexes {
		if len(set) == 0 {
			continue
		}
		idx := make([]string, 0, len(set))
		for _, a := range set {
			idx = append(idx, strconv.FormatUint(uint64(a), 10))
		}
		sets = append(sets, strings.Join(idx, ","))
	}

	var del string
	switch {
	case c.DeleteMediaAttributes && c.DeleteSessionAttributes:
		del = "-ms:"
	case c.DeleteSessionAttributes:
		del = "-s:"
	case c.DeleteMediaAttributes:
		del = "-m:"
	}

	var parts []string
	if len(sets) > 0 {
		parts = append(parts, "a="+del+strings.Join(sets, "|"))
	}
	if c.TcapIndex != 0 {
		parts = append(parts, "t="+strconv.FormatUint(uint64(c.TcapIndex), 10))
	}
	return strings.Join(parts, " ")
}

// Validate проверяет согласованность протокола и параметров безопасности
func (c *StreamConfiguration) Validate() error {
	if len(c.Crypto) > 0 && !c.HasSrtp() {
		return NewSDPError(ErrorCodeInvalidCrypto, "строки crypto допустимы только для SRTP, протокол %s", c.ProtoAsString())
	}
	if c.DtlsFingerprint != "" && !c.HasDtls() {
		return NewSDPError(ErrorCodeInvalidFingerprint, "отпечаток DTLS допустим только для UDP/TLS, протокол %s", c.ProtoAsString())
	}
	return nil
}

// SetDir устанавливает направление
func (c *StreamConfiguration) SetDir(dir StreamDir) {
	c.Dir = dir
}

// SetPtime устанавливает ptime и maxptime
func (c *StreamConfiguration) SetPtime(ptime, maxPtime int) {
	c.Ptime = ptime
	c.MaxPtime = maxPtime
}

// SetCrypto заменяет строки crypto копией списка
func (c *StreamConfiguration) SetCrypto(crypto []SrtpCrypto) {
	c.Crypto = cloneCrypto(crypto)
}

// SetDtls устанавливает роль и отпечаток DTLS
func (c *StreamConfiguration) SetDtls(role DtlsRole, fingerprint string) {
	c.DtlsRole = role
	c.DtlsFingerprint = fingerprint
}

// SetZrtpHash устанавливает zrtp-hash; пустое значение снимает признак
func (c *StreamConfiguration) SetZrtpHash(hash string) {
	c.ZrtpHash = hash
	c.HaveZrtpHash = hash != ""
}

func (c *StreamConfiguration) SetBundleOnly(bundleOnly bool) {
	c.BundleOnly = bundleOnly
}

// clearSecurity сбрасывает все параметры безопасности
func (c *StreamConfiguration) clearSecurity() {
	c.Crypto = nil
	c.DtlsRole = DtlsRoleInvalid
	c.DtlsFingerprint = ""
	c.ZrtpHash = ""
	c.HaveZrtpHash = false
}

// Clone возвращает глубокую копию
func (c *StreamConfiguration) Clone() *StreamConfiguration {
	if c == nil {
		return nil
	}
	out := *c
	out.Payloads = clonePayloads(c.Payloads)
	out.Crypto = cloneCrypto(c.Crypto)
	if c.Formats != nil {
		out.Formats = append([]string(nil), c.Formats...)
	}
	if c.AcapIndexes != nil {
		out.AcapIndexes = make([][]uint, 0, len(c.AcapIndexes))
		for _, set := range c.AcapIndexes {
			out.AcapIndexes = append(out.AcapIndexes, append([]uint(nil), set...))
		}
	}
	if c.CustomAttributes != nil {
		out.CustomAttributes = append([]sdp.Attribute(nil), c.CustomAttributes...)
	}
	return &out
}

func cloneCrypto(list []SrtpCrypto) []SrtpCrypto {
	if list == nil {
		return nil
	}
	out := make([]SrtpCrypto, 0, len(list))
	for _, c := range list {
		out = append(out, c.clone())
	}
	return out
}
