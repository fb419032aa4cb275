package media_sdp

import (
	"net"
	"strings"

	"github.com/arzzra/media_negotiation/pkg/capneg"
	"github.com/pion/ice/v4"
)

// ActualConfigurationIndex индекс фактической конфигурации потока.
// Индексы от 1 принадлежат потенциальным конфигурациям.
const ActualConfigurationIndex uint = 0

// Acap атрибутная возможность: имя и значение атрибута
type Acap struct {
	Name  string
	Value string
}

// StreamDescription один логический медиа поток SDP описания
type StreamDescription struct {
	Type      StreamType
	TypeOther string
	Name      string

	RtpAddr       string
	RtcpAddr      string
	RtpPort       int
	RtcpPort      int
	Bandwidth     int
	MulticastRole MulticastRole
	Label         string
	Content       string

	// Cfgs всегда содержит запись ActualConfigurationIndex
	Cfgs  map[uint]*StreamConfiguration
	Acaps map[uint]Acap
	Tcaps map[uint]string

	// AlreadyAssignedPayloads номера кодеков, согласованные в прошлых раундах
	AlreadyAssignedPayloads []*PayloadType

	IceCandidates       []IceCandidate
	IceRemoteCandidates []IceRemoteCandidate
	IceUfrag            string
	IcePwd              string
	IceMismatch         bool

	SupportedEncryption []MediaEncryption

	cfgIndex uint
}

// NewStreamDescription создает поток с пустой фактической конфигурацией
func NewStreamDescription() *StreamDescription {
	return &StreamDescription{
		Type:     StreamAudio,
		Cfgs:     map[uint]*StreamConfiguration{ActualConfigurationIndex: NewStreamConfiguration()},
		Acaps:    make(map[uint]Acap),
		Tcaps:    make(map[uint]string),
		cfgIndex: ActualConfigurationIndex,
	}
}

// Configuration возвращает конфигурацию по индексу
func (s *StreamDescription) Configuration(idx uint) (*StreamConfiguration, bool) {
	cfg, ok := s.Cfgs[idx]
	return cfg, ok && cfg != nil
}

// ActualConfiguration возвращает фактическую конфигурацию
func (s *StreamDescription) ActualConfiguration() (*StreamConfiguration, bool) {
	return s.Configuration(ActualConfigurationIndex)
}

// ChosenConfiguration возвращает конфигурацию, выбранную в раунде offer/answer
func (s *StreamDescription) ChosenConfiguration() (*StreamConfiguration, bool) {
	return s.Configuration(s.cfgIndex)
}

func (s *StreamDescription) ChosenConfigurationIndex() uint {
	return s.cfgIndex
}

// SetChosenConfigurationIndex выбирает конфигурацию потока.
// Индекс должен ссылаться на существующую запись Cfgs.
func (s *StreamDescription) SetChosenConfigurationIndex(idx uint) error {
	if _, ok := s.Configuration(idx); !ok {
		return NewSDPError(ErrorCodeInvalidConfigurationIndex, "конфигурация с индексом %d не найдена", idx)
	}
	s.cfgIndex = idx
	return nil
}

// chosen возвращает выбранную конфигурацию или новую пустую
func (s *StreamDescription) chosen() *StreamConfiguration {
	if cfg, ok := s.ChosenConfiguration(); ok {
		return cfg
	}
	return NewStreamConfiguration()
}

func (s *StreamDescription) actual() *StreamConfiguration {
	if cfg, ok := s.ActualConfiguration(); ok {
		return cfg
	}
	return NewStreamConfiguration()
}

// actualForUpdate возвращает фактическую конфигурацию, создавая ее при отсутствии
func (s *StreamDescription) actualForUpdate() *StreamConfiguration {
	if cfg, ok := s.ActualConfiguration(); ok {
		return cfg
	}
	if s.Cfgs == nil {
		s.Cfgs = make(map[uint]*StreamConfiguration)
	}
	cfg := NewStreamConfiguration()
	s.Cfgs[ActualConfigurationIndex] = cfg
	return cfg
}

func (s *StreamDescription) Proto() MediaProto { return s.chosen().Proto }
func (s *StreamDescription) ProtoAsString() string { return s.chosen().ProtoAsString() }
func (s *StreamDescription) Direction() StreamDir { return s.chosen().Dir }
func (s *StreamDescription) Payloads() []*PayloadType { return s.chosen().Payloads }
func (s *StreamDescription) Mid() string { return s.chosen().Mid }
func (s *StreamDescription) BundleOnly() bool { return s.chosen().BundleOnly }
func (s *StreamDescription) RtcpMux() bool { return s.chosen().RtcpMux }
func (s *StreamDescription) Crypto() []SrtpCrypto { return s.chosen().Crypto }
func (s *StreamDescription) DtlsRole() DtlsRole { return s.chosen().DtlsRole }
func (s *StreamDescription) DtlsFingerprint() string { return s.chosen().DtlsFingerprint }
func (s *StreamDescription) ZrtpHash() string { return s.chosen().ZrtpHash }
func (s *StreamDescription) RtcpXr() RtcpXrConfig { return s.chosen().RtcpXr }
func (s *StreamDescription) Ptime() int { return s.chosen().Ptime }
func (s *StreamDescription) ConferenceSsrc() uint32 { return s.chosen().ConferenceSsrc }
func (s *StreamDescription) MidRtpExtHeaderId() int { return s.chosen().MidRtpExtHeaderId }

// TypeAsString имя типа потока; для StreamOther исходная строка
func (s *StreamDescription) TypeAsString() string {
	if s.Type == StreamOther {
		return s.TypeOther
	}
	return s.Type.String()
}

// Enabled поток активен: ненулевой порт либо bundle-only поток не inactive
func (s *StreamDescription) Enabled() bool {
	cfg := s.chosen()
	return s.RtpPort > 0 || (cfg.BundleOnly && cfg.Dir != DirInactive)
}

// Disable обнуляет порт и выводит поток из BUNDLE во всех конфигурациях
func (s *StreamDescription) Disable() {
	s.RtpPort = 0
	for _, cfg := range s.Cfgs {
		cfg.Disable()
	}
}

func (s *StreamDescription) HasAvpf() bool { return s.chosen().HasAvpf() }
func (s *StreamDescription) HasImplicitAvpf() bool { return s.chosen().HasImplicitAvpf() }
func (s *StreamDescription) HasSrtp() bool { return s.chosen().HasSrtp() }
func (s *StreamDescription) HasDtls() bool { return s.chosen().HasDtls() }
func (s *StreamDescription) HasZrtp() bool { return s.chosen().HasZrtp() }
func (s *StreamDescription) HasLimeIk() bool { return s.chosen().HasLimeIk() }

// HasIpv6 адрес RTP содержит ':'
func (s *StreamDescription) HasIpv6() bool {
	return strings.Contains(s.RtpAddr, ":")
}

// SetDir и прочие мутаторы действуют на выбранную конфигурацию
func (s *StreamDescription) SetDir(dir StreamDir) { s.chosenForUpdate().SetDir(dir) }

func (s *StreamDescription) SetPtime(ptime, maxPtime int) {
	s.chosenForUpdate().SetPtime(ptime, maxPtime)
}

func (s *StreamDescription) SetCrypto(crypto []SrtpCrypto) { s.chosenForUpdate().SetCrypto(crypto) }

func (s *StreamDescription) SetDtls(role DtlsRole, fingerprint string) {
	s.chosenForUpdate().SetDtls(role, fingerprint)
}

func (s *StreamDescription) SetZrtpHash(hash string) { s.chosenForUpdate().SetZrtpHash(hash) }

func (s *StreamDescription) SetBundleOnly(bundleOnly bool) {
	s.chosenForUpdate().SetBundleOnly(bundleOnly)
}

func (s *StreamDescription) chosenForUpdate() *StreamConfiguration {
	if cfg, ok := s.ChosenConfiguration(); ok {
		return cfg
	}
	s.cfgIndex = ActualConfigurationIndex
	return s.actualForUpdate()
}

// AddAcap добавляет атрибутную возможность потока; индекс 0 и повторы отклоняются
func (s *StreamDescription) AddAcap(idx uint, name, value string) bool {
	if idx == 0 {
		return false
	}
	if s.Acaps == nil {
		s.Acaps = make(map[uint]Acap)
	}
	if _, exists := s.Acaps[idx]; exists {
		logger.Errorf("acap с индексом %d уже существует в потоке", idx)
		return false
	}
	s.Acaps[idx] = Acap{Name: name, Value: value}
	return true
}

// AddTcap добавляет транспортную возможность потока
func (s *StreamDescription) AddTcap(idx uint, proto string) bool {
	if idx == 0 {
		return false
	}
	if s.Tcaps == nil {
		s.Tcaps = make(map[uint]string)
	}
	if _, exists := s.Tcaps[idx]; exists {
		logger.Errorf("tcap с индексом %d уже существует в потоке", idx)
		return false
	}
	s.Tcaps[idx] = proto
	return true
}

// FreeCfgIdx наименьший свободный индекс потенциальной конфигурации
func (s *StreamDescription) FreeCfgIdx() uint {
	return capneg.FreeIdx(capneg.SortedKeys(s.Cfgs))
}

func isMulticastAddr(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsMulticast()
}

// globalEqual сравнивает поля потока вне конфигураций
func (s *StreamDescription) globalEqual(other *StreamDescription) int {
	result := Unchanged
	if s.Type != other.Type || (s.Type == StreamOther && s.TypeOther != other.TypeOther) {
		result |= CodecChanged
	}
	if s.RtpAddr != other.RtpAddr {
		result |= NetworkChanged
	}
	if s.RtpAddr != "" && other.RtpAddr != "" && isMulticastAddr(s.RtpAddr) != isMulticastAddr(other.RtpAddr) {
		result |= NetworkXXXCastChanged
	}
	if s.MulticastRole != other.MulticastRole {
		result |= NetworkXXXCastChanged
	}
	if s.RtpPort != other.RtpPort {
		if s.RtpPort == 0 || other.RtpPort == 0 {
			result |= CodecChanged
		} else {
			result |= NetworkChanged
		}
	}
	if s.RtcpAddr != other.RtcpAddr || s.RtcpPort != other.RtcpPort {
		result |= NetworkChanged
	}
	if s.Bandwidth != other.Bandwidth {
		result |= CodecChanged
	}
	if s.Content != other.Content {
		result |= CodecChanged
	}

	// пустое значение у другой стороны означает параметры на уровне сессии
	if s.IceUfrag != other.IceUfrag && other.IceUfrag != "" {
		result |= IceRestartDetected
	}
	if s.IcePwd != other.IcePwd && other.IcePwd != "" {
		result |= IceRestartDetected
	}
	return result
}

// Equal сравнивает все конфигурации попарно в порядке индексов
func (s *StreamDescription) Equal(other *StreamDescription) int {
	result := s.globalEqual(other)
	mine := capneg.SortedKeys(s.Cfgs)
	theirs := capneg.SortedKeys(other.Cfgs)
	if len(mine) != len(theirs) {
		result |= CodecChanged
	}
	for i := 0; i < len(mine) && i < len(theirs); i++ {
		result |= s.Cfgs[mine[i]].Equal(other.Cfgs[theirs[i]])
	}
	return result
}

// CompareToChosenConfiguration сравнивает выбранные конфигурации обеих сторон
func (s *StreamDescription) CompareToChosenConfiguration(other *StreamDescription) int {
	return s.globalEqual(other) | s.chosen().Equal(other.chosen())
}

// CompareToActualConfiguration сравнивает выбранную конфигурацию с фактической конфигурацией другой стороны
func (s *StreamDescription) CompareToActualConfiguration(other *StreamDescription) int {
	return s.globalEqual(other) | s.chosen().Equal(other.actual())
}

// Clone возвращает глубокую копию потока
func (s *StreamDescription) Clone() *StreamDescription {
	if s == nil {
		return nil
	}
	out := *s
	out.Cfgs = make(map[uint]*StreamConfiguration, len(s.Cfgs))
	for idx, cfg := range s.Cfgs {
		out.Cfgs[idx] = cfg.Clone()
	}
	out.Acaps = make(map[uint]Acap, len(s.Acaps))
	for idx, a := range s.Acaps {
		out.Acaps[idx] = a
	}
	out.Tcaps = make(map[uint]string, len(s.Tcaps))
	for idx, t := range s.Tcaps {
		out.Tcaps[idx] = t
	}
	out.AlreadyAssignedPayloads = clonePayloads(s.AlreadyAssignedPayloads)
	out.IceCandidates = append([]IceCandidate(nil), s.IceCandidates...)
	for i := range out.IceCandidates {
		out.IceCandidates[i].Extensions = append([]ice.CandidateExtension(nil), out.IceCandidates[i].Extensions...)
	}
	out.IceRemoteCandidates = append([]IceRemoteCandidate(nil), s.IceRemoteCandidates...)
	out.SupportedEncryption = append([]MediaEncryption(nil), s.SupportedEncryption...)
	return &out
}
