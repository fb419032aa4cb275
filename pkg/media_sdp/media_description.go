package media_sdp

import (
	"strings"

	"github.com/arzzra/media_negotiation/pkg/capneg"
	"github.com/pion/sdp/v3"
)

// Сентинелы IndexOfTransportOwner
const (
	TransportOwnerNotBundled  = -1
	TransportOwnerUnresolved  = -2
	ntpEpochOffset            = 2208988800
	unboundedTime       int64 = -1
)

// CapNegParams параметры согласования возможностей (RFC 5939) описания
type CapNegParams struct {
	CapabilityNegotiationSupported bool
	TcapLinesMerged                bool
	CfgLinesMerged                 bool
}

// TimeWindow интервал действия сессии в Unix времени; -1 означает без границы
type TimeWindow struct {
	Start int64
	Stop  int64
}

// MediaDescription SDP описание сессии: поля уровня сессии, упорядоченный
// список потоков (позиция равна индексу m= строки) и группы BUNDLE
type MediaDescription struct {
	Name       string
	Addr       string
	Ttl        int
	Username   string
	Bandwidth  int
	OriginAddr string
	SessionId  uint64
	SessionVer uint64
	Dir        StreamDir

	Streams []*StreamDescription
	Bundles []*StreamBundle

	Acaps map[uint]Acap
	Tcaps map[uint]string

	IceUfrag string
	IcePwd   string
	IceLite  bool
	RtcpXr   RtcpXrConfig
	Record   RecordState
	Times    []TimeWindow
	Params   CapNegParams

	HaveLimeIk       bool
	SetNortpproxy    bool
	AcceptBundles    bool
	CustomAttributes []sdp.Attribute
}

// NewMediaDescription создает пустое описание для заполнения локальной политикой
func NewMediaDescription(params CapNegParams) *MediaDescription {
	return &MediaDescription{
		Dir:    DirSendRecv,
		Acaps:  make(map[uint]Acap),
		Tcaps:  make(map[uint]string),
		RtcpXr: DefaultRtcpXrConfig(),
		Params: params,
	}
}

// NbStreams количество потоков
func (m *MediaDescription) NbStreams() int {
	return len(m.Streams)
}

// StreamIdx возвращает поток по позиции
func (m *MediaDescription) StreamIdx(idx int) (*StreamDescription, bool) {
	if idx < 0 || idx >= len(m.Streams) {
		return nil, false
	}
	return m.Streams[idx], true
}

func (m *MediaDescription) findIdx(match func(*StreamDescription) bool) int {
	for i, s := range m.Streams {
		if match(s) {
			return i
		}
	}
	return -1
}

func (m *MediaDescription) streamAt(idx int) (*StreamDescription, bool) {
	if idx < 0 {
		return nil, false
	}
	return m.Streams[idx], true
}

// FindIdxStream индекс первого активного потока с протоколом и типом, либо -1
func (m *MediaDescription) FindIdxStream(proto MediaProto, streamType StreamType) int {
	return m.findIdx(func(s *StreamDescription) bool {
		return s.Enabled() && s.Proto() == proto && s.Type == streamType
	})
}

func (m *MediaDescription) FindStream(proto MediaProto, streamType StreamType) (*StreamDescription, bool) {
	return m.streamAt(m.FindIdxStream(proto, streamType))
}

// bestProtoOrder протоколы от наиболее защищенного и функционального
var bestProtoOrder = []MediaProto{
	ProtoUdpTlsRtpSavpf,
	ProtoUdpTlsRtpSavp,
	ProtoRtpSavpf,
	ProtoRtpSavp,
	ProtoRtpAvpf,
	ProtoRtpAvp,
}

// FindIdxBestStream индекс потока типа с наилучшим протоколом, либо -1
func (m *MediaDescription) FindIdxBestStream(streamType StreamType) int {
	for _, proto := range bestProtoOrder {
		if idx := m.FindIdxStream(proto, streamType); idx != -1 {
			return idx
		}
	}
	return -1
}

func (m *MediaDescription) FindBestStream(streamType StreamType) (*StreamDescription, bool) {
	return m.streamAt(m.FindIdxBestStream(streamType))
}

// FindIdxSecureStreamOfType индекс SRTP потока (SAVPF, затем SAVP), либо -1
func (m *MediaDescription) FindIdxSecureStreamOfType(streamType StreamType) int {
	if idx := m.FindIdxStream(ProtoRtpSavpf, streamType); idx != -1 {
		return idx
	}
	return m.FindIdxStream(ProtoRtpSavp, streamType)
}

func (m *MediaDescription) FindSecureStreamOfType(streamType StreamType) (*StreamDescription, bool) {
	return m.streamAt(m.FindIdxSecureStreamOfType(streamType))
}

func (m *MediaDescription) FindIdxStreamWithLabel(label string) int {
	return m.findIdx(func(s *StreamDescription) bool { return s.Label == label })
}

func (m *MediaDescription) FindStreamWithLabel(label string) (*StreamDescription, bool) {
	return m.streamAt(m.FindIdxStreamWithLabel(label))
}

func (m *MediaDescription) FindIdxStreamWithContent(content string) int {
	return m.findIdx(func(s *StreamDescription) bool { return s.Content == content })
}

func (m *MediaDescription) FindStreamWithContent(content string) (*StreamDescription, bool) {
	return m.streamAt(m.FindIdxStreamWithContent(content))
}

// FindIdxStreamWithSdpAttribute ищет поток с нераспознанным атрибутом name;
// пустой value совпадает с любым значением
func (m *MediaDescription) FindIdxStreamWithSdpAttribute(name, value string) int {
	return m.findIdx(func(s *StreamDescription) bool {
		for _, attr := range s.chosen().CustomAttributes {
			if attr.Key == name && (value == "" || attr.Value == value) {
				return true
			}
		}
		return false
	})
}

func (m *MediaDescription) FindStreamWithSdpAttribute(name, value string) (*StreamDescription, bool) {
	return m.streamAt(m.FindIdxStreamWithSdpAttribute(name, value))
}

// NbStreamsOfType количество потоков типа, включая отключенные
func (m *MediaDescription) NbStreamsOfType(streamType StreamType) int {
	n := 0
	for _, s := range m.Streams {
		if s.Type == streamType {
			n++
		}
	}
	return n
}

// NbActiveStreamsOfType количество активных потоков типа
func (m *MediaDescription) NbActiveStreamsOfType(streamType StreamType) int {
	n := 0
	for _, s := range m.Streams {
		if s.Enabled() && s.Type == streamType {
			n++
		}
	}
	return n
}

// ActiveStreamOfType возвращает idx-й активный поток типа
func (m *MediaDescription) ActiveStreamOfType(streamType StreamType, idx int) (*StreamDescription, bool) {
	for _, s := range m.Streams {
		if !s.Enabled() || s.Type != streamType {
			continue
		}
		if idx == 0 {
			return s, true
		}
		idx--
	}
	return nil, false
}

// NbActiveStreams количество активных потоков
func (m *MediaDescription) NbActiveStreams() int {
	n := 0
	for _, s := range m.Streams {
		if s.Enabled() {
			n++
		}
	}
	return n
}

// IsEmpty в описании нет активных потоков
func (m *MediaDescription) IsEmpty() bool {
	return m.NbActiveStreams() == 0
}

// AddNewBundle добавляет группу BUNDLE
func (m *MediaDescription) AddNewBundle(bundle *StreamBundle) {
	m.Bundles = append(m.Bundles, bundle)
}

// LookupMid индекс потока с mid, либо -1
func (m *MediaDescription) LookupMid(mid string) int {
	if mid == "" {
		return -1
	}
	return m.findIdx(func(s *StreamDescription) bool { return s.Mid() == mid })
}

// BundleFromMid группа, содержащая mid
func (m *MediaDescription) BundleFromMid(mid string) (*StreamBundle, bool) {
	for _, b := range m.Bundles {
		if b.HasMid(mid) {
			return b, true
		}
	}
	return nil, false
}

// TransportOwnerIndexes индексы потоков, владеющих транспортом групп
func (m *MediaDescription) TransportOwnerIndexes() []int {
	var out []int
	for _, b := range m.Bundles {
		if idx := m.LookupMid(b.MidOfTransportOwner()); idx != -1 {
			out = append(out, idx)
		}
	}
	return out
}

// IndexOfTransportOwner индекс потока, владеющего транспортом группы потока.
// TransportOwnerNotBundled: у потока нет mid или он не входит в группу;
// TransportOwnerUnresolved: владелец группы не найден среди потоков.
func (m *MediaDescription) IndexOfTransportOwner(s *StreamDescription) int {
	mid := s.Mid()
	if mid == "" {
		return TransportOwnerNotBundled
	}
	bundle, ok := m.BundleFromMid(mid)
	if !ok {
		logger.Warnf("Поток с mid %q не входит ни в одну группу BUNDLE", mid)
		return TransportOwnerNotBundled
	}
	ownerMid := bundle.MidOfTransportOwner()
	idx := m.LookupMid(ownerMid)
	if idx == -1 {
		logger.Warnf("Владелец транспорта %q группы потока %q не найден, поток считается вне группы", ownerMid, mid)
		return TransportOwnerUnresolved
	}
	return idx
}

// IsNullAddress адрес "0.0.0.0" или "::0"
func IsNullAddress(addr string) bool {
	return addr == "0.0.0.0" || addr == "::0"
}

// Address адрес сессии либо адрес первого активного потока
func (m *MediaDescription) Address() string {
	if m.Addr != "" {
		return m.Addr
	}
	for _, s := range m.Streams {
		if s.Enabled() && s.RtpAddr != "" {
			return s.RtpAddr
		}
	}
	return ""
}

// ContainsStreamWithDir есть ли активный поток с направлением
func (m *MediaDescription) ContainsStreamWithDir(dir StreamDir) bool {
	for _, s := range m.Streams {
		if !s.Enabled() {
			continue
		}
		if s.Direction() == dir {
			return true
		}
		// старые телефоны выражали sendonly нулевым адресом без атрибутов
		if s.Direction() == DirSendRecv && dir == DirSendOnly && (IsNullAddress(m.Addr) || IsNullAddress(s.RtpAddr)) {
			return true
		}
	}
	return false
}

// HasDir направление описания в целом
func (m *MediaDescription) HasDir(dir StreamDir) bool {
	switch dir {
	case DirRecvOnly:
		return m.ContainsStreamWithDir(DirRecvOnly) && !(m.ContainsStreamWithDir(DirSendOnly) || m.ContainsStreamWithDir(DirSendRecv))
	case DirSendOnly:
		return m.ContainsStreamWithDir(DirSendOnly) && !(m.ContainsStreamWithDir(DirRecvOnly) || m.ContainsStreamWithDir(DirSendRecv))
	case DirSendRecv:
		return m.ContainsStreamWithDir(DirSendRecv)
	}
	return !m.ContainsStreamWithDir(DirSendOnly) && !m.ContainsStreamWithDir(DirSendRecv) && !m.ContainsStreamWithDir(DirRecvOnly)
}

// SetDir задает направление всем активным потокам
func (m *MediaDescription) SetDir(dir StreamDir) {
	for _, s := range m.Streams {
		if s.Enabled() {
			s.SetDir(dir)
		}
	}
}

// allEnabled true, если предикат выполняется для всех активных потоков;
// для описания без потоков false
func (m *MediaDescription) allEnabled(pred func(*StreamDescription) bool) bool {
	if len(m.Streams) == 0 {
		return false
	}
	for _, s := range m.Streams {
		if s.Enabled() && !pred(s) {
			return false
		}
	}
	return true
}

func (m *MediaDescription) HasAvpf() bool {
	return m.allEnabled((*StreamDescription).HasAvpf)
}

func (m *MediaDescription) HasImplicitAvpf() bool {
	return m.allEnabled((*StreamDescription).HasImplicitAvpf)
}

func (m *MediaDescription) HasDtls() bool {
	return m.allEnabled((*StreamDescription).HasDtls)
}

func (m *MediaDescription) HasZrtp() bool {
	return m.allEnabled((*StreamDescription).HasZrtp)
}

// HasSrtp хотя бы один активный поток использует SRTP
func (m *MediaDescription) HasSrtp() bool {
	for _, s := range m.Streams {
		if s.Enabled() && s.HasSrtp() {
			return true
		}
	}
	return false
}

// HasIpv6 все активные потоки используют IPv6; без адреса потока проверяется адрес сессии
func (m *MediaDescription) HasIpv6() bool {
	return m.allEnabled(func(s *StreamDescription) bool {
		if s.RtpAddr != "" {
			return s.HasIpv6()
		}
		return strings.Contains(m.Addr, ":")
	})
}

// GlobalEqual сравнивает поля уровня сессии
func (m *MediaDescription) GlobalEqual(other *MediaDescription) int {
	result := Unchanged
	if m.Addr != other.Addr {
		result |= NetworkChanged
	}
	if m.Addr != "" && other.Addr != "" && isMulticastAddr(m.Addr) != isMulticastAddr(other.Addr) {
		result |= NetworkXXXCastChanged
	}
	if len(m.Streams) != len(other.Streams) {
		result |= StreamsChanged
	}
	if m.Bandwidth != other.Bandwidth {
		result |= CodecChanged
	}
	// пустые ufrag/pwd другой стороны означают параметры ICE на уровне потоков
	if m.IceUfrag != other.IceUfrag && other.IceUfrag != "" {
		result |= IceRestartDetected
	}
	if m.IcePwd != other.IcePwd && other.IcePwd != "" {
		result |= IceRestartDetected
	}
	return result
}

// compareStreams сравнивает потоки по позиции; пара пропускается, если оба отключены
func (m *MediaDescription) compareStreams(other *MediaDescription, cmp func(a, b *StreamDescription) int) int {
	result := m.GlobalEqual(other)
	for i := 0; i < len(m.Streams) && i < len(other.Streams); i++ {
		a, b := m.Streams[i], other.Streams[i]
		if !a.Enabled() && !b.Enabled() {
			continue
		}
		result |= cmp(a, b)
	}
	metrics.changes(result)
	return result
}

// Equal полное структурное сравнение со всеми конфигурациями
func (m *MediaDescription) Equal(other *MediaDescription) int {
	return m.compareStreams(other, (*StreamDescription).Equal)
}

// CompareToChosenConfiguration сравнение по выбранным конфигурациям обеих сторон
func (m *MediaDescription) CompareToChosenConfiguration(other *MediaDescription) int {
	return m.compareStreams(other, (*StreamDescription).CompareToChosenConfiguration)
}

// CompareToActualConfiguration сравнение выбранных конфигураций с фактическими конфигурациями другой стороны
func (m *MediaDescription) CompareToActualConfiguration(other *MediaDescription) int {
	return m.compareStreams(other, (*StreamDescription).CompareToActualConfiguration)
}

// AddAcap добавляет acap уровня сессии; индекс не должен использоваться ни в одной области
func (m *MediaDescription) AddAcap(idx uint, name, value string) bool {
	if idx == 0 || m.acapIndexInUse(idx) {
		logger.Errorf("Индекс acap %d недопустим или уже используется", idx)
		return false
	}
	if m.Acaps == nil {
		m.Acaps = make(map[uint]Acap)
	}
	m.Acaps[idx] = Acap{Name: name, Value: value}
	return true
}

// AddTcap добавляет tcap уровня сессии
func (m *MediaDescription) AddTcap(idx uint, proto string) bool {
	if idx == 0 || m.tcapIndexInUse(idx) {
		logger.Errorf("Индекс tcap %d недопустим или уже используется", idx)
		return false
	}
	if m.Tcaps == nil {
		m.Tcaps = make(map[uint]string)
	}
	m.Tcaps[idx] = proto
	return true
}

func (m *MediaDescription) acapIndexInUse(idx uint) bool {
	if _, ok := m.Acaps[idx]; ok {
		return true
	}
	for _, s := range m.Streams {
		if _, ok := s.Acaps[idx]; ok {
			return true
		}
	}
	return false
}

func (m *MediaDescription) tcapIndexInUse(idx uint) bool {
	if _, ok := m.Tcaps[idx]; ok {
		return true
	}
	for _, s := range m.Streams {
		if _, ok := s.Tcaps[idx]; ok {
			return true
		}
	}
	return false
}

// AllAcapForStream acap сессии и потока; при совпадении индексов побеждает запись сессии
func (m *MediaDescription) AllAcapForStream(idx int) map[uint]Acap {
	out := make(map[uint]Acap, len(m.Acaps))
	for i, a := range m.Acaps {
		out[i] = a
	}
	s, ok := m.StreamIdx(idx)
	if !ok {
		return out
	}
	for i, a := range s.Acaps {
		if _, exists := out[i]; exists {
			logger.Errorf("acap %d потока %d совпадает по индексу с acap сессии и проигнорирован", i, idx)
			continue
		}
		out[i] = a
	}
	return out
}

// AllTcapForStream tcap сессии и потока; при совпадении индексов побеждает запись сессии
func (m *MediaDescription) AllTcapForStream(idx int) map[uint]string {
	out := make(map[uint]string, len(m.Tcaps))
	for i, t := range m.Tcaps {
		out[i] = t
	}
	s, ok := m.StreamIdx(idx)
	if !ok {
		return out
	}
	for i, t := range s.Tcaps {
		if _, exists := out[i]; exists {
			logger.Errorf("tcap %d потока %d совпадает по индексу с tcap сессии и проигнорирован", i, idx)
			continue
		}
		out[i] = t
	}
	return out
}

// FreeAcapIdx наименьший индекс acap, не занятый ни в сессии, ни в потоках
func (m *MediaDescription) FreeAcapIdx() uint {
	used := capneg.SortedKeys(m.Acaps)
	for _, s := range m.Streams {
		used = append(used, capneg.SortedKeys(s.Acaps)...)
	}
	return capneg.FreeIdx(used)
}

// FreeTcapIdx наименьший индекс tcap, не занятый ни в сессии, ни в потоках
func (m *MediaDescription) FreeTcapIdx() uint {
	used := capneg.SortedKeys(m.Tcaps)
	for _, s := range m.Streams {
		used = append(used, capneg.SortedKeys(s.Tcaps)...)
	}
	return capneg.FreeIdx(used)
}

// CreatePotentialConfigurationsForStream строит потенциальные конфигурации потока
// по объединенным acap/tcap сессии и потока
func (m *MediaDescription) CreatePotentialConfigurationsForStream(streamIdx int, deleteSessionAttributes, deleteMediaAttributes bool, encryptions []MediaEncryption) []uint {
	s, ok := m.StreamIdx(streamIdx)
	if !ok {
		logger.Errorf("Поток %d не найден", streamIdx)
		return nil
	}
	acaps := m.AllAcapForStream(streamIdx)
	tcaps := m.AllTcapForStream(streamIdx)
	return s.CreatePotentialConfiguration(acaps, tcaps, acapGroups(acaps), uniqueEncryptions(encryptions), PotentialCfgOptions{
		DeleteSessionAttributes: deleteSessionAttributes,
		DeleteMediaAttributes:   deleteMediaAttributes,
		MergeCfgLines:           m.Params.CfgLinesMerged,
	})
}

// Clone возвращает глубокую копию описания
func (m *MediaDescription) Clone() *MediaDescription {
	if m == nil {
		return nil
	}
	out := *m
	out.Streams = make([]*StreamDescription, 0, len(m.Streams))
	for _, s := range m.Streams {
		out.Streams = append(out.Streams, s.Clone())
	}
	out.Bundles = make([]*StreamBundle, 0, len(m.Bundles))
	for _, b := range m.Bundles {
		out.Bundles = append(out.Bundles, b.Clone())
	}
	out.Acaps = make(map[uint]Acap, len(m.Acaps))
	for i, a := range m.Acaps {
		out.Acaps[i] = a
	}
	out.Tcaps = make(map[uint]string, len(m.Tcaps))
	for i, t := range m.Tcaps {
		out.Tcaps[i] = t
	}
	out.Times = append([]TimeWindow(nil), m.Times...)
	out.CustomAttributes = append([]sdp.Attribute(nil), m.CustomAttributes...)
	return &out
}
