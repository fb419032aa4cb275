package media_sdp

import (
	"strconv"
	"strings"

	"github.com/arzzra/media_negotiation/pkg/capneg"
	"github.com/pion/sdp/v3"
)

// recognizedSessionAttributes атрибуты сессии, которые разбираются в поля описания.
// setup и fingerprint сохраняются в CustomAttributes, так как служат
// значениями по умолчанию для DTLS потоков.
var recognizedSessionAttributes = map[string]struct{}{
	"sendrecv": {}, "sendonly": {}, "recvonly": {}, "inactive": {},
	"ice-ufrag": {}, "ice-pwd": {}, "ice-lite": {},
	"rtcp-xr": {}, "Ik": {}, "lime-Ik": {}, "record": {}, "group": {},
	"nortpproxy": {}, "acap": {}, "tcap": {},
}

// ParseOption настраивает описание перед разбором потоков
type ParseOption func(*MediaDescription)

// WithCfgLinesMerged объединять строки конфигураций при локальном построении
func WithCfgLinesMerged(merged bool) ParseOption {
	return func(m *MediaDescription) { m.Params.CfgLinesMerged = merged }
}

// WithAcceptBundles принимать группы BUNDLE удаленной стороны
func WithAcceptBundles(accept bool) ParseOption {
	return func(m *MediaDescription) { m.AcceptBundles = accept }
}

// ParseMediaDescription разбирает SDP текст в описание сессии
func ParseMediaDescription(blob []byte, opts ...ParseOption) (*MediaDescription, error) {
	text := string(blob)
	if !strings.HasSuffix(text, "\n") {
		text += "\r\n"
	}
	sd := &sdp.SessionDescription{}
	if err := sd.UnmarshalString(text); err != nil {
		metrics.parsed(parseResultError)
		return nil, WrapSDPError(ErrorCodeSDPParsing, "", err, "не удалось разобрать SDP")
	}
	metrics.parsed(parseResultOK)
	return FromSessionDescription(sd, opts...), nil
}

// FromSessionDescription строит описание по разобранному pion/sdp дереву.
// Согласование возможностей считается поддержанным, если в SDP есть хотя бы
// один атрибут acap, tcap, acfg или pcfg.
func FromSessionDescription(sd *sdp.SessionDescription, opts ...ParseOption) *MediaDescription {
	m := NewMediaDescription(CapNegParams{})
	for _, opt := range opts {
		opt(m)
	}
	m.Name = string(sd.SessionName)
	m.Username = sd.Origin.Username
	m.SessionId = sd.Origin.SessionID
	m.SessionVer = sd.Origin.SessionVersion
	m.OriginAddr = sd.Origin.UnicastAddress
	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		m.Addr, m.Ttl = splitConnectionAddress(sd.ConnectionInformation.Address)
	}
	for _, bw := range sd.Bandwidth {
		if bw.Type == "AS" {
			m.Bandwidth = int(bw.Bandwidth)
		}
	}
	for _, td := range sd.TimeDescriptions {
		m.Times = append(m.Times, TimeWindow{
			Start: fromNtpTime(td.Timing.StartTime),
			Stop:  fromNtpTime(td.Timing.StopTime),
		})
	}

	for _, attr := range sd.Attributes {
		m.applySessionAttribute(attr)
	}

	graph := capneg.FromSessionDescription(sd)
	if !graph.Empty() {
		m.Params.CapabilityNegotiationSupported = true
		for _, a := range graph.GlobalAcap() {
			m.Acaps[a.Index] = Acap{Name: a.Name, Value: a.Value}
		}
		for _, t := range graph.GlobalTcap() {
			m.Tcaps[t.Index] = t.Value
		}
		m.Params.TcapLinesMerged = hasMergedTcapLines(sd)
	}

	for i, md := range sd.MediaDescriptions {
		idx := uint(i)
		s := NewStreamDescription()
		s.FillFromSdp(m, sd.Attributes, md, StreamCapabilities{
			Acaps: graph.MediaAcapForStream(idx),
			Tcaps: graph.MediaTcapForStream(idx),
			Cfgs:  graph.CfgForStream(idx),
		})
		m.Streams = append(m.Streams, s)
	}
	return m
}

func (m *MediaDescription) applySessionAttribute(attr sdp.Attribute) {
	if dir, ok := StreamDirFromString(attr.Key); ok {
		m.Dir = dir
		return
	}
	switch attr.Key {
	case "ice-ufrag":
		m.IceUfrag = attr.Value
	case "ice-pwd":
		m.IcePwd = attr.Value
	case "ice-lite":
		m.IceLite = true
	case "rtcp-xr":
		m.RtcpXr = ParseRtcpXr(attr.Value)
	case "Ik", "lime-Ik":
		m.HaveLimeIk = true
	case "record":
		m.Record = RecordStateFromString(strings.TrimSpace(attr.Value))
	case "nortpproxy":
		m.SetNortpproxy = true
	case "group":
		if bundle, ok := parseBundleGroup(attr.Value); ok {
			m.AddNewBundle(bundle)
		} else {
			m.CustomAttributes = append(m.CustomAttributes, attr)
		}
	default:
		if _, ok := recognizedSessionAttributes[attr.Key]; !ok {
			m.CustomAttributes = append(m.CustomAttributes, attr)
		}
	}
}

// hasMergedTcapLines true, если хотя бы одна строка tcap перечисляет несколько протоколов
func hasMergedTcapLines(sd *sdp.SessionDescription) bool {
	check := func(attrs []sdp.Attribute) bool {
		for _, attr := range attrs {
			if attr.Key != capneg.CapabilityTransportProtocol.AttributeName() {
				continue
			}
			if tcaps, ok := capneg.ParseTcapValue(attr.Value); ok && len(tcaps) > 1 {
				return true
			}
		}
		return false
	}
	if check(sd.Attributes) {
		return true
	}
	for _, md := range sd.MediaDescriptions {
		if check(md.Attributes) {
			return true
		}
	}
	return false
}

func fromNtpTime(v uint64) int64 {
	if v == 0 {
		return unboundedTime
	}
	return int64(v) - ntpEpochOffset
}

func toNtpTime(v int64) uint64 {
	if v == unboundedTime || v+ntpEpochOffset < 0 {
		return 0
	}
	return uint64(v + ntpEpochOffset)
}

// allStreamsInactive все потоки inactive или отключены
func (m *MediaDescription) allStreamsInactive() bool {
	for _, s := range m.Streams {
		if s.Enabled() && s.Direction() != DirInactive {
			return false
		}
	}
	return true
}

// ToSdp формирует pion/sdp дерево. Потоки выводятся по выбранным конфигурациям;
// несогласованная конфигурация (например crypto без SRTP) дает ошибку.
func (m *MediaDescription) ToSdp() (*sdp.SessionDescription, error) {
	for i, s := range m.Streams {
		if err := s.chosen().Validate(); err != nil {
			return nil, WrapSDPError(ErrorCodeSDPGeneration, strconv.FormatUint(m.SessionId, 10), err, "поток %d", i)
		}
	}

	username := m.Username
	if username == "" {
		username = "-"
	}
	originAddr := m.OriginAddr
	if originAddr == "" {
		originAddr = m.Address()
	}
	if originAddr == "" {
		originAddr = "0.0.0.0"
	}
	name := m.Name
	if name == "" {
		name = "-"
	}

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       username,
			SessionID:      m.SessionId,
			SessionVersion: m.SessionVer,
			NetworkType:    "IN",
			AddressType:    addressType(originAddr),
			UnicastAddress: originAddr,
		},
		SessionName: sdp.SessionName(name),
	}

	if m.Addr != "" {
		addr := m.Addr
		// без ICE полностью неактивная сессия не раскрывает адрес
		if m.IceUfrag == "" && len(m.Streams) > 0 && m.allStreamsInactive() {
			addr = "0.0.0.0"
			if addressType(m.Addr) == "IP6" {
				addr = "::0"
			}
		}
		address := &sdp.Address{Address: addr}
		if isMulticastAddr(addr) && m.Ttl > 0 {
			ttl := m.Ttl
			address.TTL = &ttl
		}
		sd.ConnectionInformation = &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addressType(addr),
			Address:     address,
		}
	}
	if m.Bandwidth > 0 {
		sd.Bandwidth = append(sd.Bandwidth, sdp.Bandwidth{Type: "AS", Bandwidth: uint64(m.Bandwidth)})
	}

	times := m.Times
	if len(times) == 0 {
		times = []TimeWindow{{Start: unboundedTime, Stop: unboundedTime}}
	}
	for _, t := range times {
		sd.TimeDescriptions = append(sd.TimeDescriptions, sdp.TimeDescription{
			Timing: sdp.Timing{StartTime: toNtpTime(t.Start), StopTime: toNtpTime(t.Stop)},
		})
	}

	if m.SetNortpproxy {
		sd.WithValueAttribute("nortpproxy", "yes")
	}
	if m.IcePwd != "" {
		sd.WithValueAttribute("ice-pwd", m.IcePwd)
	}
	if m.IceUfrag != "" {
		sd.WithValueAttribute("ice-ufrag", m.IceUfrag)
	}
	if m.IceLite {
		sd.WithPropertyAttribute("ice-lite")
	}
	if m.RtcpXr.Enabled {
		sd.Attributes = append(sd.Attributes, m.RtcpXr.toSdpAttribute())
	}
	for _, b := range m.Bundles {
		sd.Attributes = append(sd.Attributes, b.ToSdpAttribute())
	}
	if m.Record != RecordStateUnset {
		sd.WithValueAttribute("record", m.Record.String())
	}
	if m.HaveLimeIk {
		sd.WithPropertyAttribute("lime-Ik")
	}
	if m.Dir != DirSendRecv {
		sd.WithPropertyAttribute(m.Dir.String())
	}
	sd.Attributes = append(sd.Attributes, m.CustomAttributes...)

	if m.Params.CapabilityNegotiationSupported {
		for _, idx := range capneg.SortedKeys(m.Acaps) {
			sd.WithValueAttribute(capneg.CapabilityAttribute.AttributeName(), formatAcap(idx, m.Acaps[idx]))
		}
		for _, value := range formatTcaps(m.Tcaps, m.Params.TcapLinesMerged) {
			sd.WithValueAttribute(capneg.CapabilityTransportProtocol.AttributeName(), value)
		}
	}

	for _, s := range m.Streams {
		sd.WithMedia(s.ToSdpMediaDescription(m))
	}
	return sd, nil
}

// Marshal сериализует описание в SDP текст
func (m *MediaDescription) Marshal() ([]byte, error) {
	sd, err := m.ToSdp()
	if err != nil {
		return nil, err
	}
	out, err := sd.Marshal()
	if err != nil {
		return nil, WrapSDPError(ErrorCodeSDPGeneration, strconv.FormatUint(m.SessionId, 10), err, "не удалось сформировать SDP")
	}
	return out, nil
}
