package media_sdp

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/arzzra/media_negotiation/pkg/capneg"
	"github.com/pion/sdp/v3"
)

// URN расширений RTP заголовка, которые распознаются в a=extmap
const (
	ExtensionMidURN           = "urn:ietf:params:rtp-hdrext:sdes:mid"
	ExtensionMixerToClientURN = "urn:ietf:params:rtp-hdrext:csrc-audio-level"
	ExtensionClientToMixerURN = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"
	ExtensionFrameMarkingURN  = "urn:ietf:params:rtp-hdrext:framemarking"
)

// recognizedMediaAttributes атрибуты, которые разбираются в поля потока
// и не попадают в CustomAttributes
var recognizedMediaAttributes = map[string]struct{}{
	"rtpmap": {}, "fmtp": {}, "ptime": {}, "maxptime": {}, "maxrate": {},
	"sendrecv": {}, "sendonly": {}, "recvonly": {}, "inactive": {},
	"rtcp": {}, "rtcp-mux": {}, "mid": {}, "bundle-only": {},
	"crypto": {}, "setup": {}, "fingerprint": {}, "zrtp-hash": {},
	"Ik": {}, "lime-Ik": {},
	"ice-ufrag": {}, "ice-pwd": {}, "ice-mismatch": {}, "candidate": {}, "remote-candidates": {},
	"rtcp-fb": {}, "rtcp-xr": {}, "label": {}, "content": {},
	"acap": {}, "tcap": {}, "acfg": {}, "pcfg": {},
}

// StreamCapabilities возможности потока из графа: собственные acap/tcap
// и разобранные строки acfg/pcfg
type StreamCapabilities struct {
	Acaps []capneg.Acap
	Tcaps []capneg.Tcap
	Cfgs  map[uint]capneg.ConfigAttribute
}

// FillFromSdp заполняет поток по m= блоку. session задает значения по умолчанию
// уровня сессии (направление, адрес, rtcp-xr), sessionAttrs нужны для
// a=setup и a=fingerprint уровня сессии. Некорректные атрибуты пропускаются.
func (s *StreamDescription) FillFromSdp(session *MediaDescription, sessionAttrs []sdp.Attribute, md *sdp.MediaDescription, caps StreamCapabilities) {
	cfg := s.actualForUpdate()

	s.Type = StreamTypeFromString(md.MediaName.Media)
	if s.Type == StreamOther {
		s.TypeOther = md.MediaName.Media
	}
	s.RtpPort = md.MediaName.Port.Value
	cfg.SetProtoFromString(strings.Join(md.MediaName.Protos, "/"))

	s.RtpAddr = session.Addr
	cfg.Ttl = session.Ttl
	if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
		addr, ttl := splitConnectionAddress(md.ConnectionInformation.Address)
		s.RtpAddr = addr
		cfg.Ttl = ttl
	}
	if isMulticastAddr(s.RtpAddr) {
		s.MulticastRole = MulticastReceiver
	}
	for _, bw := range md.Bandwidth {
		if bw.Type == "AS" {
			s.Bandwidth = int(bw.Bandwidth)
		}
	}

	if cfg.CarriesRtp() {
		cfg.Payloads = parsePayloadTypes(md)
	} else {
		cfg.Formats = append([]string(nil), md.MediaName.Formats...)
	}

	dirFound := false
	for _, attr := range md.Attributes {
		if dir, ok := StreamDirFromString(attr.Key); ok {
			cfg.Dir = dir
			dirFound = true
		}
	}
	if !dirFound {
		cfg.Dir = session.Dir
	}

	_, cfg.RtcpMux = md.Attribute("rtcp-mux")
	_, cfg.BundleOnly = md.Attribute("bundle-only")
	if mid, ok := md.Attribute("mid"); ok {
		cfg.Mid = strings.TrimSpace(mid)
	}
	if s.RtpPort == 0 && !cfg.BundleOnly {
		cfg.Dir = DirInactive
	}

	s.RtcpAddr = s.RtpAddr
	s.RtcpPort = s.RtpPort + 1
	if cfg.RtcpMux {
		s.RtcpPort = s.RtpPort
	}

	for _, attr := range md.Attributes {
		s.applyMediaAttribute(cfg, attr)
	}

	if cfg.HasSrtp() {
		for _, attr := range md.Attributes {
			if attr.Key != "crypto" {
				continue
			}
			c, err := ParseSrtpCrypto(attr.Value)
			if err != nil {
				logger.Warnf("Пропускаем строку crypto: %v", err)
				metrics.attributeError("crypto")
				continue
			}
			cfg.Crypto = append(cfg.Crypto, c)
		}
	}

	if cfg.HasDtls() {
		s.fillDtls(cfg, sessionAttrs, md)
	}

	cfg.RtcpXr = session.RtcpXr
	if value, ok := md.Attribute("rtcp-xr"); ok {
		cfg.RtcpXr = ParseRtcpXr(value)
	}

	if cfg.HasAvpf() {
		cfg.EnableAvpfForStream()
		ParseRtcpFbParameters(md, cfg)
	} else if ParseRtcpFbParameters(md, cfg) {
		cfg.EnableAvpfForStream()
		cfg.ImplicitRtcpFb = true
	}

	if err := cfg.Validate(); err != nil {
		logger.Warnf("Поток %s: %v", s.TypeAsString(), err)
	}

	s.fillCapabilities(session, md, cfg, caps)
}

func (s *StreamDescription) applyMediaAttribute(cfg *StreamConfiguration, attr sdp.Attribute) {
	switch attr.Key {
	case "ptime":
		cfg.Ptime = atoiAttribute(attr)
	case "maxptime":
		cfg.MaxPtime = atoiAttribute(attr)
	case "maxrate":
		cfg.MaxRate = atoiAttribute(attr)
	case "rtcp":
		s.applyRtcpAttribute(attr.Value)
	case "zrtp-hash":
		cfg.SetZrtpHash(strings.TrimSpace(attr.Value))
	case "Ik", "lime-Ik":
		cfg.HaveLimeIk = true
	case "ice-ufrag":
		s.IceUfrag = attr.Value
	case "ice-pwd":
		s.IcePwd = attr.Value
	case "ice-mismatch":
		s.IceMismatch = true
	case "candidate":
		c, err := ParseIceCandidate(attr.Value)
		if err != nil {
			logger.Warnf("Пропускаем ICE кандидата: %v", err)
			metrics.attributeError("candidate")
			return
		}
		s.IceCandidates = append(s.IceCandidates, c)
	case "remote-candidates":
		rc, err := ParseIceRemoteCandidates(attr.Value)
		if err != nil {
			logger.Warnf("Пропускаем remote-candidates: %v", err)
			metrics.attributeError("remote-candidates")
			return
		}
		s.IceRemoteCandidates = append(s.IceRemoteCandidates, rc...)
	case "label":
		s.Label = attr.Value
	case "content":
		s.Content = attr.Value
	case "extmap":
		if !applyExtmapAttribute(cfg, attr) {
			cfg.CustomAttributes = append(cfg.CustomAttributes, attr)
		}
	case "ssrc":
		if !applySsrcAttribute(cfg, attr.Value) {
			cfg.CustomAttributes = append(cfg.CustomAttributes, attr)
		}
	default:
		if _, ok := recognizedMediaAttributes[attr.Key]; !ok {
			cfg.CustomAttributes = append(cfg.CustomAttributes, attr)
		}
	}
}

func atoiAttribute(attr sdp.Attribute) int {
	n, err := strconv.Atoi(strings.TrimSpace(attr.Value))
	if err != nil {
		logger.Warnf("Некорректное значение %s: %q", attr.Key, attr.Value)
		metrics.attributeError(attr.Key)
		return 0
	}
	return n
}

// applyRtcpAttribute разбирает "a=rtcp:<port> [IN IP4 <addr>]"
func (s *StreamDescription) applyRtcpAttribute(value string) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return
	}
	port, err := strconv.Atoi(fields[0])
	if err != nil {
		logger.Warnf("Некорректный атрибут rtcp: %q", value)
		metrics.attributeError("rtcp")
		return
	}
	s.RtcpPort = port
	if len(fields) >= 4 {
		s.RtcpAddr = fields[3]
	}
}

// applyExtmapAttribute запоминает идентификаторы известных расширений
func applyExtmapAttribute(cfg *StreamConfiguration, attr sdp.Attribute) bool {
	var ext sdp.ExtMap
	if err := ext.Unmarshal(attr.Key + ":" + attr.Value); err != nil {
		logger.Warnf("Некорректный атрибут extmap: %q", attr.Value)
		metrics.attributeError("extmap")
		return false
	}
	if ext.URI == nil {
		return false
	}
	switch ext.URI.String() {
	case ExtensionMidURN:
		cfg.MidRtpExtHeaderId = ext.Value
	case ExtensionMixerToClientURN:
		cfg.MixerToClientExtensionId = ext.Value
	case ExtensionClientToMixerURN:
		cfg.ClientToMixerExtensionId = ext.Value
	case ExtensionFrameMarkingURN:
		cfg.FrameMarkingExtensionId = ext.Value
	default:
		return false
	}
	return true
}

// applySsrcAttribute разбирает "<ssrc> cname:<cname>"
func applySsrcAttribute(cfg *StreamConfiguration, value string) bool {
	ssrcStr, rest, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok {
		return false
	}
	cname, isCname := strings.CutPrefix(strings.TrimSpace(rest), "cname:")
	if !isCname {
		return false
	}
	ssrc, err := strconv.ParseUint(ssrcStr, 10, 32)
	if err != nil {
		logger.Warnf("Некорректный ssrc: %q", ssrcStr)
		metrics.attributeError("ssrc")
		return false
	}
	cfg.ConferenceSsrc = uint32(ssrc)
	cfg.RtcpCname = cname
	return true
}

// fillDtls читает setup и fingerprint; значения уровня сессии используются по умолчанию
func (s *StreamDescription) fillDtls(cfg *StreamConfiguration, sessionAttrs []sdp.Attribute, md *sdp.MediaDescription) {
	setup, fp := "", ""
	for _, attr := range sessionAttrs {
		switch attr.Key {
		case "setup":
			setup = attr.Value
		case "fingerprint":
			fp = attr.Value
		}
	}
	if v, ok := md.Attribute("setup"); ok {
		setup = v
	}
	if v, ok := md.Attribute("fingerprint"); ok {
		fp = v
	}
	if setup != "" {
		cfg.DtlsRole = DtlsRoleFromSetupAttribute(setup)
	}
	if fp != "" {
		parsed, err := ParseFingerprint(fp)
		if err != nil {
			logger.Warnf("Пропускаем отпечаток DTLS: %v", err)
			metrics.attributeError("fingerprint")
			return
		}
		cfg.DtlsFingerprint = parsed
	}
}

// fillCapabilities переносит возможности потока из графа и строит потенциальные конфигурации
func (s *StreamDescription) fillCapabilities(session *MediaDescription, md *sdp.MediaDescription, cfg *StreamConfiguration, caps StreamCapabilities) {
	if !session.Params.CapabilityNegotiationSupported {
		return
	}
	for _, a := range caps.Acaps {
		s.AddAcap(a.Index, a.Name, a.Value)
	}
	for _, t := range caps.Tcaps {
		s.AddTcap(t.Index, t.Value)
	}

	potential := make(map[uint]capneg.ConfigAttribute, len(caps.Cfgs))
	for idx, attr := range caps.Cfgs {
		potential[idx] = attr
	}
	for _, attr := range md.Attributes {
		if attr.Key != capneg.ConfigTypeAcfg.AttributeName() {
			continue
		}
		idStr, _, _ := strings.Cut(strings.TrimSpace(attr.Value), " ")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			continue
		}
		acfg, ok := potential[uint(id)]
		if !ok {
			continue
		}
		// acfg описывает фактическую конфигурацию, выбранную в ответе
		cfg.Index = uint(id)
		if len(acfg.Tcap) > 0 {
			cfg.TcapIndex = acfg.Tcap[0].Tcap.Index
		}
		cfg.AcapIndexes = acfg.AcapIndexes()
		cfg.DeleteMediaAttributes = acfg.DeleteMediaAttributes
		cfg.DeleteSessionAttributes = acfg.DeleteSessionAttributes
		delete(potential, uint(id))
	}
	s.FillPotentialConfigurations(potential)
}

// splitConnectionAddress отделяет TTL вида "224.2.1.1/127"
func splitConnectionAddress(a *sdp.Address) (string, int) {
	addr, ttlStr, hasTTL := strings.Cut(a.Address, "/")
	ttl := 0
	if a.TTL != nil {
		ttl = *a.TTL
	} else if hasTTL {
		ttlStr, _, _ = strings.Cut(ttlStr, "/")
		if n, err := strconv.Atoi(ttlStr); err == nil {
			ttl = n
		}
	}
	return addr, ttl
}

func addressType(addr string) string {
	if strings.Contains(addr, ":") {
		return "IP6"
	}
	return "IP4"
}

// ToSdpMediaDescription формирует m= блок по выбранной конфигурации
func (s *StreamDescription) ToSdpMediaDescription(session *MediaDescription) *sdp.MediaDescription {
	cfg := s.chosen()
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  s.TypeAsString(),
			Port:   sdp.RangedPort{Value: s.RtpPort},
			Protos: strings.Split(cfg.ProtoAsString(), "/"),
		},
	}

	switch {
	case !cfg.CarriesRtp() && len(cfg.Formats) > 0:
		md.MediaName.Formats = append([]string(nil), cfg.Formats...)
	case len(cfg.Payloads) == 0:
		// пустой список форматов недопустим даже для отклоненного потока
		md.MediaName.Formats = []string{"0"}
	}
	for _, pt := range cfg.Payloads {
		md.MediaName.Formats = append(md.MediaName.Formats, strconv.Itoa(pt.Number))
	}
	for _, pt := range cfg.Payloads {
		if pt.MimeType != "" {
			md.WithValueAttribute("rtpmap", pt.rtpmapValue())
		}
		if pt.RecvFmtp != "" {
			md.WithValueAttribute("fmtp", fmt.Sprintf("%d %s", pt.Number, pt.RecvFmtp))
		}
	}

	multicast := isMulticastAddr(s.RtpAddr)
	if s.RtpAddr != "" && (s.RtpAddr != session.Addr || (multicast && cfg.Ttl != session.Ttl)) {
		address := &sdp.Address{Address: s.RtpAddr}
		if multicast && cfg.Ttl > 0 {
			ttl := cfg.Ttl
			address.TTL = &ttl
		}
		md.ConnectionInformation = &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addressType(s.RtpAddr),
			Address:     address,
		}
	}
	if s.Bandwidth > 0 {
		md.Bandwidth = append(md.Bandwidth, sdp.Bandwidth{Type: "AS", Bandwidth: uint64(s.Bandwidth)})
	}

	if cfg.Ptime > 0 {
		md.WithValueAttribute("ptime", strconv.Itoa(cfg.Ptime))
	}
	if cfg.MaxPtime > 0 {
		md.WithValueAttribute("maxptime", strconv.Itoa(cfg.MaxPtime))
	}
	if cfg.MaxRate > 0 {
		md.WithValueAttribute("maxrate", strconv.Itoa(cfg.MaxRate))
	}

	for _, c := range cfg.Crypto {
		md.WithValueAttribute("crypto", c.String())
	}
	if cfg.HasDtls() {
		if setup, ok := SetupAttributeForDtlsRole(cfg.DtlsRole); ok {
			md.WithValueAttribute("setup", setup)
		}
		if cfg.DtlsFingerprint != "" {
			md.WithValueAttribute("fingerprint", cfg.DtlsFingerprint)
		}
	}
	if cfg.HaveZrtpHash {
		md.WithValueAttribute("zrtp-hash", cfg.ZrtpHash)
	}
	if cfg.HaveLimeIk {
		md.WithPropertyAttribute("lime-Ik")
	}

	if cfg.Dir != DirSendRecv {
		md.WithPropertyAttribute(cfg.Dir.String())
	}
	if cfg.RtcpMux {
		md.WithPropertyAttribute("rtcp-mux")
	}
	if cfg.Mid != "" {
		md.WithValueAttribute("mid", cfg.Mid)
	}
	for _, ext := range []struct {
		id  int
		urn string
	}{
		{cfg.MidRtpExtHeaderId, ExtensionMidURN},
		{cfg.MixerToClientExtensionId, ExtensionMixerToClientURN},
		{cfg.ClientToMixerExtensionId, ExtensionClientToMixerURN},
		{cfg.FrameMarkingExtensionId, ExtensionFrameMarkingURN},
	} {
		if ext.id == 0 {
			continue
		}
		uri, err := url.Parse(ext.urn)
		if err != nil {
			continue
		}
		md.WithExtMap(sdp.ExtMap{Value: ext.id, URI: uri})
	}
	if cfg.BundleOnly {
		md.WithPropertyAttribute("bundle-only")
	}
	if cfg.ConferenceSsrc != 0 && cfg.RtcpCname != "" {
		md.WithValueAttribute("ssrc", fmt.Sprintf("%d cname:%s", cfg.ConferenceSsrc, cfg.RtcpCname))
	}

	if rtcp, ok := s.rtcpAttributeValue(cfg); ok {
		md.WithValueAttribute("rtcp", rtcp)
	}

	if s.IceMismatch {
		md.WithPropertyAttribute("ice-mismatch")
	} else {
		if s.IcePwd != "" {
			md.WithValueAttribute("ice-pwd", s.IcePwd)
		}
		if s.IceUfrag != "" {
			md.WithValueAttribute("ice-ufrag", s.IceUfrag)
		}
		for _, c := range s.IceCandidates {
			value, err := c.Marshal()
			if err != nil {
				logger.Warnf("Пропускаем ICE кандидата: %v", err)
				continue
			}
			md.WithValueAttribute("candidate", value)
		}
		if len(s.IceRemoteCandidates) > 0 {
			md.WithValueAttribute("remote-candidates", formatIceRemoteCandidates(s.IceRemoteCandidates))
		}
	}

	if cfg.HasAvpf() || cfg.HasImplicitAvpf() {
		md.Attributes = append(md.Attributes, rtcpFbAttributes(cfg)...)
	}
	if cfg.RtcpXr.Enabled && !cfg.RtcpXr.Equal(session.RtcpXr) {
		md.Attributes = append(md.Attributes, cfg.RtcpXr.toSdpAttribute())
	}

	if s.Label != "" {
		md.WithValueAttribute("label", s.Label)
	}
	if s.Content != "" {
		md.WithValueAttribute("content", s.Content)
	}
	md.Attributes = append(md.Attributes, cfg.CustomAttributes...)

	if session.Params.CapabilityNegotiationSupported {
		s.addCapabilitiesToSdp(md, session.Params.TcapLinesMerged)
	}
	return md
}

// rtcpAttributeValue возвращает a=rtcp, если порт или адрес отличаются от производных
func (s *StreamDescription) rtcpAttributeValue(cfg *StreamConfiguration) (string, bool) {
	defaultPort := s.RtpPort + 1
	if cfg.RtcpMux {
		defaultPort = s.RtpPort
	}
	if s.RtcpPort == 0 || s.RtpPort == 0 {
		return "", false
	}
	addrDiffers := s.RtcpAddr != "" && s.RtcpAddr != s.RtpAddr
	if s.RtcpPort == defaultPort && !addrDiffers {
		return "", false
	}
	value := strconv.Itoa(s.RtcpPort)
	if addrDiffers {
		value += fmt.Sprintf(" IN %s %s", addressType(s.RtcpAddr), s.RtcpAddr)
	}
	return value, true
}

// addCapabilitiesToSdp выводит acap/tcap потока и строки acfg/pcfg
func (s *StreamDescription) addCapabilitiesToSdp(md *sdp.MediaDescription, tcapLinesMerged bool) {
	for _, idx := range capneg.SortedKeys(s.Acaps) {
		md.WithValueAttribute("acap", formatAcap(idx, s.Acaps[idx]))
	}
	for _, value := range formatTcaps(s.Tcaps, tcapLinesMerged) {
		md.WithValueAttribute("tcap", value)
	}

	if s.cfgIndex != ActualConfigurationIndex {
		if cfg, ok := s.ChosenConfiguration(); ok {
			md.WithValueAttribute(capneg.ConfigTypeAcfg.AttributeName(), cfgLineValue(s.cfgIndex, cfg))
		}
		return
	}
	if actual, ok := s.ActualConfiguration(); ok && actual.Index != ActualConfigurationIndex {
		md.WithValueAttribute(capneg.ConfigTypeAcfg.AttributeName(), cfgLineValue(actual.Index, actual))
	}
	for _, idx := range capneg.SortedKeys(s.Cfgs) {
		if idx == ActualConfigurationIndex {
			continue
		}
		md.WithValueAttribute(capneg.ConfigTypePcfg.AttributeName(), cfgLineValue(idx, s.Cfgs[idx]))
	}
}

func cfgLineValue(idx uint, cfg *StreamConfiguration) string {
	value := strconv.FormatUint(uint64(idx), 10)
	if body := cfg.SdpString(); body != "" {
		value += " " + body
	}
	return value
}

func formatAcap(idx uint, a Acap) string {
	value := fmt.Sprintf("%d %s", idx, a.Name)
	if a.Value != "" {
		value += ":" + a.Value
	}
	return value
}

// formatTcaps выводит tcap по одному на строку либо объединяет подряд идущие
// индексы в одну строку "tcap:<первый> <proto> <proto>..."
func formatTcaps(tcaps map[uint]string, merged bool) []string {
	keys := capneg.SortedKeys(tcaps)
	var out []string
	for i := 0; i < len(keys); {
		start := keys[i]
		protos := []string{tcaps[start]}
		j := i + 1
		if merged {
			for j < len(keys) && keys[j] == keys[j-1]+1 {
				protos = append(protos, tcaps[keys[j]])
				j++
			}
		}
		out = append(out, fmt.Sprintf("%d %s", start, strings.Join(protos, " ")))
		i = j
	}
	return out
}
