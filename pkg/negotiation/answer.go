package negotiation

import (
	"strings"

	"github.com/arzzra/media_negotiation/pkg/media_sdp"
	"github.com/pkg/errors"
)

// answerDir направление ответа: встречное к предложенному с учетом локального
func answerDir(offered, local media_sdp.StreamDir) media_sdp.StreamDir {
	canSend := offered == media_sdp.DirSendRecv || offered == media_sdp.DirRecvOnly
	canRecv := offered == media_sdp.DirSendRecv || offered == media_sdp.DirSendOnly
	canSend = canSend && (local == media_sdp.DirSendRecv || local == media_sdp.DirSendOnly)
	canRecv = canRecv && (local == media_sdp.DirSendRecv || local == media_sdp.DirRecvOnly)
	switch {
	case canSend && canRecv:
		return media_sdp.DirSendRecv
	case canSend:
		return media_sdp.DirSendOnly
	case canRecv:
		return media_sdp.DirRecvOnly
	}
	return media_sdp.DirInactive
}

// matchPayloads оставляет предложенные кодеки, известные локально, в порядке
// предложения и с номерами предлагающей стороны
func matchPayloads(offered []*media_sdp.PayloadType, local []media_sdp.CodecInfo) []*media_sdp.PayloadType {
	var out []*media_sdp.PayloadType
	for _, pt := range offered {
		for _, c := range local {
			if sameCodec(pt, c.Name, c.ClockRate, c.Channels) {
				match := pt.Clone()
				match.Flags = media_sdp.PayloadTypeFlagCanRecv | media_sdp.PayloadTypeFlagCanSend
				out = append(out, match)
				break
			}
		}
	}
	return out
}

// specCursor выдает локальные потоки по типу в порядке объявления
type specCursor struct {
	streams []StreamSpec
	used    []bool
}

func (c *specCursor) next(t media_sdp.StreamType) (*StreamSpec, bool) {
	for i := range c.streams {
		if !c.used[i] && c.streams[i].Type == t {
			c.used[i] = true
			return &c.streams[i], true
		}
	}
	return nil, false
}

// BuildAnswer строит ответ на предложение по выбору SelectConfigurations.
// Число и порядок потоков совпадают с предложением; отклоненный поток
// получает нулевой порт. Для потенциальной конфигурации выводится a=acfg.
func (b *Builder) BuildAnswer(offer *media_sdp.MediaDescription, choices []StreamChoice, spec LocalSpec) (*media_sdp.MediaDescription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(choices) != len(offer.Streams) {
		return nil, errors.Wrapf(ErrStreamCountMismatch, "выбор для %d потоков из %d", len(choices), len(offer.Streams))
	}
	md := b.newSession(spec)
	if !offer.RtcpXr.Enabled || !b.cfg.RtcpXrEnabled {
		md.RtcpXr = media_sdp.DefaultRtcpXrConfig()
	} else {
		md.RtcpXr = offer.RtcpXr
	}

	cursor := &specCursor{streams: spec.Streams, used: make([]bool, len(spec.Streams))}
	accepted := make([]bool, len(offer.Streams))
	for i, remote := range offer.Streams {
		ss, hasLocal := cursor.next(remote.Type)
		s, ok, err := b.answerStream(md, offer, i, remote, choices[i], ss, hasLocal)
		if err != nil {
			return nil, errors.Wrapf(err, "поток %d", i)
		}
		accepted[i] = ok
		md.Streams = append(md.Streams, s)
	}

	if b.cfg.Bundle {
		for _, ob := range offer.Bundles {
			var nb media_sdp.StreamBundle
			for _, mid := range ob.Mids {
				idx := offer.LookupMid(mid)
				if idx < 0 || !accepted[idx] {
					continue
				}
				cfg, _ := md.Streams[idx].ActualConfiguration()
				nb.AddStream(cfg, mid)
			}
			if len(nb.Mids) > 0 {
				md.AddNewBundle(&nb)
			}
		}
	}

	b.memo.Remember(md)
	return md, nil
}

func (b *Builder) answerStream(md, offer *media_sdp.MediaDescription, idx int, remote *media_sdp.StreamDescription, choice StreamChoice, ss *StreamSpec, hasLocal bool) (*media_sdp.StreamDescription, bool, error) {
	s := media_sdp.NewStreamDescription()
	s.Type = remote.Type
	s.TypeOther = remote.TypeOther
	s.RtpAddr = md.Addr
	s.RtcpAddr = md.Addr

	chosen, ok := remote.ChosenConfiguration()
	if !ok {
		return nil, false, errors.Errorf("выбранная конфигурация %d не найдена", remote.ChosenConfigurationIndex())
	}
	cfg, _ := s.ActualConfiguration()
	cfg.Proto = chosen.Proto
	cfg.OtherProto = chosen.OtherProto

	decline := func(reason string) (*media_sdp.StreamDescription, bool, error) {
		logger.Infof("Поток %d (%s) отклонен: %s", idx, remote.TypeAsString(), reason)
		if chosen.CarriesRtp() {
			cfg.Payloads = clonePayloadsForDecline(chosen.Payloads)
		} else {
			cfg.Formats = append([]string(nil), chosen.Formats...)
		}
		cfg.Dir = media_sdp.DirInactive
		return s, false, nil
	}

	switch {
	case choice.Declined:
		return decline("нет приемлемой конфигурации")
	case !hasLocal || ss.Disabled:
		return decline("нет локального потока")
	}

	codecs, err := b.codecsFor(ss)
	if err != nil {
		return nil, false, err
	}
	cfg.Payloads = matchPayloads(chosen.Payloads, codecs)
	if len(cfg.Payloads) == 0 {
		return decline("нет общих кодеков")
	}

	s.RtpPort = ss.Port
	s.RtcpPort = ss.rtcpPort()
	s.Label = ss.Label
	s.Content = ss.Content
	cfg.Dir = answerDir(chosen.Dir, ss.Dir)
	if ss.Type == media_sdp.StreamAudio {
		cfg.Ptime = b.cfg.Ptime
	}
	cfg.RtcpCname = b.cname
	cfg.ConferenceSsrc = newSsrc()
	cfg.RtcpMux = chosen.RtcpMux
	if cfg.RtcpMux {
		s.RtcpPort = s.RtpPort
	}
	if b.cfg.Bundle && chosen.Mid != "" {
		cfg.Mid = chosen.Mid
		cfg.MidRtpExtHeaderId = chosen.MidRtpExtHeaderId
	}
	if b.cfg.RtcpXrEnabled && chosen.RtcpXr.Enabled {
		cfg.RtcpXr = chosen.RtcpXr
	} else {
		cfg.RtcpXr = md.RtcpXr
	}

	switch chosen.Encryption() {
	case media_sdp.EncryptionSRTP:
		c, found, err := answerCrypto(chosen.Crypto)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return decline("нет поддерживаемого набора шифров")
		}
		cfg.SetCrypto([]media_sdp.SrtpCrypto{c})
	case media_sdp.EncryptionDTLS:
		fp, err := b.ensureFingerprint()
		if err != nil {
			return nil, false, err
		}
		cfg.SetDtls(answerDtlsRole(chosen.DtlsRole), fp)
	case media_sdp.EncryptionZRTP:
		if ss.ZrtpHash != "" {
			cfg.SetZrtpHash(ss.ZrtpHash)
		}
	}

	if chosen.HasAvpf() || (chosen.HasImplicitAvpf() && b.cfg.RtcpFbImplicit) {
		cfg.ImplicitRtcpFb = chosen.ImplicitRtcpFb
		cfg.RtcpFb = chosen.RtcpFb
		cfg.EnableAvpfForStream()
	}

	if choice.Index != media_sdp.ActualConfigurationIndex {
		b.echoCapabilities(md, offer, idx, s, cfg, chosen)
		cfg.Index = choice.Index
		cfg.TcapIndex = chosen.TcapIndex
		cfg.AcapIndexes = cloneAcapIndexes(chosen.AcapIndexes)
		md.Params.CapabilityNegotiationSupported = true
	}
	return s, true, nil
}

// echoCapabilities повторяет в ответе acap и tcap, на которые ссылается
// a=acfg, с локальными значениями вместо предложенных
func (b *Builder) echoCapabilities(md, offer *media_sdp.MediaDescription, idx int, s *media_sdp.StreamDescription, cfg, chosen *media_sdp.StreamConfiguration) {
	if chosen.TcapIndex != 0 {
		if _, global := offer.Tcaps[chosen.TcapIndex]; global {
			md.AddTcap(chosen.TcapIndex, chosen.ProtoAsString())
		} else {
			s.AddTcap(chosen.TcapIndex, chosen.ProtoAsString())
		}
	}

	offered := offer.AllAcapForStream(idx)
	for _, set := range chosen.AcapIndexes {
		for _, acapIdx := range set {
			a, ok := offered[acapIdx]
			if !ok {
				continue
			}
			value := localAcapValue(a, cfg)
			if _, global := offer.Acaps[acapIdx]; global {
				md.AddAcap(acapIdx, a.Name, value)
			} else {
				s.AddAcap(acapIdx, a.Name, value)
			}
		}
	}
}

func localAcapValue(a media_sdp.Acap, cfg *media_sdp.StreamConfiguration) string {
	switch strings.ToLower(a.Name) {
	case "crypto":
		if len(cfg.Crypto) > 0 {
			return cfg.Crypto[0].String()
		}
	case "fingerprint":
		if cfg.DtlsFingerprint != "" {
			return cfg.DtlsFingerprint
		}
	case "setup":
		if setup, ok := media_sdp.SetupAttributeForDtlsRole(cfg.DtlsRole); ok {
			return setup
		}
	case "zrtp-hash":
		if cfg.HaveZrtpHash {
			return cfg.ZrtpHash
		}
	}
	return a.Value
}

func clonePayloadsForDecline(list []*media_sdp.PayloadType) []*media_sdp.PayloadType {
	if len(list) == 0 {
		return []*media_sdp.PayloadType{media_sdp.NewPayloadType(0, "PCMU", 8000, 1)}
	}
	out := make([]*media_sdp.PayloadType, len(list))
	for i, pt := range list {
		out[i] = pt.Clone()
	}
	return out
}

func cloneAcapIndexes(sets [][]uint) [][]uint {
	if sets == nil {
		return nil
	}
	out := make([][]uint, len(sets))
	for i, set := range sets {
		out[i] = append([]uint(nil), set...)
	}
	return out
}
