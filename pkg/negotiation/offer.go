package negotiation

import (
	"crypto/tls"
	"strconv"
	"sync"

	"github.com/arzzra/media_negotiation/pkg/media_sdp"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// MidExtensionID идентификатор расширения RTP заголовка sdes:mid
	MidExtensionID = 1
	// DefaultTrrInterval интервал RTCP для AVPF потоков, мс
	DefaultTrrInterval = 5000

	defaultRtcpXr = "rcvr-rtt=all:10000 stat-summary=loss,dup,jitt voip-metrics"
)

// StreamSpec параметры одного локального потока
type StreamSpec struct {
	Type media_sdp.StreamType
	Port int
	// RtcpPort 0 означает Port+1
	RtcpPort int
	Dir      media_sdp.StreamDir
	// Codecs пустой список для аудио означает кодеки из NegotiationConfig
	Codecs   []media_sdp.CodecInfo
	Label    string
	Content  string
	ZrtpHash string
	Disabled bool
}

// LocalSpec локальный адрес и потоки для предложения или ответа
type LocalSpec struct {
	Addr     string
	Username string
	IceUfrag string
	IcePwd   string
	Streams  []StreamSpec
}

func (s *StreamSpec) rtcpPort() int {
	if s.RtcpPort > 0 {
		return s.RtcpPort
	}
	if s.Port == 0 {
		return 0
	}
	return s.Port + 1
}

// Builder строит локальные предложения и ответы одного диалога.
// Версия сессии растет с каждым построенным описанием.
type Builder struct {
	mu sync.Mutex

	cfg        media_sdp.NegotiationConfig
	memo       *PayloadMemo
	cname      string
	sessionID  uint64
	sessionVer uint64

	certificate *tls.Certificate
	fingerprint string
}

// BuilderOption опция Builder
type BuilderOption func(*Builder)

// WithCertificate задает сертификат DTLS вместо самоподписанного
func WithCertificate(cert tls.Certificate) BuilderOption {
	return func(b *Builder) {
		b.certificate = &cert
	}
}

// WithPayloadMemo задает общую память номеров кодеков
func WithPayloadMemo(memo *PayloadMemo) BuilderOption {
	return func(b *Builder) {
		if memo != nil {
			b.memo = memo
		}
	}
}

// NewBuilder создает построитель для проверенной конфигурации
func NewBuilder(cfg media_sdp.NegotiationConfig, opts ...BuilderOption) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "конфигурация согласования")
	}
	id := uint64(uuid.New().ID())
	b := &Builder{
		cfg:        cfg,
		memo:       NewPayloadMemo(),
		cname:      uuid.New().String(),
		sessionID:  id,
		sessionVer: id,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// BuildLocalOffer строит предложение построителем с новой сессией
func BuildLocalOffer(cfg media_sdp.NegotiationConfig, spec LocalSpec) (*media_sdp.MediaDescription, error) {
	b, err := NewBuilder(cfg)
	if err != nil {
		return nil, err
	}
	return b.BuildLocalOffer(spec)
}

// CName RTCP CNAME локальных потоков
func (b *Builder) CName() string { return b.cname }

// PayloadMemo память номеров кодеков построителя
func (b *Builder) PayloadMemo() *PayloadMemo { return b.memo }

// Fingerprint отпечаток локального сертификата DTLS; сертификат создается при первом обращении
func (b *Builder) Fingerprint() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ensureFingerprint()
}

func (b *Builder) ensureFingerprint() (string, error) {
	if b.fingerprint != "" {
		return b.fingerprint, nil
	}
	if b.certificate == nil {
		cert, err := generateCertificate()
		if err != nil {
			return "", err
		}
		b.certificate = &cert
	}
	fp, err := certificateFingerprint(*b.certificate)
	if err != nil {
		return "", err
	}
	b.fingerprint = fp
	return fp, nil
}

func (b *Builder) newSession(spec LocalSpec) *media_sdp.MediaDescription {
	b.sessionVer++
	md := media_sdp.NewMediaDescription(b.cfg.CapNegParams())
	md.Name = b.cfg.SessionName
	md.Username = spec.Username
	md.Addr = spec.Addr
	md.OriginAddr = spec.Addr
	md.SessionId = b.sessionID
	md.SessionVer = b.sessionVer
	md.IceUfrag = spec.IceUfrag
	md.IcePwd = spec.IcePwd
	md.IceLite = b.cfg.IceLite
	md.AcceptBundles = b.cfg.Bundle
	if b.cfg.RtcpXrEnabled {
		md.RtcpXr = media_sdp.ParseRtcpXr(defaultRtcpXr)
	}
	return md
}

// newSsrc случайный ненулевой SSRC
func newSsrc() uint32 {
	for {
		if ssrc := uuid.New().ID(); ssrc != 0 {
			return ssrc
		}
	}
}

// BuildLocalOffer строит локальное предложение: фактическая конфигурация
// каждого потока использует предпочтительное шифрование, остальные
// поддерживаемые виды предлагаются потенциальными конфигурациями
func (b *Builder) BuildLocalOffer(spec LocalSpec) (*media_sdp.MediaDescription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(spec.Streams) == 0 {
		return nil, errors.New("предложение без потоков")
	}
	md := b.newSession(spec)

	var cryptos []media_sdp.SrtpCrypto
	if b.cfg.Encryption == media_sdp.EncryptionSRTP || b.cfg.SupportsEncryption(media_sdp.EncryptionSRTP) {
		var err error
		if cryptos, err = offerCryptos(); err != nil {
			return nil, err
		}
	}

	mids := make(map[string]bool)
	var bundle media_sdp.StreamBundle
	for i := range spec.Streams {
		ss := &spec.Streams[i]
		s, err := b.offerStream(md, i, ss, cryptos)
		if err != nil {
			return nil, errors.Wrapf(err, "поток %d", i)
		}
		md.Streams = append(md.Streams, s)

		if b.cfg.Bundle && !ss.Disabled {
			cfg, _ := s.ActualConfiguration()
			cfg.RtcpMux = true
			cfg.MidRtpExtHeaderId = MidExtensionID
			s.RtcpPort = s.RtpPort
			bundle.AddStream(cfg, uniqueMid(mids, s.Type))
		}
	}
	if len(bundle.Mids) > 0 {
		md.AddNewBundle(&bundle)
	}

	if b.cfg.CapabilityNegotiation {
		if err := b.addPotentialConfigurations(md, spec, cryptos); err != nil {
			return nil, err
		}
	}

	b.memo.Remember(md)
	logger.Debugf("Построено предложение: %d потоков, версия %d", len(md.Streams), md.SessionVer)
	return md, nil
}

// uniqueMid mid по типу потока: as, vs, ts; повтор получает числовой суффикс
func uniqueMid(used map[string]bool, t media_sdp.StreamType) string {
	base := "os"
	switch t {
	case media_sdp.StreamAudio:
		base = "as"
	case media_sdp.StreamVideo:
		base = "vs"
	case media_sdp.StreamText:
		base = "ts"
	}
	mid := base
	for n := 1; used[mid]; n++ {
		mid = base + strconv.Itoa(n)
	}
	used[mid] = true
	return mid
}

func (b *Builder) codecsFor(ss *StreamSpec) ([]media_sdp.CodecInfo, error) {
	if len(ss.Codecs) > 0 {
		return ss.Codecs, nil
	}
	if ss.Type == media_sdp.StreamAudio {
		return b.cfg.SupportedCodecs, nil
	}
	return nil, errors.Errorf("для потока %s не заданы кодеки", ss.Type)
}

func (b *Builder) offerStream(md *media_sdp.MediaDescription, idx int, ss *StreamSpec, cryptos []media_sdp.SrtpCrypto) (*media_sdp.StreamDescription, error) {
	codecs, err := b.codecsFor(ss)
	if err != nil {
		return nil, err
	}

	s := media_sdp.NewStreamDescription()
	s.Type = ss.Type
	s.RtpAddr = md.Addr
	s.RtcpAddr = md.Addr
	s.Label = ss.Label
	s.Content = ss.Content
	if !ss.Disabled {
		s.RtpPort = ss.Port
		s.RtcpPort = ss.rtcpPort()
	}

	cfg, _ := s.ActualConfiguration()
	cfg.Proto = media_sdp.ProtoForEncryption(b.cfg.Encryption, b.cfg.Avpf)
	cfg.Dir = ss.Dir
	cfg.Payloads = b.memo.Assign(idx, codecs)
	if len(cfg.Payloads) == 0 {
		return nil, errors.New("не осталось кодеков после нумерации")
	}
	if ss.Type == media_sdp.StreamAudio {
		cfg.Ptime = b.cfg.Ptime
	}
	cfg.RtcpXr = md.RtcpXr
	cfg.RtcpCname = b.cname
	cfg.ConferenceSsrc = newSsrc()

	switch b.cfg.Encryption {
	case media_sdp.EncryptionSRTP:
		cfg.SetCrypto(cryptos)
	case media_sdp.EncryptionDTLS:
		fp, err := b.ensureFingerprint()
		if err != nil {
			return nil, err
		}
		cfg.SetDtls(media_sdp.DtlsRoleUnset, fp)
	case media_sdp.EncryptionZRTP:
		if ss.ZrtpHash == "" {
			return nil, errors.New("для ZRTP требуется zrtp-hash потока")
		}
		cfg.SetZrtpHash(ss.ZrtpHash)
	}

	b.applyFeedback(cfg, ss.Type)
	return s, nil
}

// applyFeedback включает RTCP feedback по политике AVPF
func (b *Builder) applyFeedback(cfg *media_sdp.StreamConfiguration, t media_sdp.StreamType) {
	switch {
	case cfg.HasAvpf():
	case b.cfg.RtcpFbImplicit && t == media_sdp.StreamVideo:
		cfg.ImplicitRtcpFb = true
	default:
		return
	}
	cfg.EnableAvpfForStream()
	for _, pt := range cfg.Payloads {
		if cfg.HasAvpf() {
			pt.AvpfParams.TrrInterval = DefaultTrrInterval
		}
		if t == media_sdp.StreamVideo {
			pt.AvpfParams.Features = media_sdp.AvpfFeaturePli | media_sdp.AvpfFeatureFir
			if b.cfg.RpsiCompatibility {
				pt.AvpfParams.Features |= media_sdp.AvpfFeatureRpsi
				pt.AvpfParams.RpsiCompatibility = true
			}
		}
	}
	if t == media_sdp.StreamVideo {
		cfg.RtcpFb.GenericNackEnabled = true
	}
}

// addPotentialConfigurations объявляет acap/tcap для поддерживаемых видов
// шифрования, отличных от предпочтительного, и строит по ним pcfg
func (b *Builder) addPotentialConfigurations(md *media_sdp.MediaDescription, spec LocalSpec, cryptos []media_sdp.SrtpCrypto) error {
	var alternatives []media_sdp.MediaEncryption
	for _, enc := range b.cfg.EncryptionsSupported {
		if enc != b.cfg.Encryption {
			alternatives = append(alternatives, enc)
		}
	}
	if len(alternatives) == 0 {
		return nil
	}

	for _, enc := range alternatives {
		switch enc {
		case media_sdp.EncryptionSRTP:
			for _, c := range cryptos {
				md.AddAcap(md.FreeAcapIdx(), "crypto", c.String())
			}
		case media_sdp.EncryptionDTLS:
			fp, err := b.ensureFingerprint()
			if err != nil {
				return err
			}
			md.AddAcap(md.FreeAcapIdx(), "fingerprint", fp)
			setup, _ := media_sdp.SetupAttributeForDtlsRole(media_sdp.DtlsRoleUnset)
			md.AddAcap(md.FreeAcapIdx(), "setup", setup)
		case media_sdp.EncryptionZRTP:
			for i, s := range md.Streams {
				if hash := spec.Streams[i].ZrtpHash; hash != "" {
					s.AddAcap(md.FreeAcapIdx(), "zrtp-hash", hash)
				}
			}
		}
		proto := media_sdp.ProtoForEncryption(enc, b.cfg.Avpf).String()
		if !hasTcap(md.Tcaps, proto) {
			md.AddTcap(md.FreeTcapIdx(), proto)
		}
	}

	for i, s := range md.Streams {
		if !s.Enabled() {
			continue
		}
		created := md.CreatePotentialConfigurationsForStream(i, false, false, alternatives)
		for _, idx := range created {
			if pcfg, ok := s.Configuration(idx); ok && pcfg.HasAvpf() {
				b.applyFeedback(pcfg, s.Type)
			}
		}
		logger.Debugf("Поток %d: построено %d потенциальных конфигураций", i, len(created))
	}
	return nil
}

func hasTcap(tcaps map[uint]string, proto string) bool {
	for _, p := range tcaps {
		if p == proto {
			return true
		}
	}
	return false
}
