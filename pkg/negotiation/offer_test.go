package negotiation

import (
	"strings"
	"testing"

	"github.com/arzzra/media_negotiation/pkg/media_sdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vp8 = []media_sdp.CodecInfo{{Number: 96, Name: "VP8", ClockRate: 90000}}

func audioSpec(addr string, port int) LocalSpec {
	return LocalSpec{
		Addr:     addr,
		Username: "alice",
		Streams:  []StreamSpec{{Type: media_sdp.StreamAudio, Port: port}},
	}
}

func marshalString(t *testing.T, md *media_sdp.MediaDescription) string {
	t.Helper()
	blob, err := md.Marshal()
	require.NoError(t, err)
	return string(blob)
}

func TestBuildLocalOfferPlain(t *testing.T) {
	cfg := testConfig(media_sdp.EncryptionNone, media_sdp.EncryptionNone)
	offer, err := BuildLocalOffer(cfg, audioSpec("192.168.0.10", 7078))
	require.NoError(t, err)

	require.Len(t, offer.Streams, 1)
	s := offer.Streams[0]
	assert.Equal(t, media_sdp.ProtoRtpAvp, s.Proto())
	assert.Equal(t, 7078, s.RtpPort)
	assert.Equal(t, 7079, s.RtcpPort)
	assert.Equal(t, []int{0, 8, 101}, numbers(s.Payloads()))
	assert.Equal(t, 20, s.Ptime())
	assert.NotZero(t, s.ConferenceSsrc())
	assert.Empty(t, s.Crypto())
	assert.Len(t, s.Cfgs, 1)

	raw := marshalString(t, offer)
	assert.Contains(t, raw, "m=audio 7078 RTP/AVP 0 8 101")
	assert.Contains(t, raw, "a=ptime:20")
	assert.Contains(t, raw, "a=rtcp-xr:")
	assert.NotContains(t, raw, "a=pcfg")
}

func TestBuildLocalOfferSrtp(t *testing.T) {
	cfg := testConfig(media_sdp.EncryptionSRTP, media_sdp.EncryptionSRTP)
	offer, err := BuildLocalOffer(cfg, audioSpec("192.168.0.10", 7078))
	require.NoError(t, err)

	s := offer.Streams[0]
	assert.Equal(t, media_sdp.ProtoRtpSavp, s.Proto())
	require.Len(t, s.Crypto(), 2)
	assert.Equal(t, 1, s.Crypto()[0].Tag)
	assert.Equal(t, media_sdp.SuiteAesCm128HmacSha1_80, s.Crypto()[0].Algo)
	assert.Equal(t, media_sdp.SuiteAesCm128HmacSha1_32, s.Crypto()[1].Algo)
	assert.Len(t, s.Crypto()[0].MasterKey, 40)
	assert.NotEqual(t, s.Crypto()[0].MasterKey, s.Crypto()[1].MasterKey)

	parsed := parseSdp(t, marshalString(t, offer))
	assert.Equal(t, s.Crypto(), parsed.Streams[0].Crypto())
}

func TestBuildLocalOfferDtls(t *testing.T) {
	cfg := testConfig(media_sdp.EncryptionDTLS, media_sdp.EncryptionDTLS)
	cfg.Avpf = true
	b, err := NewBuilder(cfg)
	require.NoError(t, err)

	offer, err := b.BuildLocalOffer(audioSpec("192.168.0.10", 7078))
	require.NoError(t, err)

	s := offer.Streams[0]
	assert.Equal(t, media_sdp.ProtoUdpTlsRtpSavpf, s.Proto())
	assert.Equal(t, media_sdp.DtlsRoleUnset, s.DtlsRole())
	assert.True(t, strings.HasPrefix(s.DtlsFingerprint(), "sha-256 "))

	fp, err := b.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fp, s.DtlsFingerprint())

	raw := marshalString(t, offer)
	assert.Contains(t, raw, "a=setup:actpass")
	assert.Contains(t, raw, "a=fingerprint:"+fp)
	assert.Contains(t, raw, "a=rtcp-fb:* trr-int 5000")

	parsed := parseSdp(t, raw)
	assert.Equal(t, fp, parsed.Streams[0].DtlsFingerprint())
}

func TestBuildLocalOfferZrtpRequiresHash(t *testing.T) {
	cfg := testConfig(media_sdp.EncryptionZRTP, media_sdp.EncryptionZRTP)
	_, err := BuildLocalOffer(cfg, audioSpec("192.168.0.10", 7078))
	assert.Error(t, err)

	spec := audioSpec("192.168.0.10", 7078)
	spec.Streams[0].ZrtpHash = "1.10 fe30efd02423cb054e50efd0248742ac7a52c8f91bc2df881ae642c371ba46df"
	offer, err := BuildLocalOffer(cfg, spec)
	require.NoError(t, err)
	assert.Equal(t, spec.Streams[0].ZrtpHash, offer.Streams[0].ZrtpHash())
	assert.Equal(t, media_sdp.ProtoRtpAvp, offer.Streams[0].Proto())
}

func TestBuildLocalOfferBundle(t *testing.T) {
	cfg := testConfig(media_sdp.EncryptionNone, media_sdp.EncryptionNone)
	cfg.Bundle = true
	offer, err := BuildLocalOffer(cfg, LocalSpec{
		Addr: "192.168.0.10",
		Streams: []StreamSpec{
			{Type: media_sdp.StreamAudio, Port: 7078},
			{Type: media_sdp.StreamVideo, Port: 9078, Codecs: vp8, Label: "main"},
			{Type: media_sdp.StreamVideo, Port: 9080, Codecs: vp8, Disabled: true},
		},
	})
	require.NoError(t, err)

	require.Len(t, offer.Bundles, 1)
	assert.Equal(t, []string{"as", "vs"}, offer.Bundles[0].Mids)
	assert.Equal(t, 0, offer.LookupMid("as"))
	assert.Equal(t, 1, offer.LookupMid("vs"))
	assert.Equal(t, 0, offer.Streams[2].RtpPort)

	video := offer.Streams[1]
	assert.True(t, video.RtcpMux())
	assert.Equal(t, MidExtensionID, video.MidRtpExtHeaderId())
	assert.True(t, video.HasImplicitAvpf())
	feats := video.Payloads()[0].AvpfParams.Features
	assert.NotZero(t, feats&media_sdp.AvpfFeaturePli)
	assert.NotZero(t, feats&media_sdp.AvpfFeatureFir)

	raw := marshalString(t, offer)
	assert.Contains(t, raw, "a=group:BUNDLE as vs")
	assert.Contains(t, raw, "a=extmap:1 "+media_sdp.ExtensionMidURN)
	assert.Contains(t, raw, "a=label:main")
	assert.Contains(t, raw, "m=video 0 RTP/AVP 96")
}

func TestBuildLocalOfferCapabilityNegotiation(t *testing.T) {
	cfg := testConfig(media_sdp.EncryptionNone, media_sdp.EncryptionNone, media_sdp.EncryptionSRTP, media_sdp.EncryptionDTLS)
	offer, err := BuildLocalOffer(cfg, audioSpec("192.168.0.10", 7078))
	require.NoError(t, err)

	assert.True(t, offer.Params.CapabilityNegotiationSupported)
	assert.Equal(t, media_sdp.ProtoRtpAvp, offer.Streams[0].Proto())

	names := make(map[string]int)
	for _, a := range offer.Acaps {
		names[a.Name]++
	}
	assert.Equal(t, map[string]int{"crypto": 2, "fingerprint": 1, "setup": 1}, names)
	assert.ElementsMatch(t, []string{"RTP/SAVP", "UDP/TLS/RTP/SAVP"}, tcapValues(offer.Tcaps))

	encs := offer.Streams[0].SupportedEncryptionsInPotentialCfgs()
	assert.Contains(t, encs, media_sdp.EncryptionSRTP)
	assert.Contains(t, encs, media_sdp.EncryptionDTLS)

	raw := marshalString(t, offer)
	assert.Contains(t, raw, "a=tcap:")
	assert.Contains(t, raw, "a=pcfg:1 ")

	// разобранное предложение восстанавливает потенциальные конфигурации
	parsed := parseSdp(t, raw)
	assert.Equal(t, len(offer.Streams[0].Cfgs), len(parsed.Streams[0].Cfgs))
	assert.ElementsMatch(t, encs, parsed.Streams[0].SupportedEncryptionsInPotentialCfgs())
}

func tcapValues(tcaps map[uint]string) []string {
	out := make([]string, 0, len(tcaps))
	for _, v := range tcaps {
		out = append(out, v)
	}
	return out
}

func TestBuilderSessionVersion(t *testing.T) {
	b, err := NewBuilder(testConfig(media_sdp.EncryptionNone, media_sdp.EncryptionNone))
	require.NoError(t, err)

	first, err := b.BuildLocalOffer(audioSpec("192.168.0.10", 7078))
	require.NoError(t, err)
	second, err := b.BuildLocalOffer(audioSpec("192.168.0.10", 7078))
	require.NoError(t, err)

	assert.Equal(t, first.SessionId, second.SessionId)
	assert.Equal(t, first.SessionVer+1, second.SessionVer)
	assert.Equal(t, first.Streams[0].Payloads()[0].Number, second.Streams[0].Payloads()[0].Number)
	assert.NotEmpty(t, b.CName())
}

func TestBuildLocalOfferErrors(t *testing.T) {
	cfg := testConfig(media_sdp.EncryptionNone, media_sdp.EncryptionNone)

	_, err := BuildLocalOffer(cfg, LocalSpec{Addr: "192.168.0.10"})
	assert.Error(t, err)

	_, err = BuildLocalOffer(cfg, LocalSpec{
		Addr:    "192.168.0.10",
		Streams: []StreamSpec{{Type: media_sdp.StreamVideo, Port: 9078}},
	})
	assert.Error(t, err)

	bad := cfg
	bad.EncryptionsSupported = nil
	_, err = NewBuilder(bad)
	assert.Error(t, err)
}
