package media_sdp

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callOffer = `v=0
o=alice 2890844526 2890844527 IN IP4 192.168.0.10
s=Talk
c=IN IP4 192.168.0.10
t=0 0
a=group:BUNDLE as vs
a=ice-ufrag:F7gI
a=ice-pwd:x9cml/YzichV2+XlhiMu8g
a=rtcp-xr:rcvr-rtt=all:10000 stat-summary=loss,dup,jitt voip-metrics
m=audio 7078 RTP/SAVPF 0 8 101
a=rtpmap:0 PCMU/8000
a=rtpmap:8 PCMA/8000
a=rtpmap:101 telephone-event/8000
a=fmtp:101 0-15
a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:WVNfX19zZW1jdGwgKCkgewkyMjA7fQp9CnVubGVz
a=mid:as
a=rtcp-mux
a=rtcp-fb:* trr-int 5000
a=rtcp-fb:* nack
a=x-custom:42
m=video 9078 RTP/AVP 96
a=rtpmap:96 VP8/90000
a=mid:vs
a=sendonly
a=label:main
a=content:slides
m=text 0 RTP/AVP 98
a=rtpmap:98 t140/1000
`

func mustParse(t *testing.T, raw string) *MediaDescription {
	t.Helper()
	md, err := ParseMediaDescription([]byte(raw))
	require.NoError(t, err)
	return md
}

func roundTrip(t *testing.T, md *MediaDescription) *MediaDescription {
	t.Helper()
	blob, err := md.Marshal()
	require.NoError(t, err)
	return mustParse(t, string(blob))
}

func newAudioStream(addr string, port int, proto MediaProto) *StreamDescription {
	s := NewStreamDescription()
	s.RtpAddr = addr
	s.RtpPort = port
	s.RtcpAddr = addr
	s.RtcpPort = port + 1
	cfg, _ := s.ActualConfiguration()
	cfg.Proto = proto
	cfg.Payloads = []*PayloadType{NewPayloadType(0, "PCMU", 8000, 1)}
	return s
}

func TestParseMediaDescription(t *testing.T) {
	md := mustParse(t, callOffer)

	assert.Equal(t, "Talk", md.Name)
	assert.Equal(t, "alice", md.Username)
	assert.Equal(t, uint64(2890844526), md.SessionId)
	assert.Equal(t, uint64(2890844527), md.SessionVer)
	assert.Equal(t, "192.168.0.10", md.Addr)
	assert.Equal(t, DirSendRecv, md.Dir)
	assert.Equal(t, "F7gI", md.IceUfrag)
	assert.Equal(t, []TimeWindow{{Start: -1, Stop: -1}}, md.Times)
	assert.True(t, md.RtcpXr.Enabled)
	assert.False(t, md.Params.CapabilityNegotiationSupported)

	require.Len(t, md.Bundles, 1)
	assert.Equal(t, []string{"as", "vs"}, md.Bundles[0].Mids)

	require.Equal(t, 3, md.NbStreams())
	audio := md.Streams[0]
	assert.Equal(t, StreamAudio, audio.Type)
	assert.Equal(t, ProtoRtpSavpf, audio.Proto())
	assert.Equal(t, "192.168.0.10", audio.RtpAddr)
	assert.Equal(t, 7078, audio.RtcpPort, "rtcp-mux: RTCP на порту RTP")
	require.Len(t, audio.Payloads(), 3)
	assert.Equal(t, "telephone-event", audio.Payloads()[2].MimeType)
	assert.Equal(t, "0-15", audio.Payloads()[2].RecvFmtp)
	require.Len(t, audio.Crypto(), 1)
	assert.Equal(t, SuiteAesCm128HmacSha1_80, audio.Crypto()[0].Algo)
	assert.Equal(t, uint16(5000), audio.Payloads()[0].AvpfParams.TrrInterval)

	cfg, ok := audio.ActualConfiguration()
	require.True(t, ok)
	assert.True(t, cfg.RtcpFb.GenericNackEnabled)
	require.Len(t, cfg.CustomAttributes, 1)
	assert.Equal(t, "x-custom", cfg.CustomAttributes[0].Key)
	assert.Equal(t, 10000, cfg.RtcpXr.RcvrRttMaxSize)

	video := md.Streams[1]
	assert.Equal(t, DirSendOnly, video.Direction())
	assert.Equal(t, "main", video.Label)
	assert.Equal(t, "slides", video.Content)
	assert.Equal(t, 9079, video.RtcpPort)

	text := md.Streams[2]
	assert.Equal(t, StreamText, text.Type)
	assert.False(t, text.Enabled())
	assert.Equal(t, DirInactive, text.Direction())
}

func TestParseMediaDescriptionError(t *testing.T) {
	_, err := ParseMediaDescription([]byte("это не SDP"))
	require.Error(t, err)
	assert.True(t, IsSDPError(err, ErrorCodeSDPParsing))
}

func TestRoundTrip(t *testing.T) {
	md := mustParse(t, callOffer)
	reparsed := roundTrip(t, md)

	assert.Equal(t, Unchanged, md.Equal(reparsed), PrintDifferences(md.Equal(reparsed)))
	assert.Equal(t, Unchanged, reparsed.Equal(md))
	assert.Equal(t, md.Bundles, reparsed.Bundles)
	assert.Equal(t, md.Streams[1].Label, reparsed.Streams[1].Label)
	cfg, _ := reparsed.Streams[0].ActualConfiguration()
	require.Len(t, cfg.CustomAttributes, 1)
	assert.Equal(t, "42", cfg.CustomAttributes[0].Value)
}

func TestRoundTripSessionLayouts(t *testing.T) {
	const header = "v=0\no=- 1 1 IN IP4 192.168.0.10\ns=-\n"
	tests := []struct {
		name  string
		raw   string
		wire  []string
		check func(t *testing.T, md *MediaDescription)
	}{
		{
			name: "multicast сессии с TTL",
			raw:  header + "c=IN IP4 224.2.1.1/127\nt=0 0\nm=audio 7078 RTP/AVP 0\n",
			wire: []string{"c=IN IP4 224.2.1.1/127"},
			check: func(t *testing.T, md *MediaDescription) {
				assert.Equal(t, "224.2.1.1", md.Addr)
				assert.Equal(t, 127, md.Ttl)
				cfg, _ := md.Streams[0].ActualConfiguration()
				assert.Equal(t, 127, cfg.Ttl)
				assert.Equal(t, MulticastReceiver, md.Streams[0].MulticastRole)
			},
		},
		{
			name: "multicast потока со своим TTL",
			raw:  header + "c=IN IP4 224.2.1.1/127\nt=0 0\nm=audio 7078 RTP/AVP 0\nc=IN IP4 224.2.1.2/64\n",
			wire: []string{"c=IN IP4 224.2.1.1/127", "c=IN IP4 224.2.1.2/64"},
			check: func(t *testing.T, md *MediaDescription) {
				cfg, _ := md.Streams[0].ActualConfiguration()
				assert.Equal(t, 64, cfg.Ttl)
				assert.Equal(t, "224.2.1.2", md.Streams[0].RtpAddr)
			},
		},
		{
			name: "SCTP data channel",
			raw:  header + "c=IN IP4 192.168.0.10\nt=0 0\nm=application 5000 UDP/DTLS/SCTP webrtc-datachannel\na=sctp-port:5000\n",
			wire: []string{"m=application 5000 UDP/DTLS/SCTP webrtc-datachannel", "a=sctp-port:5000"},
			check: func(t *testing.T, md *MediaDescription) {
				cfg, _ := md.Streams[0].ActualConfiguration()
				assert.False(t, cfg.CarriesRtp())
				assert.Equal(t, []string{"webrtc-datachannel"}, cfg.Formats)
				assert.Empty(t, cfg.Payloads)
				assert.True(t, md.Streams[0].Enabled())
			},
		},
		{
			name: "UDPTL T.38",
			raw:  header + "c=IN IP4 192.168.0.10\nt=0 0\nm=image 5004 udptl t38\na=T38FaxVersion:0\n",
			wire: []string{"m=image 5004 udptl t38"},
			check: func(t *testing.T, md *MediaDescription) {
				cfg, _ := md.Streams[0].ActualConfiguration()
				assert.Equal(t, []string{"t38"}, cfg.Formats)
			},
		},
		{
			name: "фиксированное время до эпохи Unix",
			raw:  header + "c=IN IP4 192.168.0.10\nt=100 200\nm=audio 7078 RTP/AVP 0\n",
			wire: []string{"t=100 200"},
			check: func(t *testing.T, md *MediaDescription) {
				assert.Equal(t, []TimeWindow{{Start: 100 - ntpEpochOffset, Stop: 200 - ntpEpochOffset}}, md.Times)
			},
		},
		{
			name: "начало без окончания",
			raw:  header + "c=IN IP4 192.168.0.10\nt=3900000000 0\nm=audio 7078 RTP/AVP 0\n",
			wire: []string{"t=3900000000 0"},
			check: func(t *testing.T, md *MediaDescription) {
				assert.Equal(t, []TimeWindow{{Start: 3900000000 - ntpEpochOffset, Stop: unboundedTime}}, md.Times)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := mustParse(t, tt.raw)
			tt.check(t, md)

			blob, err := md.Marshal()
			require.NoError(t, err)
			for _, line := range tt.wire {
				assert.Contains(t, string(blob), line+"\r\n")
			}

			reparsed := mustParse(t, string(blob))
			tt.check(t, reparsed)
			assert.Equal(t, Unchanged, md.Equal(reparsed), PrintDifferences(md.Equal(reparsed)))
		})
	}
}

func TestNonRtpFormatsChangeCodec(t *testing.T) {
	raw := "v=0\no=- 1 1 IN IP4 192.168.0.10\ns=-\nc=IN IP4 192.168.0.10\nt=0 0\nm=image 5004 udptl t38\n"
	a := mustParse(t, raw)
	b := mustParse(t, strings.Replace(raw, "udptl t38", "udptl t38 t37", 1))
	assert.NotZero(t, a.Equal(b)&CodecChanged)

	declined := a.Clone()
	declined.Streams[0].RtpPort = 0
	blob, err := declined.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(blob), "m=image 0 udptl t38\r\n")
}

func TestEqualIsReflexive(t *testing.T) {
	md := mustParse(t, callOffer)
	assert.Equal(t, Unchanged, md.Equal(md))
	assert.Equal(t, Unchanged, md.CompareToChosenConfiguration(md))
	assert.Equal(t, Unchanged, md.CompareToActualConfiguration(md))
}

func TestNetworkChangedIsSymmetric(t *testing.T) {
	a := mustParse(t, callOffer)
	b := a.Clone()
	b.Addr = "10.0.0.1"
	b.Streams[0].RtpAddr = "10.0.0.1"

	assert.NotZero(t, a.Equal(b)&NetworkChanged)
	assert.NotZero(t, b.Equal(a)&NetworkChanged)
}

func TestScenarioLocalOfferPreservesCodec(t *testing.T) {
	md := NewMediaDescription(CapNegParams{})
	md.Addr = "192.168.0.10"
	md.Streams = append(md.Streams, newAudioStream(md.Addr, 7078, ProtoRtpAvp))

	blob, err := md.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "a=sendrecv")
	assert.Contains(t, string(blob), "m=audio 7078 RTP/AVP 0")

	reparsed := mustParse(t, string(blob))
	require.Len(t, reparsed.Streams, 1)
	pt := reparsed.Streams[0].Payloads()[0]
	assert.Equal(t, 0, pt.Number)
	assert.Equal(t, "PCMU", pt.MimeType)
	assert.Equal(t, 8000, pt.ClockRate)
	assert.Equal(t, DirSendRecv, reparsed.Streams[0].Direction())
	assert.Equal(t, Unchanged, md.Equal(reparsed), PrintDifferences(md.Equal(reparsed)))
}

func TestScenarioDtlsRole(t *testing.T) {
	md := NewMediaDescription(CapNegParams{})
	md.Addr = "192.168.0.10"
	s := newAudioStream(md.Addr, 7078, ProtoUdpTlsRtpSavpf)
	s.SetDtls(DtlsRoleIsClient, "sha-256 AB:CD:EF:01:23")
	md.Streams = append(md.Streams, s)

	blob, err := md.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(blob), "a=setup:active")
	assert.Contains(t, string(blob), "a=fingerprint:sha-256 AB:CD:EF:01:23")

	reparsed := mustParse(t, string(blob))
	assert.Equal(t, DtlsRoleIsClient, reparsed.Streams[0].DtlsRole())
	assert.Equal(t, "sha-256 AB:CD:EF:01:23", reparsed.Streams[0].DtlsFingerprint())
	assert.True(t, reparsed.HasDtls())
}

func TestScenarioIceRestart(t *testing.T) {
	a := NewMediaDescription(CapNegParams{})
	a.IceUfrag = "abc"
	b := NewMediaDescription(CapNegParams{})
	b.IceUfrag = "xyz"

	assert.NotZero(t, a.GlobalEqual(b)&IceRestartDetected)

	b.IceUfrag = ""
	assert.Zero(t, a.GlobalEqual(b)&IceRestartDetected)
}

func TestDisabledStreamRoundTrip(t *testing.T) {
	md := NewMediaDescription(CapNegParams{})
	md.Addr = "192.168.0.10"
	md.Streams = append(md.Streams, newAudioStream(md.Addr, 7078, ProtoRtpAvp))
	disabled := NewStreamDescription()
	disabled.Type = StreamVideo
	disabled.RtpAddr = md.Addr
	md.Streams = append(md.Streams, disabled)

	blob, err := md.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(blob), "m=video 0 RTP/AVP 0")

	reparsed := mustParse(t, string(blob))
	require.Len(t, reparsed.Streams, 2)
	assert.False(t, reparsed.Streams[1].Enabled())
	assert.Equal(t, 1, reparsed.NbActiveStreams())
}

func TestInactiveSessionHidesAddress(t *testing.T) {
	md := NewMediaDescription(CapNegParams{})
	md.Addr = "192.168.0.10"
	s := newAudioStream(md.Addr, 7078, ProtoRtpAvp)
	s.SetDir(DirInactive)
	md.Streams = append(md.Streams, s)

	blob, err := md.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(blob), "c=IN IP4 0.0.0.0")

	md.IceUfrag = "abc"
	blob, err = md.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(blob), "c=IN IP4 192.168.0.10")
}

func TestToSdpRejectsInconsistentConfiguration(t *testing.T) {
	md := NewMediaDescription(CapNegParams{})
	s := newAudioStream("192.168.0.10", 7078, ProtoRtpAvp)
	s.SetCrypto([]SrtpCrypto{{Tag: 1, Algo: SuiteAesCm128HmacSha1_80, MasterKey: "key"}})
	md.Streams = append(md.Streams, s)

	_, err := md.ToSdp()
	require.Error(t, err)
	assert.True(t, IsSDPError(err, ErrorCodeSDPGeneration))
	assert.Contains(t, err.Error(), "crypto")
}

func TestFindBestStream(t *testing.T) {
	md := NewMediaDescription(CapNegParams{})
	md.Streams = append(md.Streams,
		newAudioStream("192.168.0.10", 7078, ProtoRtpSavp),
		newAudioStream("192.168.0.10", 7080, ProtoUdpTlsRtpSavpf),
	)

	assert.Equal(t, 1, md.FindIdxBestStream(StreamAudio))
	best, ok := md.FindBestStream(StreamAudio)
	require.True(t, ok)
	assert.Equal(t, 7080, best.RtpPort)

	assert.Equal(t, 0, md.FindIdxSecureStreamOfType(StreamAudio))
	assert.Equal(t, -1, md.FindIdxBestStream(StreamVideo))
	_, ok = md.FindBestStream(StreamVideo)
	assert.False(t, ok)

	md.Streams[1].Disable()
	assert.Equal(t, 0, md.FindIdxBestStream(StreamAudio))
}

func TestStreamLookups(t *testing.T) {
	md := mustParse(t, callOffer)

	assert.Equal(t, 1, md.FindIdxStreamWithLabel("main"))
	assert.Equal(t, 1, md.FindIdxStreamWithContent("slides"))
	assert.Equal(t, 0, md.FindIdxStreamWithSdpAttribute("x-custom", ""))
	assert.Equal(t, 0, md.FindIdxStreamWithSdpAttribute("x-custom", "42"))
	assert.Equal(t, -1, md.FindIdxStreamWithSdpAttribute("x-custom", "43"))

	assert.Equal(t, 1, md.NbStreamsOfType(StreamText))
	assert.Equal(t, 0, md.NbActiveStreamsOfType(StreamText))
	s, ok := md.ActiveStreamOfType(StreamVideo, 0)
	require.True(t, ok)
	assert.Equal(t, "vs", s.Mid())
	_, ok = md.ActiveStreamOfType(StreamVideo, 1)
	assert.False(t, ok)

	_, ok = md.StreamIdx(5)
	assert.False(t, ok)
}

func TestIndexOfTransportOwner(t *testing.T) {
	md := mustParse(t, callOffer)

	assert.Equal(t, 0, md.LookupMid("as"))
	assert.Equal(t, -1, md.LookupMid("missing"))
	assert.Equal(t, 0, md.IndexOfTransportOwner(md.Streams[1]))
	assert.Equal(t, []int{0}, md.TransportOwnerIndexes())
	assert.Equal(t, TransportOwnerNotBundled, md.IndexOfTransportOwner(md.Streams[2]))

	md.Streams[2].actualForUpdate().Mid = "ts"
	assert.Equal(t, TransportOwnerNotBundled, md.IndexOfTransportOwner(md.Streams[2]))

	md.AddNewBundle(&StreamBundle{Mids: []string{"gone", "ts"}})
	assert.Equal(t, TransportOwnerUnresolved, md.IndexOfTransportOwner(md.Streams[2]))
}

func TestHasDir(t *testing.T) {
	tests := []struct {
		name string
		dirs []StreamDir
		addr string
		want StreamDir
	}{
		{"только recvonly", []StreamDir{DirRecvOnly, DirInactive}, "192.168.0.10", DirRecvOnly},
		{"только sendonly", []StreamDir{DirSendOnly}, "192.168.0.10", DirSendOnly},
		{"есть sendrecv", []StreamDir{DirRecvOnly, DirSendRecv}, "192.168.0.10", DirSendRecv},
		{"все inactive", []StreamDir{DirInactive, DirInactive}, "192.168.0.10", DirInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := NewMediaDescription(CapNegParams{})
			md.Addr = tt.addr
			for i, dir := range tt.dirs {
				s := newAudioStream(tt.addr, 7078+2*i, ProtoRtpAvp)
				s.SetDir(dir)
				md.Streams = append(md.Streams, s)
			}
			assert.True(t, md.HasDir(tt.want))
		})
	}
}

func TestContainsStreamWithDirNullAddress(t *testing.T) {
	md := NewMediaDescription(CapNegParams{})
	md.Addr = "0.0.0.0"
	md.Streams = append(md.Streams, newAudioStream("0.0.0.0", 7078, ProtoRtpAvp))

	assert.True(t, md.ContainsStreamWithDir(DirSendOnly))
	assert.True(t, IsNullAddress("::0"))
	assert.False(t, IsNullAddress("127.0.0.1"))
}

func TestSecurityPredicates(t *testing.T) {
	md := NewMediaDescription(CapNegParams{})
	assert.False(t, md.HasAvpf(), "без потоков")
	assert.False(t, md.HasIpv6())

	md.Streams = append(md.Streams,
		newAudioStream("2001:db8::1", 7078, ProtoRtpSavpf),
		newAudioStream("2001:db8::1", 7080, ProtoRtpAvp),
	)
	assert.True(t, md.HasSrtp())
	assert.False(t, md.HasAvpf())
	assert.True(t, md.HasIpv6())

	md.Streams[1].Disable()
	assert.True(t, md.HasAvpf(), "отключенные потоки не учитываются")

	md.SetDir(DirRecvOnly)
	assert.Equal(t, DirRecvOnly, md.Streams[0].Direction())
	assert.Equal(t, DirSendRecv, md.Streams[1].Direction())
}

func TestFreeIndexes(t *testing.T) {
	md := NewMediaDescription(CapNegParams{CapabilityNegotiationSupported: true})
	assert.Equal(t, uint(1), md.FreeAcapIdx())
	assert.Equal(t, uint(1), md.FreeTcapIdx())

	s := newAudioStream("192.168.0.10", 7078, ProtoRtpAvp)
	md.Streams = append(md.Streams, s)
	assert.Equal(t, uint(1), s.FreeCfgIdx())

	require.True(t, md.AddAcap(1, "ptime", "20"))
	require.True(t, s.AddAcap(2, "ptime", "30"))
	require.True(t, md.AddTcap(1, "RTP/AVPF"))
	assert.Equal(t, uint(3), md.FreeAcapIdx())
	assert.Equal(t, uint(2), md.FreeTcapIdx())

	assert.False(t, md.AddAcap(2, "ptime", "40"), "индекс занят потоком")
	assert.False(t, md.AddAcap(0, "ptime", "40"))
}

func TestAllAcapForStreamGlobalWins(t *testing.T) {
	md := NewMediaDescription(CapNegParams{CapabilityNegotiationSupported: true})
	s := newAudioStream("192.168.0.10", 7078, ProtoRtpAvp)
	md.Streams = append(md.Streams, s)

	require.True(t, md.AddAcap(1, "ptime", "20"))
	s.Acaps[1] = Acap{Name: "ptime", Value: "30"}
	s.Acaps[2] = Acap{Name: "maxptime", Value: "60"}

	all := md.AllAcapForStream(0)
	assert.Equal(t, map[uint]Acap{
		1: {Name: "ptime", Value: "20"},
		2: {Name: "maxptime", Value: "60"},
	}, all)
}

func TestClone(t *testing.T) {
	md := mustParse(t, callOffer)
	clone := md.Clone()

	assert.Empty(t, cmp.Diff(md, clone, cmp.AllowUnexported(StreamDescription{})))

	clone.Streams[0].SetDir(DirInactive)
	clone.Bundles[0].Mids[0] = "changed"
	clone.Streams[0].Payloads()[0].MimeType = "changed"

	assert.Equal(t, DirSendRecv, md.Streams[0].Direction())
	assert.Equal(t, "as", md.Bundles[0].Mids[0])
	assert.Equal(t, "PCMU", md.Streams[0].Payloads()[0].MimeType)
}

func TestMarshalSessionAttributes(t *testing.T) {
	md := mustParse(t, callOffer)
	md.SetNortpproxy = true
	md.Record = RecordStateOn
	blob, err := md.Marshal()
	require.NoError(t, err)

	text := string(blob)
	for _, line := range []string{
		"a=nortpproxy:yes",
		"a=ice-ufrag:F7gI",
		"a=group:BUNDLE as vs",
		"a=record:on",
		"a=rtcp-fb:* trr-int 5000",
		"a=rtcp-fb:* nack",
	} {
		assert.Contains(t, text, line)
	}
	assert.Equal(t, 1, strings.Count(text, "a=rtcp-xr:"), "rtcp-xr потока совпадает с сессией")
}
