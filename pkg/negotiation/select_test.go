package negotiation

import (
	"testing"

	"github.com/arzzra/media_negotiation/pkg/media_sdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sdpHeader = `v=0
o=alice 1 1 IN IP4 192.168.0.10
s=Talk
c=IN IP4 192.168.0.10
t=0 0
`

const capnegOffer = sdpHeader + `a=acap:1 crypto:1 AES_CM_128_HMAC_SHA1_80 inline:WVNfX19zZW1jdGwgKCkgewkyMjA7fQp9CnVubGVz
a=tcap:1 RTP/SAVP
m=audio 7078 RTP/AVP 0 8
a=rtpmap:0 PCMU/8000
a=rtpmap:8 PCMA/8000
a=pcfg:1 a=1 t=1
`

func testConfig(enc media_sdp.MediaEncryption, supported ...media_sdp.MediaEncryption) media_sdp.NegotiationConfig {
	cfg := media_sdp.DefaultNegotiationConfig()
	cfg.Encryption = enc
	cfg.EncryptionsSupported = supported
	cfg.CapabilityNegotiation = len(supported) > 1
	return cfg
}

func parseSdp(t *testing.T, raw string) *media_sdp.MediaDescription {
	t.Helper()
	md, err := media_sdp.ParseMediaDescription([]byte(raw))
	require.NoError(t, err)
	return md
}

func TestSelectForOfferPrefersConfiguredEncryption(t *testing.T) {
	tests := []struct {
		name      string
		cfg       media_sdp.NegotiationConfig
		wantIndex uint
		wantProto media_sdp.MediaProto
	}{
		{
			name:      "srtp предпочтителен",
			cfg:       testConfig(media_sdp.EncryptionSRTP, media_sdp.EncryptionSRTP, media_sdp.EncryptionNone),
			wantIndex: 1,
			wantProto: media_sdp.ProtoRtpSavp,
		},
		{
			name:      "без шифрования предпочтительно",
			cfg:       testConfig(media_sdp.EncryptionNone, media_sdp.EncryptionNone, media_sdp.EncryptionSRTP),
			wantIndex: 0,
			wantProto: media_sdp.ProtoRtpAvp,
		},
		{
			name:      "только srtp",
			cfg:       testConfig(media_sdp.EncryptionSRTP, media_sdp.EncryptionSRTP),
			wantIndex: 1,
			wantProto: media_sdp.ProtoRtpSavp,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offer := parseSdp(t, capnegOffer)
			choices, err := SelectConfigurations(tt.cfg, nil, offer)
			require.NoError(t, err)
			require.Len(t, choices, 1)
			assert.False(t, choices[0].Declined)
			assert.Equal(t, tt.wantIndex, choices[0].Index)
			assert.Equal(t, tt.wantIndex, offer.Streams[0].ChosenConfigurationIndex())
			assert.Equal(t, tt.wantProto, offer.Streams[0].Proto())
		})
	}
}

func TestSelectForOfferDeclines(t *testing.T) {
	offer := parseSdp(t, sdpHeader+`m=audio 7078 RTP/SAVP 0
a=rtpmap:0 PCMU/8000
a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:WVNfX19zZW1jdGwgKCkgewkyMjA7fQp9CnVubGVz
m=video 0 RTP/AVP 96
a=rtpmap:96 VP8/90000
`)
	choices, err := SelectConfigurations(testConfig(media_sdp.EncryptionNone, media_sdp.EncryptionNone), nil, offer)
	assert.ErrorIs(t, err, ErrNoAcceptableConfiguration)
	require.Len(t, choices, 2)
	assert.True(t, choices[0].Declined)
	assert.True(t, choices[1].Declined)
}

func TestSelectForOfferAvpfPolicy(t *testing.T) {
	raw := sdpHeader + `m=audio 7078 RTP/AVPF 0
a=rtpmap:0 PCMU/8000
m=audio 7080 RTP/AVP 8
a=rtpmap:8 PCMA/8000
`
	cfg := testConfig(media_sdp.EncryptionNone, media_sdp.EncryptionNone)

	choices, err := SelectConfigurations(cfg, nil, parseSdp(t, raw))
	require.NoError(t, err)
	assert.True(t, choices[0].Declined)
	assert.False(t, choices[1].Declined)

	cfg.Avpf = true
	choices, err = SelectConfigurations(cfg, nil, parseSdp(t, raw))
	require.NoError(t, err)
	assert.False(t, choices[0].Declined)
	assert.False(t, choices[1].Declined)
}

func TestSelectFromAnswer(t *testing.T) {
	cfg := testConfig(media_sdp.EncryptionNone, media_sdp.EncryptionNone, media_sdp.EncryptionSRTP)
	local, err := BuildLocalOffer(cfg, LocalSpec{
		Addr:    "192.168.0.10",
		Streams: []StreamSpec{{Type: media_sdp.StreamAudio, Port: 7078}},
	})
	require.NoError(t, err)

	var savpIdx uint
	for idx, c := range local.Streams[0].Cfgs {
		if idx != media_sdp.ActualConfigurationIndex && c.Proto == media_sdp.ProtoRtpSavp {
			savpIdx = idx
			break
		}
	}
	require.NotZero(t, savpIdx)

	t.Run("по протоколу ответа", func(t *testing.T) {
		answer := parseSdp(t, sdpHeader+`m=audio 9000 RTP/SAVP 0
a=rtpmap:0 PCMU/8000
a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:WVNfX19zZW1jdGwgKCkgewkyMjA7fQp9CnVubGVz
`)
		choices, err := SelectConfigurations(cfg, local, answer)
		require.NoError(t, err)
		assert.Equal(t, []StreamChoice{{Index: savpIdx}}, choices)
		assert.Equal(t, media_sdp.ProtoRtpSavp, local.Streams[0].Proto())
	})

	t.Run("отклоненный поток", func(t *testing.T) {
		answer := parseSdp(t, sdpHeader+`m=audio 0 RTP/AVP 0
`)
		choices, err := SelectConfigurations(cfg, local, answer)
		require.NoError(t, err)
		assert.True(t, choices[0].Declined)
	})

	t.Run("число потоков", func(t *testing.T) {
		answer := parseSdp(t, sdpHeader+`m=audio 9000 RTP/AVP 0
m=video 9002 RTP/AVP 96
`)
		_, err := SelectConfigurations(cfg, local, answer)
		assert.ErrorIs(t, err, ErrStreamCountMismatch)
	})

	t.Run("без удаленного описания", func(t *testing.T) {
		_, err := SelectConfigurations(cfg, local, nil)
		assert.Error(t, err)
	})
}
