package media_sdp

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const negotiationIni = `
[negotiation]
session_name = Conference
capability_negotiation = true
tcap_lines_merged = true
encryption = srtp
encryptions_supported = srtp, dtls, none
avpf = true
bundle = true
codecs = 96 opus/48000/2, 0 PCMU/8000, 101 telephone-event/8000
ptime = 30
`

func TestParseNegotiationConfig(t *testing.T) {
	cfg, err := ParseNegotiationConfig(negotiationIni)
	require.NoError(t, err)

	assert.Equal(t, "Conference", cfg.SessionName)
	assert.Equal(t, "MediaNegotiation/1.0", cfg.UserAgent, "значение по умолчанию")
	assert.True(t, cfg.CapabilityNegotiation)
	assert.True(t, cfg.TcapLinesMerged)
	assert.False(t, cfg.CfgLinesMerged)
	assert.Equal(t, EncryptionSRTP, cfg.Encryption)
	assert.Equal(t, []MediaEncryption{EncryptionSRTP, EncryptionDTLS, EncryptionNone}, cfg.EncryptionsSupported)
	assert.True(t, cfg.Avpf)
	assert.True(t, cfg.RtcpFbImplicit)
	assert.True(t, cfg.Bundle)
	assert.Equal(t, 30, cfg.Ptime)

	require.Len(t, cfg.SupportedCodecs, 3)
	assert.Equal(t, CodecInfo{Number: 96, Name: "opus", ClockRate: 48000, Channels: 2}, cfg.SupportedCodecs[0])
	assert.Equal(t, CodecInfo{Number: 0, Name: "PCMU", ClockRate: 8000, Channels: 1}, cfg.SupportedCodecs[1])

	assert.Equal(t, CapNegParams{CapabilityNegotiationSupported: true, TcapLinesMerged: true}, cfg.CapNegParams())
}

func TestParseNegotiationConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		ini  string
	}{
		{"неизвестное шифрование", "[negotiation]\nencryption = rot13\n"},
		{"несколько шифрований без capneg", "[negotiation]\nencryptions_supported = srtp, none\nencryption = none\n"},
		{"шифрование вне списка", "[negotiation]\ncapability_negotiation = true\nencryptions_supported = srtp, zrtp\n"},
		{"некорректный кодек", "[negotiation]\ncodecs = opus\n"},
		{"некорректный ptime", "[negotiation]\nptime = abc\n"},
		{"дублированный payload type", "[negotiation]\ncodecs = 0 PCMU/8000, 0 PCMA/8000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNegotiationConfig(tt.ini)
			require.Error(t, err)
			assert.True(t, IsSDPError(err, ErrorCodeInvalidConfig), err.Error())
		})
	}
}

func TestNegotiationConfigValidate(t *testing.T) {
	cfg := DefaultNegotiationConfig()
	require.NoError(t, cfg.Validate())

	cfg.SupportedCodecs = append(cfg.SupportedCodecs, CodecInfo{Number: 128, Name: "x", ClockRate: 8000})
	assert.Error(t, cfg.Validate())

	cfg = DefaultNegotiationConfig()
	cfg.SupportedCodecs[0].ClockRate = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultNegotiationConfig()
	cfg.EncryptionsSupported = nil
	assert.Error(t, cfg.Validate())
}

func TestNegotiationConfigSaveLoad(t *testing.T) {
	cfg, err := ParseNegotiationConfig(negotiationIni)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "negotiation.ini")
	require.NoError(t, SaveNegotiationConfig(path, cfg))

	loaded, err := LoadNegotiationConfig(path)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("конфигурация после записи и чтения отличается (-want +got):\n%s", diff)
	}
}

func TestLoadNegotiationConfigMissingFile(t *testing.T) {
	_, err := LoadNegotiationConfig(filepath.Join(t.TempDir(), "absent.ini"))
	require.Error(t, err)
	assert.True(t, IsSDPError(err, ErrorCodeInvalidConfig))
}
