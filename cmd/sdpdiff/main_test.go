package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arzzra/media_negotiation/pkg/media_sdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseSdp = `v=0
o=alice 1 1 IN IP4 192.168.0.10
s=Talk
c=IN IP4 192.168.0.10
t=0 0
m=audio 7078 RTP/AVP 0 8
a=rtpmap:0 PCMU/8000
a=rtpmap:8 PCMA/8000
`

func writeSdp(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	a := writeSdp(t, dir, "a.sdp", baseSdp)
	same := writeSdp(t, dir, "same.sdp", baseSdp)
	moved := writeSdp(t, dir, "moved.sdp", strings.Replace(baseSdp, "m=audio 7078", "m=audio 8000", 1))
	cfg := media_sdp.DefaultNegotiationConfig()

	var out bytes.Buffer
	require.NoError(t, run(&out, cfg, a, same, false))
	assert.Equal(t, "NONE\n", out.String())

	out.Reset()
	require.NoError(t, run(&out, cfg, a, moved, false))
	assert.Equal(t, "NETWORK_CHANGED\n", out.String())

	out.Reset()
	require.NoError(t, run(&out, cfg, a, same, true))
	assert.Contains(t, out.String(), "m=audio 7078 RTP/AVP 0 8")
	assert.Contains(t, out.String(), "roundtrip: NONE")
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	a := writeSdp(t, dir, "a.sdp", baseSdp)
	broken := writeSdp(t, dir, "broken.sdp", "v=x\n")
	cfg := media_sdp.DefaultNegotiationConfig()

	var out bytes.Buffer
	assert.Error(t, run(&out, cfg, a, filepath.Join(dir, "missing.sdp"), false))
	assert.Error(t, run(&out, cfg, broken, a, false))
	assert.Empty(t, out.String())
}
