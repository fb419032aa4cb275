package negotiation

import (
	"context"
	"sync"
	"testing"

	"github.com/arzzra/media_negotiation/pkg/media_sdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transitionRecorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *transitionRecorder) record(from, to RoundState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, string(from)+"->"+string(to))
}

func (r *transitionRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...)
}

func newTestRound(t *testing.T, cfg media_sdp.NegotiationConfig) *Round {
	t.Helper()
	r, err := NewRound(cfg)
	require.NoError(t, err)
	return r
}

// transfer имитирует передачу описания по сети
func transfer(t *testing.T, md *media_sdp.MediaDescription) *media_sdp.MediaDescription {
	t.Helper()
	return parseSdp(t, marshalString(t, md))
}

func TestRoundOfferAnswer(t *testing.T) {
	ctx := context.Background()
	alice := newTestRound(t, testConfig(media_sdp.EncryptionNone, media_sdp.EncryptionNone, media_sdp.EncryptionSRTP))
	bob := newTestRound(t, testConfig(media_sdp.EncryptionSRTP, media_sdp.EncryptionSRTP))

	aliceSteps := &transitionRecorder{}
	alice.SetStateChangeHandler(aliceSteps.record)
	bobSteps := &transitionRecorder{}
	bob.SetStateChangeHandler(bobSteps.record)

	offer, err := alice.CreateOffer(ctx, audioSpec("192.168.0.10", 7078))
	require.NoError(t, err)
	assert.Equal(t, StateOfferSent, alice.State())
	assert.Same(t, offer, alice.Local())

	choices, err := bob.ReceiveOffer(ctx, transfer(t, offer))
	require.NoError(t, err)
	assert.Equal(t, StateOfferReceived, bob.State())
	require.Len(t, choices, 1)
	assert.NotEqual(t, media_sdp.ActualConfigurationIndex, choices[0].Index)
	assert.Equal(t, choices, bob.Choices())

	answer, err := bob.CreateAnswer(ctx, audioSpec("192.168.0.20", 9000))
	require.NoError(t, err)
	assert.Equal(t, StateNegotiated, bob.State())

	require.NoError(t, alice.ReceiveAnswer(ctx, transfer(t, answer)))
	assert.Equal(t, StateNegotiated, alice.State())
	assert.Equal(t, media_sdp.ProtoRtpSavp, alice.Local().Streams[0].Proto())
	assert.Equal(t, media_sdp.Unchanged, alice.Changes())

	assert.Equal(t, []string{"idle->offer_sent", "offer_sent->negotiated"}, aliceSteps.list())
	assert.Equal(t, []string{"idle->offer_received", "offer_received->negotiated"}, bobSteps.list())

	require.NoError(t, alice.Reset(ctx))
	assert.Equal(t, StateIdle, alice.State())
	assert.Nil(t, alice.Local())
	assert.Nil(t, alice.Remote())
	assert.Empty(t, alice.Choices())
}

func TestRoundInvalidEvents(t *testing.T) {
	ctx := context.Background()
	r := newTestRound(t, testConfig(media_sdp.EncryptionNone, media_sdp.EncryptionNone))

	_, err := r.CreateAnswer(ctx, audioSpec("192.168.0.10", 7078))
	assert.Error(t, err)
	assert.Error(t, r.ReceiveAnswer(ctx, parseSdp(t, capnegOffer)))
	assert.Error(t, r.Reset(ctx))
	assert.Equal(t, StateIdle, r.State())

	_, err = r.CreateOffer(ctx, audioSpec("192.168.0.10", 7078))
	require.NoError(t, err)
	_, err = r.CreateOffer(ctx, audioSpec("192.168.0.10", 7078))
	assert.Error(t, err)
	_, err = r.ReceiveOffer(ctx, parseSdp(t, capnegOffer))
	assert.Error(t, err)
	assert.Equal(t, StateOfferSent, r.State())
}

func TestRoundFailedOfferKeepsState(t *testing.T) {
	ctx := context.Background()
	r := newTestRound(t, testConfig(media_sdp.EncryptionNone, media_sdp.EncryptionNone))

	_, err := r.CreateOffer(ctx, LocalSpec{Addr: "192.168.0.10"})
	assert.Error(t, err)
	assert.Equal(t, StateIdle, r.State())

	// предложение без приемлемых потоков не переводит раунд
	_, err = r.ReceiveOffer(ctx, parseSdp(t, sdpHeader+`m=audio 7078 RTP/SAVP 0
a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:WVNfX19zZW1jdGwgKCkgewkyMjA7fQp9CnVubGVz
`))
	assert.ErrorIs(t, err, ErrNoAcceptableConfiguration)
	assert.Equal(t, StateIdle, r.State())
}

func TestRoundChangesAcrossRounds(t *testing.T) {
	ctx := context.Background()
	alice := newTestRound(t, testConfig(media_sdp.EncryptionNone, media_sdp.EncryptionNone))
	bob := newTestRound(t, testConfig(media_sdp.EncryptionNone, media_sdp.EncryptionNone))

	negotiate := func(bobPort int) {
		offer, err := alice.CreateOffer(ctx, audioSpec("192.168.0.10", 7078))
		require.NoError(t, err)
		_, err = bob.ReceiveOffer(ctx, transfer(t, offer))
		require.NoError(t, err)
		answer, err := bob.CreateAnswer(ctx, audioSpec("192.168.0.20", bobPort))
		require.NoError(t, err)
		require.NoError(t, alice.ReceiveAnswer(ctx, transfer(t, answer)))
	}

	negotiate(9000)
	assert.Equal(t, media_sdp.Unchanged, alice.Changes())
	require.NoError(t, alice.Reset(ctx))
	require.NoError(t, bob.Reset(ctx))

	negotiate(9100)
	assert.NotZero(t, alice.Changes()&media_sdp.NetworkChanged)
	assert.Zero(t, alice.Changes()&media_sdp.CodecChanged)
}
