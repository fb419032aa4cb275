package negotiation

import (
	"github.com/arzzra/media_negotiation/pkg/media_sdp"
	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

// RtpHeaderTemplate заголовок RTP для выбранной конфигурации потока:
// первый согласованный payload, SSRC и расширение mid при BUNDLE.
func RtpHeaderTemplate(sd *media_sdp.StreamDescription) (rtp.Header, error) {
	if sd == nil {
		return rtp.Header{}, errors.New("описание потока не задано")
	}
	payloads := sd.Payloads()
	if len(payloads) == 0 {
		return rtp.Header{}, errors.Errorf("поток %s без кодеков", sd.TypeAsString())
	}
	h := rtp.Header{
		Version:     2,
		PayloadType: uint8(payloads[0].Number),
		SSRC:        sd.ConferenceSsrc(),
	}
	// one-byte заголовок (RFC 8285) допускает идентификаторы 1..14
	if id := sd.MidRtpExtHeaderId(); id >= 1 && id <= 14 && sd.Mid() != "" {
		if err := h.SetExtension(uint8(id), []byte(sd.Mid())); err != nil {
			return rtp.Header{}, errors.Wrap(err, "расширение mid")
		}
	}
	return h, nil
}
