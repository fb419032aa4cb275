// Package sip_sdp переносит описание медиа сессии между SIP сообщениями
// sipgo и моделью media_sdp.
package sip_sdp

import (
	"mime"
	"strings"

	"github.com/arzzra/media_negotiation/pkg/media_sdp"
	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

// ContentTypeSDP MIME тип тела с SDP
const ContentTypeSDP = "application/sdp"

var (
	// ErrNoBody сообщение без тела
	ErrNoBody = errors.New("SIP сообщение без тела")
	// ErrNotSDP тело сообщения не SDP
	ErrNotSDP = errors.New("тело SIP сообщения не application/sdp")
)

type headerReplacer interface {
	ReplaceHeader(header sip.Header)
}

// IsSDP проверяет Content-Type сообщения без учета регистра и параметров
func IsSDP(msg sip.Message) bool {
	h := msg.GetHeader("Content-Type")
	if h == nil {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(h.Value())
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(h.Value(), ";", 2)[0])
	}
	return strings.EqualFold(mediaType, ContentTypeSDP)
}

// MediaDescriptionFromMessage разбирает SDP из тела INVITE, ответа или ACK
func MediaDescriptionFromMessage(msg sip.Message, opts ...media_sdp.ParseOption) (*media_sdp.MediaDescription, error) {
	if msg == nil || len(msg.Body()) == 0 {
		return nil, ErrNoBody
	}
	if !IsSDP(msg) {
		return nil, ErrNotSDP
	}
	md, err := media_sdp.ParseMediaDescription(msg.Body(), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "разбор SDP из SIP сообщения")
	}
	return md, nil
}

// AttachMediaDescription записывает описание в тело сообщения и
// выставляет Content-Type; Content-Length обновляет SetBody
func AttachMediaDescription(msg sip.Message, md *media_sdp.MediaDescription) error {
	if msg == nil || md == nil {
		return errors.New("сообщение или описание не заданы")
	}
	body, err := md.Marshal()
	if err != nil {
		return errors.Wrap(err, "формирование SDP для SIP сообщения")
	}
	msg.SetBody(body)

	ct := sip.ContentTypeHeader(ContentTypeSDP)
	if r, ok := msg.(headerReplacer); ok && msg.GetHeader("Content-Type") != nil {
		r.ReplaceHeader(&ct)
	} else {
		msg.AppendHeader(&ct)
	}
	return nil
}
