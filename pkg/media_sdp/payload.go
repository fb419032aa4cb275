package media_sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// Флаги payload type
const (
	PayloadTypeFlagCanRecv uint32 = 1 << iota
	PayloadTypeFlagCanSend
	PayloadTypeRtcpFeedbackEnabled
)

// Возможности AVPF для payload type
const (
	AvpfFeatureNone uint8 = 0
	AvpfFeaturePli  uint8 = 1 << 0
	AvpfFeatureSli  uint8 = 1 << 1
	AvpfFeatureRpsi uint8 = 1 << 2
	AvpfFeatureFir  uint8 = 1 << 3
)

// AvpfParams параметры RTCP feedback одного payload type
type AvpfParams struct {
	Features          uint8
	TrrInterval       uint16
	RpsiCompatibility bool
}

// PayloadType описание кодека в m= строке
type PayloadType struct {
	Number     int
	MimeType   string
	ClockRate  int
	Channels   int
	RecvFmtp   string
	SendFmtp   string
	Flags      uint32
	AvpfParams AvpfParams
}

// NewPayloadType создает payload type, доступный на прием и передачу.
// Число каналов не меньше 1.
func NewPayloadType(number int, mime string, clockRate, channels int) *PayloadType {
	if channels < 1 {
		channels = 1
	}
	return &PayloadType{
		Number:    number,
		MimeType:  mime,
		ClockRate: clockRate,
		Channels:  channels,
		Flags:     PayloadTypeFlagCanRecv | PayloadTypeFlagCanSend,
	}
}

// Clone возвращает копию payload type
func (p *PayloadType) Clone() *PayloadType {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// IsRecvOnly сообщает, что кодек может только принимать
func (p *PayloadType) IsRecvOnly() bool {
	return p.Flags&PayloadTypeFlagCanRecv != 0 && p.Flags&PayloadTypeFlagCanSend == 0
}

func (p *PayloadType) rtpmapValue() string {
	v := fmt.Sprintf("%d %s/%d", p.Number, p.MimeType, p.ClockRate)
	if p.Channels > 1 {
		v += "/" + strconv.Itoa(p.Channels)
	}
	return v
}

// isSamePayloadType сравнивает mime, частоту, каналы и номер; fmtp не сравнивается
func isSamePayloadType(p1, p2 *PayloadType) bool {
	return p1.MimeType == p2.MimeType &&
		p1.ClockRate == p2.ClockRate &&
		p1.Channels == p2.Channels &&
		p1.Number == p2.Number
}

// isSamePayloadList сравнивает списки; лишние recv-only кодеки в конце первого списка игнорируются
func isSamePayloadList(l1, l2 []*PayloadType) bool {
	i := 0
	for ; i < len(l1) && i < len(l2); i++ {
		if !isSamePayloadType(l1[i], l2[i]) {
			return false
		}
	}
	if i < len(l2) {
		return false
	}
	for ; i < len(l1); i++ {
		if !l1[i].IsRecvOnly() {
			return false
		}
	}
	return true
}

func clonePayloads(list []*PayloadType) []*PayloadType {
	if list == nil {
		return nil
	}
	out := make([]*PayloadType, 0, len(list))
	for _, pt := range list {
		out = append(out, pt.Clone())
	}
	return out
}

// staticPayloadTypes статические номера RFC 3551, для которых rtpmap необязателен
var staticPayloadTypes = map[int]PayloadType{
	0:  {Number: 0, MimeType: "PCMU", ClockRate: 8000, Channels: 1},
	3:  {Number: 3, MimeType: "GSM", ClockRate: 8000, Channels: 1},
	4:  {Number: 4, MimeType: "G723", ClockRate: 8000, Channels: 1},
	8:  {Number: 8, MimeType: "PCMA", ClockRate: 8000, Channels: 1},
	9:  {Number: 9, MimeType: "G722", ClockRate: 8000, Channels: 1},
	13: {Number: 13, MimeType: "CN", ClockRate: 8000, Channels: 1},
	18: {Number: 18, MimeType: "G729", ClockRate: 8000, Channels: 1},
	34: {Number: 34, MimeType: "H263", ClockRate: 90000, Channels: 1},
}

// parsePayloadTypes строит список кодеков по форматам m= строки, rtpmap и fmtp
func parsePayloadTypes(md *sdp.MediaDescription) []*PayloadType {
	var payloads []*PayloadType
	byNumber := make(map[int]*PayloadType)
	for _, format := range md.MediaName.Formats {
		number, err := strconv.Atoi(format)
		if err != nil {
			logger.Warnf("Некорректный формат %q в m= строке", format)
			continue
		}
		pt := &PayloadType{Number: number, Channels: 1, Flags: PayloadTypeFlagCanRecv | PayloadTypeFlagCanSend}
		if static, ok := staticPayloadTypes[number]; ok {
			pt.MimeType = static.MimeType
			pt.ClockRate = static.ClockRate
			pt.Channels = static.Channels
		}
		payloads = append(payloads, pt)
		byNumber[number] = pt
	}

	for _, attr := range md.Attributes {
		switch attr.Key {
		case "rtpmap":
			number, pt, ok := parseRtpmap(attr.Value)
			if !ok {
				logger.Warnf("Некорректный атрибут rtpmap: %q", attr.Value)
				metrics.attributeError("rtpmap")
				continue
			}
			if existing, found := byNumber[number]; found {
				existing.MimeType = pt.MimeType
				existing.ClockRate = pt.ClockRate
				existing.Channels = pt.Channels
			}
		case "fmtp":
			numStr, params, ok := strings.Cut(attr.Value, " ")
			if !ok {
				continue
			}
			number, err := strconv.Atoi(numStr)
			if err != nil {
				continue
			}
			if existing, found := byNumber[number]; found {
				existing.RecvFmtp = strings.TrimSpace(params)
				existing.SendFmtp = existing.RecvFmtp
			}
		}
	}
	return payloads
}

// parseRtpmap разбирает "<pt> <mime>/<rate>[/<channels>]"
func parseRtpmap(value string) (int, PayloadType, bool) {
	numStr, codec, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok {
		return 0, PayloadType{}, false
	}
	number, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, PayloadType{}, false
	}
	parts := strings.Split(codec, "/")
	if len(parts) < 2 {
		return 0, PayloadType{}, false
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, PayloadType{}, false
	}
	pt := PayloadType{Number: number, MimeType: parts[0], ClockRate: rate, Channels: 1}
	if len(parts) > 2 {
		if ch, err := strconv.Atoi(parts[2]); err == nil && ch > 0 {
			pt.Channels = ch
		}
	}
	return number, pt, true
}
