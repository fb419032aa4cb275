package negotiation

import (
	"strings"
	"sync"

	"github.com/arzzra/media_negotiation/pkg/media_sdp"
)

// Диапазон динамических номеров RTP payload type
const (
	dynamicPayloadMin = 96
	dynamicPayloadMax = 127
)

// PayloadMemo запоминает номера кодеков, согласованные в прошлых раундах,
// чтобы повторные предложения в том же диалоге сохраняли нумерацию
type PayloadMemo struct {
	mu      sync.Mutex
	streams map[int][]*media_sdp.PayloadType
}

// NewPayloadMemo создает пустую память
func NewPayloadMemo() *PayloadMemo {
	return &PayloadMemo{streams: make(map[int][]*media_sdp.PayloadType)}
}

func sameCodec(pt *media_sdp.PayloadType, name string, clockRate, channels int) bool {
	if channels < 1 {
		channels = 1
	}
	return strings.EqualFold(pt.MimeType, name) && pt.ClockRate == clockRate && pt.Channels == channels
}

// Remember сохраняет кодеки выбранных конфигураций включенных потоков.
// Новая привязка номера заменяет прежнюю для того же кодека.
func (m *PayloadMemo) Remember(md *media_sdp.MediaDescription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range md.Streams {
		if s.RtpPort == 0 {
			continue
		}
		list := m.streams[i]
		for _, pt := range s.Payloads() {
			replaced := false
			for j, known := range list {
				if sameCodec(known, pt.MimeType, pt.ClockRate, pt.Channels) {
					list[j] = pt.Clone()
					replaced = true
					break
				}
			}
			if !replaced {
				list = append(list, pt.Clone())
			}
		}
		m.streams[i] = list
		s.AlreadyAssignedPayloads = cloneList(list)
	}
}

// Assigned возвращает копию запомненных кодеков потока
func (m *PayloadMemo) Assigned(streamIdx int) []*media_sdp.PayloadType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneList(m.streams[streamIdx])
}

// Reset забывает все привязки
func (m *PayloadMemo) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams = make(map[int][]*media_sdp.PayloadType)
}

// Assign нумерует кодеки потока. Ранее согласованный кодек сохраняет свой
// номер; номер, занятый другим кодеком, заменяется свободным динамическим.
// Кодек, для которого не осталось номера, пропускается.
func (m *PayloadMemo) Assign(streamIdx int, codecs []media_sdp.CodecInfo) []*media_sdp.PayloadType {
	m.mu.Lock()
	known := m.streams[streamIdx]
	m.mu.Unlock()

	reserved := make(map[int]bool, len(known))
	for _, pt := range known {
		reserved[pt.Number] = true
	}

	numbers := make([]int, len(codecs))
	used := make(map[int]bool, len(codecs))
	for i, c := range codecs {
		numbers[i] = -1
		for _, pt := range known {
			if sameCodec(pt, c.Name, c.ClockRate, c.Channels) && !used[pt.Number] {
				numbers[i] = pt.Number
				used[pt.Number] = true
				break
			}
		}
	}

	for i, c := range codecs {
		if numbers[i] >= 0 {
			continue
		}
		n := c.Number
		if used[n] || reserved[n] {
			n = freeDynamicNumber(used, reserved)
			if n < 0 {
				logger.Warnf("Нет свободного номера для кодека %s/%d", c.Name, c.ClockRate)
				continue
			}
			logger.Debugf("Кодек %s/%d получает номер %d вместо %d", c.Name, c.ClockRate, n, c.Number)
		}
		numbers[i] = n
		used[n] = true
	}

	out := make([]*media_sdp.PayloadType, 0, len(codecs))
	for i, c := range codecs {
		if numbers[i] < 0 {
			continue
		}
		out = append(out, media_sdp.NewPayloadType(numbers[i], c.Name, c.ClockRate, c.Channels))
	}
	return out
}

func freeDynamicNumber(used, reserved map[int]bool) int {
	for n := dynamicPayloadMin; n <= dynamicPayloadMax; n++ {
		if !used[n] && !reserved[n] {
			return n
		}
	}
	return -1
}

func cloneList(list []*media_sdp.PayloadType) []*media_sdp.PayloadType {
	if list == nil {
		return nil
	}
	out := make([]*media_sdp.PayloadType, len(list))
	for i, pt := range list {
		out[i] = pt.Clone()
	}
	return out
}
