package media_sdp

import (
	"strings"

	"github.com/pion/sdp/v3"
)

// StreamBundle группа потоков с общим транспортом (a=group:BUNDLE).
// Первый элемент Mids владеет транспортом; пустая строка резервирует
// место владельца, пока в группу входят только bundle-only потоки.
type StreamBundle struct {
	Mids []string
}

// AddStream добавляет поток в группу и назначает ему mid
func (b *StreamBundle) AddStream(cfg *StreamConfiguration, mid string) {
	if cfg != nil {
		cfg.Mid = mid
	}
	bundleOnly := cfg != nil && cfg.BundleOnly
	switch {
	case len(b.Mids) == 0 && bundleOnly:
		b.Mids = append(b.Mids, "", mid)
	case !bundleOnly && len(b.Mids) > 0 && b.Mids[0] == "":
		b.Mids[0] = mid
	default:
		b.Mids = append(b.Mids, mid)
	}
}

// MidOfTransportOwner возвращает mid владельца транспорта или пустую строку
func (b *StreamBundle) MidOfTransportOwner() string {
	if len(b.Mids) == 0 {
		return ""
	}
	return b.Mids[0]
}

// HasMid проверяет членство mid в группе
func (b *StreamBundle) HasMid(mid string) bool {
	if mid == "" {
		return false
	}
	for _, m := range b.Mids {
		if m == mid {
			return true
		}
	}
	return false
}

// ToSdpAttribute формирует атрибут group:BUNDLE
func (b *StreamBundle) ToSdpAttribute() sdp.Attribute {
	mids := make([]string, 0, len(b.Mids))
	for _, m := range b.Mids {
		if m != "" {
			mids = append(mids, m)
		}
	}
	return sdp.NewAttribute("group", "BUNDLE "+strings.Join(mids, " "))
}

func (b *StreamBundle) Clone() *StreamBundle {
	return &StreamBundle{Mids: append([]string(nil), b.Mids...)}
}

// parseBundleGroup разбирает значение a=group; ok=false если это не BUNDLE
func parseBundleGroup(value string) (*StreamBundle, bool) {
	fields := strings.Fields(value)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "BUNDLE") {
		return nil, false
	}
	return &StreamBundle{Mids: append([]string(nil), fields[1:]...)}, true
}
