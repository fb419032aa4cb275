package media_sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// RtcpFb параметры RTCP feedback уровня потока
type RtcpFb struct {
	GenericNackEnabled bool
	TmmbrEnabled       bool
	GoogRembEnabled    bool
}

// RtcpXrRttMode режим отчета rcvr-rtt
type RtcpXrRttMode int

const (
	RtcpXrRttNone RtcpXrRttMode = iota
	RtcpXrRttAll
	RtcpXrRttSender
)

// Флаги stat-summary
const (
	RtcpXrStatSummaryLoss uint8 = 1 << iota
	RtcpXrStatSummaryDup
	RtcpXrStatSummaryJitt
	RtcpXrStatSummaryTTL
	RtcpXrStatSummaryHL
)

var statSummaryTokens = []struct {
	flag  uint8
	token string
}{
	{RtcpXrStatSummaryLoss, "loss"},
	{RtcpXrStatSummaryDup, "dup"},
	{RtcpXrStatSummaryJitt, "jitt"},
	{RtcpXrStatSummaryTTL, "TTL"},
	{RtcpXrStatSummaryHL, "HL"},
}

// RtcpXrConfig конфигурация RTCP XR (RFC 3611)
type RtcpXrConfig struct {
	Enabled            bool
	RcvrRttMode        RtcpXrRttMode
	RcvrRttMaxSize     int
	StatSummaryEnabled bool
	StatSummaryFlags   uint8
	VoipMetricsEnabled bool
}

// DefaultRtcpXrConfig возвращает выключенную конфигурацию
func DefaultRtcpXrConfig() RtcpXrConfig {
	return RtcpXrConfig{RcvrRttMaxSize: -1}
}

// ParseRtcpXr разбирает значение a=rtcp-xr. Наличие атрибута включает XR.
func ParseRtcpXr(value string) RtcpXrConfig {
	cfg := DefaultRtcpXrConfig()
	cfg.Enabled = true
	for _, item := range strings.Fields(value) {
		name, param, _ := strings.Cut(item, "=")
		switch name {
		case "rcvr-rtt":
			mode, size, hasSize := strings.Cut(param, ":")
			switch mode {
			case "all":
				cfg.RcvrRttMode = RtcpXrRttAll
			case "sender":
				cfg.RcvrRttMode = RtcpXrRttSender
			default:
				logger.Warnf("Неизвестный режим rcvr-rtt: %q", mode)
				continue
			}
			if hasSize {
				if n, err := strconv.Atoi(size); err == nil {
					cfg.RcvrRttMaxSize = n
				}
			}
		case "stat-summary":
			cfg.StatSummaryEnabled = true
			for _, token := range strings.Split(param, ",") {
				for _, s := range statSummaryTokens {
					if token == s.token {
						cfg.StatSummaryFlags |= s.flag
					}
				}
			}
		case "voip-metrics":
			cfg.VoipMetricsEnabled = true
		default:
			logger.Debugf("Параметр rtcp-xr %q не поддерживается", item)
		}
	}
	return cfg
}

// String формирует значение атрибута a=rtcp-xr
func (c RtcpXrConfig) String() string {
	var items []string
	switch c.RcvrRttMode {
	case RtcpXrRttAll, RtcpXrRttSender:
		item := "rcvr-rtt=all"
		if c.RcvrRttMode == RtcpXrRttSender {
			item = "rcvr-rtt=sender"
		}
		if c.RcvrRttMaxSize > 0 {
			item += ":" + strconv.Itoa(c.RcvrRttMaxSize)
		}
		items = append(items, item)
	}
	if c.StatSummaryEnabled {
		var flags []string
		for _, s := range statSummaryTokens {
			if c.StatSummaryFlags&s.flag != 0 {
				flags = append(flags, s.token)
			}
		}
		item := "stat-summary"
		if len(flags) > 0 {
			item += "=" + strings.Join(flags, ",")
		}
		items = append(items, item)
	}
	if c.VoipMetricsEnabled {
		items = append(items, "voip-metrics")
	}
	return strings.Join(items, " ")
}

// Equal сравнивает значимые поля; выключенные конфигурации равны
func (c RtcpXrConfig) Equal(other RtcpXrConfig) bool {
	if !c.Enabled && !other.Enabled {
		return true
	}
	return c == other
}

func (c RtcpXrConfig) toSdpAttribute() sdp.Attribute {
	return sdp.NewAttribute("rtcp-xr", c.String())
}

// ParseRtcpFbParameters применяет строки rtcp-fb к кодекам конфигурации:
// сначала строки с '*' ко всем кодекам, затем строки конкретных номеров.
// Возвращает true, если встретилась хотя бы одна строка rtcp-fb.
func ParseRtcpFbParameters(md *sdp.MediaDescription, cfg *StreamConfiguration) bool {
	found := false
	for _, wildcard := range []bool{true, false} {
		for _, attr := range md.Attributes {
			if attr.Key != "rtcp-fb" {
				continue
			}
			fmtStr, rest, ok := strings.Cut(strings.TrimSpace(attr.Value), " ")
			if !ok {
				logger.Warnf("Некорректный атрибут rtcp-fb: %q", attr.Value)
				metrics.attributeError("rtcp-fb")
				continue
			}
			if (fmtStr == "*") != wildcard {
				continue
			}
			found = true
			if wildcard {
				for _, pt := range cfg.Payloads {
					applyRtcpFbAttribute(cfg, pt, rest)
				}
				continue
			}
			number, err := strconv.Atoi(fmtStr)
			if err != nil {
				logger.Warnf("Некорректный номер кодека в rtcp-fb: %q", fmtStr)
				metrics.attributeError("rtcp-fb")
				continue
			}
			for _, pt := range cfg.Payloads {
				if pt.Number == number {
					applyRtcpFbAttribute(cfg, pt, rest)
				}
			}
		}
	}
	return found
}

func applyRtcpFbAttribute(cfg *StreamConfiguration, pt *PayloadType, value string) {
	fbType, param, _ := strings.Cut(strings.TrimSpace(value), " ")
	param = strings.TrimSpace(param)
	params := &pt.AvpfParams
	switch fbType {
	case "ack":
		if param == "rpsi" {
			params.Features |= AvpfFeatureRpsi
		}
	case "nack":
		switch param {
		case "":
			cfg.RtcpFb.GenericNackEnabled = true
		case "pli":
			params.Features |= AvpfFeaturePli
		case "sli":
			params.Features |= AvpfFeatureSli
		case "rpsi":
			params.Features |= AvpfFeatureRpsi
			params.RpsiCompatibility = true
		}
	case "trr-int":
		n, err := strconv.ParseUint(param, 10, 16)
		if err != nil {
			logger.Warnf("Некорректное значение trr-int: %q", param)
			metrics.attributeError("rtcp-fb")
			return
		}
		params.TrrInterval = uint16(n)
	case "ccm":
		switch param {
		case "fir":
			params.Features |= AvpfFeatureFir
		case "tmmbr":
			cfg.RtcpFb.TmmbrEnabled = true
		}
	case "goog-remb":
		cfg.RtcpFb.GoogRembEnabled = true
	default:
		logger.Debugf("Тип rtcp-fb %q не поддерживается", fbType)
	}
}

// rtcpFbAttributes строит строки rtcp-fb для конфигурации
func rtcpFbAttributes(cfg *StreamConfiguration) []sdp.Attribute {
	var attrs []sdp.Attribute
	add := func(format string, args ...interface{}) {
		attrs = append(attrs, sdp.NewAttribute("rtcp-fb", fmt.Sprintf(format, args...)))
	}

	if trr, uniform := uniformTrrInterval(cfg.Payloads); uniform {
		if trr != 0 {
			add("* trr-int %d", trr)
		}
	} else {
		for _, pt := range cfg.Payloads {
			if pt.AvpfParams.TrrInterval != 0 {
				add("%d trr-int %d", pt.Number, pt.AvpfParams.TrrInterval)
			}
		}
	}
	if cfg.RtcpFb.GenericNackEnabled {
		add("* nack")
	}
	if cfg.RtcpFb.TmmbrEnabled {
		add("* ccm tmmbr")
	}
	if cfg.RtcpFb.GoogRembEnabled {
		add("* goog-remb")
	}

	for _, pt := range cfg.Payloads {
		if pt.Flags&PayloadTypeRtcpFeedbackEnabled == 0 {
			continue
		}
		features := pt.AvpfParams.Features
		if features&AvpfFeaturePli != 0 {
			add("%d nack pli", pt.Number)
		}
		if features&AvpfFeatureSli != 0 {
			add("%d nack sli", pt.Number)
		}
		if features&AvpfFeatureRpsi != 0 {
			if pt.AvpfParams.RpsiCompatibility {
				add("%d nack rpsi", pt.Number)
			} else {
				add("%d ack rpsi", pt.Number)
			}
		}
		if features&AvpfFeatureFir != 0 {
			add("%d ccm fir", pt.Number)
		}
	}
	return attrs
}

func uniformTrrInterval(payloads []*PayloadType) (uint16, bool) {
	if len(payloads) == 0 {
		return 0, true
	}
	trr := payloads[0].AvpfParams.TrrInterval
	for _, pt := range payloads[1:] {
		if pt.AvpfParams.TrrInterval != trr {
			return 0, false
		}
	}
	return trr, true
}

func sameRtcpFeedback(l1, l2 []*PayloadType) bool {
	for i := 0; i < len(l1) && i < len(l2); i++ {
		if l1[i].AvpfParams != l2[i].AvpfParams {
			return false
		}
	}
	return true
}
