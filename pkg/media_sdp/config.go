package media_sdp

import (
	"strconv"
	"strings"

	"github.com/gookit/ini/v2"
)

// NegotiationSection секция INI файла с параметрами согласования
const NegotiationSection = "negotiation"

// CodecInfo содержит информацию о поддерживаемом кодеке
type CodecInfo struct {
	Number    int
	Name      string
	ClockRate int
	Channels  int // Количество каналов (1 для моно, 2 для стерео)
}

// PayloadType возвращает payload type для локального предложения
func (c CodecInfo) PayloadType() *PayloadType {
	return NewPayloadType(c.Number, c.Name, c.ClockRate, c.Channels)
}

// NegotiationConfig локальная политика согласования медиа
type NegotiationConfig struct {
	SessionName string
	UserAgent   string

	// Согласование возможностей RFC 5939
	CapabilityNegotiation bool
	TcapLinesMerged       bool
	CfgLinesMerged        bool

	// Предпочтительное шифрование и все поддерживаемые варианты
	Encryption           MediaEncryption
	EncryptionsSupported []MediaEncryption

	// Политики RTCP
	Avpf              bool
	RtcpFbImplicit    bool
	RpsiCompatibility bool
	RtcpXrEnabled     bool

	Bundle  bool
	IceLite bool

	// Поддерживаемые кодеки (приоритет по порядку)
	SupportedCodecs []CodecInfo
	Ptime           int
}

// DefaultNegotiationConfig возвращает конфигурацию по умолчанию
func DefaultNegotiationConfig() NegotiationConfig {
	return NegotiationConfig{
		SessionName: "Talk",
		UserAgent:   "MediaNegotiation/1.0",

		Encryption:           EncryptionNone,
		EncryptionsSupported: []MediaEncryption{EncryptionNone},

		RtcpFbImplicit: true,
		RtcpXrEnabled:  true,

		SupportedCodecs: []CodecInfo{
			{Number: 0, Name: "PCMU", ClockRate: 8000, Channels: 1},
			{Number: 8, Name: "PCMA", ClockRate: 8000, Channels: 1},
			{Number: 101, Name: "telephone-event", ClockRate: 8000, Channels: 1},
		},
		Ptime: 20,
	}
}

// CapNegParams параметры согласования возможностей для MediaDescription
func (c *NegotiationConfig) CapNegParams() CapNegParams {
	return CapNegParams{
		CapabilityNegotiationSupported: c.CapabilityNegotiation,
		TcapLinesMerged:                c.TcapLinesMerged,
		CfgLinesMerged:                 c.CfgLinesMerged,
	}
}

// SupportsEncryption входит ли шифрование в список поддерживаемых
func (c *NegotiationConfig) SupportsEncryption(enc MediaEncryption) bool {
	for _, e := range c.EncryptionsSupported {
		if e == enc {
			return true
		}
	}
	return false
}

// Validate проверяет корректность конфигурации
func (c *NegotiationConfig) Validate() error {
	if len(c.EncryptionsSupported) == 0 {
		return NewSDPError(ErrorCodeInvalidConfig, "EncryptionsSupported не может быть пустым")
	}
	if !c.SupportsEncryption(c.Encryption) {
		return NewSDPError(ErrorCodeInvalidConfig,
			"Шифрование %s отсутствует в списке поддерживаемых", c.Encryption)
	}
	if len(c.EncryptionsSupported) > 1 && !c.CapabilityNegotiation {
		return NewSDPError(ErrorCodeInvalidConfig,
			"Несколько вариантов шифрования требуют capability_negotiation")
	}
	if len(c.SupportedCodecs) == 0 {
		return NewSDPError(ErrorCodeInvalidConfig, "SupportedCodecs не может быть пустым")
	}
	if c.Ptime < 0 {
		return NewSDPError(ErrorCodeInvalidConfig, "Ptime не может быть отрицательным")
	}

	// Проверяем уникальность payload types
	numbers := make(map[int]bool)
	for _, codec := range c.SupportedCodecs {
		if numbers[codec.Number] {
			return NewSDPError(ErrorCodeInvalidConfig,
				"Дублированный PayloadType: %d", codec.Number)
		}
		numbers[codec.Number] = true

		if codec.Number < 0 || codec.Number > 127 {
			return NewSDPError(ErrorCodeInvalidConfig,
				"PayloadType %d вне диапазона 0..127", codec.Number)
		}
		if codec.ClockRate <= 0 {
			return NewSDPError(ErrorCodeInvalidConfig,
				"ClockRate для кодека %s должен быть больше 0", codec.Name)
		}
	}
	return nil
}

// LoadNegotiationConfig читает секцию [negotiation] из INI файла
// поверх значений по умолчанию
func LoadNegotiationConfig(path string) (NegotiationConfig, error) {
	reader := ini.New()
	if err := reader.LoadFiles(path); err != nil {
		return NegotiationConfig{}, WrapSDPError(ErrorCodeInvalidConfig, "", err, "не удалось прочитать %s", path)
	}
	return negotiationConfigFromIni(reader)
}

// ParseNegotiationConfig разбирает INI текст
func ParseNegotiationConfig(text string) (NegotiationConfig, error) {
	reader := ini.New()
	if err := reader.LoadStrings(text); err != nil {
		return NegotiationConfig{}, WrapSDPError(ErrorCodeInvalidConfig, "", err, "некорректный INI")
	}
	return negotiationConfigFromIni(reader)
}

func negotiationConfigFromIni(reader *ini.Ini) (NegotiationConfig, error) {
	cfg := DefaultNegotiationConfig()
	key := func(name string) string { return NegotiationSection + "." + name }

	cfg.SessionName = reader.Get(key("session_name"), cfg.SessionName)
	cfg.UserAgent = reader.Get(key("user_agent"), cfg.UserAgent)

	cfg.CapabilityNegotiation = reader.Bool(key("capability_negotiation"), cfg.CapabilityNegotiation)
	cfg.TcapLinesMerged = reader.Bool(key("tcap_lines_merged"), cfg.TcapLinesMerged)
	cfg.CfgLinesMerged = reader.Bool(key("cfg_lines_merged"), cfg.CfgLinesMerged)
	cfg.Avpf = reader.Bool(key("avpf"), cfg.Avpf)
	cfg.RtcpFbImplicit = reader.Bool(key("rtcp_fb_implicit"), cfg.RtcpFbImplicit)
	cfg.RpsiCompatibility = reader.Bool(key("rpsi_compatibility"), cfg.RpsiCompatibility)
	cfg.RtcpXrEnabled = reader.Bool(key("rtcp_xr_enabled"), cfg.RtcpXrEnabled)
	cfg.Bundle = reader.Bool(key("bundle"), cfg.Bundle)
	cfg.IceLite = reader.Bool(key("ice_lite"), cfg.IceLite)

	if v := reader.Get(key("encryption")); v != "" {
		enc, ok := MediaEncryptionFromString(strings.TrimSpace(v))
		if !ok {
			return NegotiationConfig{}, NewSDPError(ErrorCodeInvalidConfig, "неизвестное шифрование %q", v)
		}
		cfg.Encryption = enc
		cfg.EncryptionsSupported = []MediaEncryption{enc}
	}
	if v := reader.Get(key("encryptions_supported")); v != "" {
		var list []MediaEncryption
		for _, item := range strings.Split(v, ",") {
			enc, ok := MediaEncryptionFromString(strings.TrimSpace(item))
			if !ok {
				return NegotiationConfig{}, NewSDPError(ErrorCodeInvalidConfig, "неизвестное шифрование %q", item)
			}
			list = append(list, enc)
		}
		cfg.EncryptionsSupported = uniqueEncryptions(list)
	}

	if v := reader.Get(key("codecs")); v != "" {
		codecs, err := parseCodecList(v)
		if err != nil {
			return NegotiationConfig{}, err
		}
		cfg.SupportedCodecs = codecs
	}
	if v := reader.Get(key("ptime")); v != "" {
		ptime, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return NegotiationConfig{}, NewSDPError(ErrorCodeInvalidConfig, "некорректный ptime %q", v)
		}
		cfg.Ptime = ptime
	}

	if err := cfg.Validate(); err != nil {
		return NegotiationConfig{}, err
	}
	return cfg, nil
}

// parseCodecList разбирает "0 PCMU/8000, 96 opus/48000/2" в формате rtpmap
func parseCodecList(value string) ([]CodecInfo, error) {
	var out []CodecInfo
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		number, pt, ok := parseRtpmap(item)
		if !ok {
			return nil, NewSDPError(ErrorCodeInvalidConfig, "некорректный кодек %q", item)
		}
		out = append(out, CodecInfo{Number: number, Name: pt.MimeType, ClockRate: pt.ClockRate, Channels: pt.Channels})
	}
	return out, nil
}

// SaveNegotiationConfig записывает конфигурацию в INI файл
func SaveNegotiationConfig(path string, cfg NegotiationConfig) error {
	writer := ini.New()
	set := func(name string, val any) error {
		return writer.Set(name, val, NegotiationSection)
	}

	encs := make([]string, 0, len(cfg.EncryptionsSupported))
	for _, e := range cfg.EncryptionsSupported {
		encs = append(encs, e.String())
	}
	codecs := make([]string, 0, len(cfg.SupportedCodecs))
	for _, c := range cfg.SupportedCodecs {
		codecs = append(codecs, c.PayloadType().rtpmapValue())
	}

	values := []struct {
		name string
		val  any
	}{
		{"session_name", cfg.SessionName},
		{"user_agent", cfg.UserAgent},
		{"capability_negotiation", cfg.CapabilityNegotiation},
		{"tcap_lines_merged", cfg.TcapLinesMerged},
		{"cfg_lines_merged", cfg.CfgLinesMerged},
		{"encryption", cfg.Encryption.String()},
		{"encryptions_supported", strings.Join(encs, ",")},
		{"avpf", cfg.Avpf},
		{"rtcp_fb_implicit", cfg.RtcpFbImplicit},
		{"rpsi_compatibility", cfg.RpsiCompatibility},
		{"rtcp_xr_enabled", cfg.RtcpXrEnabled},
		{"bundle", cfg.Bundle},
		{"ice_lite", cfg.IceLite},
		{"codecs", strings.Join(codecs, ",")},
		{"ptime", cfg.Ptime},
	}
	for _, v := range values {
		if err := set(v.name, v.val); err != nil {
			return WrapSDPError(ErrorCodeInvalidConfig, "", err, "ключ %s", v.name)
		}
	}
	if _, err := writer.WriteToFile(path); err != nil {
		return WrapSDPError(ErrorCodeInvalidConfig, "", err, "не удалось записать %s", path)
	}
	return nil
}
