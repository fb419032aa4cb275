package media_sdp

import (
	"strconv"
	"strings"

	"github.com/arzzra/media_negotiation/pkg/capneg"
)

// Значения метки origin метрики потенциальных конфигураций
const (
	potentialCfgFromWire  = "wire"
	potentialCfgSynthesis = "local"
)

// PotentialCfgOptions параметры построения локальных потенциальных конфигураций
type PotentialCfgOptions struct {
	DeleteSessionAttributes bool
	DeleteMediaAttributes   bool
	// MergeCfgLines собирает варианты групп acap в одну конфигурацию
	MergeCfgLines bool
}

// encryptionSpecificity порядок видов шифрования от наиболее конкретного
var encryptionSpecificity = []MediaEncryption{EncryptionDTLS, EncryptionZRTP, EncryptionSRTP, EncryptionNone}

// имена acap, применимых к виду шифрования
var encryptionAcapNames = map[MediaEncryption][]string{
	EncryptionSRTP: {"crypto"},
	EncryptionDTLS: {"fingerprint", "setup", "rtcp-mux", "ssrc"},
	EncryptionZRTP: {"zrtp-hash"},
}

func acapRelevant(enc MediaEncryption, name string) bool {
	for _, n := range encryptionAcapNames[enc] {
		if n == name {
			return true
		}
	}
	return false
}

// inferEncryption определяет вид шифрования по протоколу и набору acap
func inferEncryption(proto MediaProto, acaps []capneg.Acap) MediaEncryption {
	if proto == ProtoUdpTlsRtpSavp || proto == ProtoUdpTlsRtpSavpf {
		return EncryptionDTLS
	}
	hasCrypto, hasZrtp := false, false
	for _, a := range acaps {
		switch a.Name {
		case "crypto":
			hasCrypto = true
		case "zrtp-hash":
			hasZrtp = true
		}
	}
	switch {
	case hasCrypto:
		return EncryptionSRTP
	case hasZrtp:
		return EncryptionZRTP
	case proto == ProtoRtpSavp || proto == ProtoRtpSavpf:
		return EncryptionSRTP
	}
	return EncryptionNone
}

// ProtoForEncryption протокол, соответствующий виду шифрования и AVPF
func ProtoForEncryption(enc MediaEncryption, avpf bool) MediaProto {
	switch enc {
	case EncryptionDTLS:
		if avpf {
			return ProtoUdpTlsRtpSavpf
		}
		return ProtoUdpTlsRtpSavp
	case EncryptionSRTP:
		if avpf {
			return ProtoRtpSavpf
		}
		return ProtoRtpSavp
	}
	if avpf {
		return ProtoRtpAvpf
	}
	return ProtoRtpAvp
}

// buildConfiguration строит конфигурацию из базовой: параметры безопасности
// сбрасываются, затем применяются протокол и acap выбранного вида шифрования
func buildConfiguration(base *StreamConfiguration, proto string, enc MediaEncryption, acaps []capneg.Acap, deleteMedia, deleteSession bool) *StreamConfiguration {
	cfg := base.Clone()
	cfg.clearSecurity()
	cfg.SetProtoFromString(proto)
	cfg.DeleteMediaAttributes = deleteMedia
	cfg.DeleteSessionAttributes = deleteSession
	if deleteMedia {
		cfg.CustomAttributes = nil
	}
	if cfg.HasAvpf() {
		cfg.EnableAvpfForStream()
	} else if !cfg.ImplicitRtcpFb {
		cfg.DisableAvpfForStream()
	}

	for _, a := range acaps {
		switch {
		case a.Name == "crypto" && enc == EncryptionSRTP:
			c, err := ParseSrtpCrypto(a.Value)
			if err != nil {
				logger.Warnf("acap %d: %v", a.Index, err)
				metrics.attributeError("crypto")
				continue
			}
			cfg.Crypto = append(cfg.Crypto, c)
		case a.Name == "fingerprint" && enc == EncryptionDTLS:
			fp, err := ParseFingerprint(a.Value)
			if err != nil {
				logger.Warnf("acap %d: %v", a.Index, err)
				metrics.attributeError("fingerprint")
				continue
			}
			cfg.DtlsFingerprint = fp
		case a.Name == "setup" && enc == EncryptionDTLS:
			cfg.DtlsRole = DtlsRoleFromSetupAttribute(a.Value)
		case a.Name == "zrtp-hash" && enc == EncryptionZRTP:
			cfg.SetZrtpHash(a.Value)
		case a.Name == "rtcp-mux":
			cfg.RtcpMux = true
		case a.Name == "ssrc":
			applySsrcAttribute(cfg, a.Value)
		case a.Name == "ptime":
			if n, err := strconv.Atoi(strings.TrimSpace(a.Value)); err == nil {
				cfg.Ptime = n
			}
		default:
			logger.Debugf("acap %d %q не применяется к шифрованию %s", a.Index, a.Name, enc)
		}
	}
	if enc == EncryptionDTLS && cfg.DtlsFingerprint != "" && cfg.DtlsRole == DtlsRoleInvalid {
		cfg.DtlsRole = DtlsRoleUnset
	}
	return cfg
}

// FillPotentialConfigurations строит потенциальные конфигурации по строкам
// pcfg, разобранным в графе возможностей
func (s *StreamDescription) FillPotentialConfigurations(cfgs map[uint]capneg.ConfigAttribute) {
	base := s.actual()
	for _, idx := range capneg.SortedKeys(cfgs) {
		if idx == ActualConfigurationIndex {
			continue
		}
		attr := cfgs[idx]

		tcaps := attr.Tcap
		if len(tcaps) == 0 {
			tcaps = []capneg.TcapRef{{Tcap: capneg.Tcap{Index: 0, Value: base.ProtoAsString()}, Mandatory: true}}
		}
		acapAlternatives := attr.Acap
		if len(acapAlternatives) == 0 {
			acapAlternatives = [][]capneg.AcapRef{nil}
		}

		for _, tcap := range tcaps {
			proto := ProtoFromString(tcap.Tcap.Value)
			for _, alternative := range acapAlternatives {
				acaps := make([]capneg.Acap, 0, len(alternative))
				indexes := make([]uint, 0, len(alternative))
				for _, ref := range alternative {
					acaps = append(acaps, ref.Acap)
					indexes = append(indexes, ref.Acap.Index)
				}
				enc := inferEncryption(proto, acaps)
				cfg := buildConfiguration(base, tcap.Tcap.Value, enc, acaps,
					attr.DeleteMediaAttributes, attr.DeleteSessionAttributes)
				cfg.Index = idx
				cfg.TcapIndex = tcap.Tcap.Index
				cfg.AcapIndexes = nil
				if len(indexes) > 0 {
					cfg.AcapIndexes = [][]uint{indexes}
				}
				if s.InsertOrMergeConfiguration(idx, cfg) {
					metrics.potentialCfg(potentialCfgFromWire)
				}
			}
		}
	}
	s.SupportedEncryption = s.supportedEncryptions(true)
}

// InsertOrMergeConfiguration вставляет конфигурацию по индексу. Если индекс
// занят конфигурацией с тем же tcap, наборы acap объединяются; иначе новая
// конфигурация отбрасывается. Возвращает true, если добавлена новая запись.
func (s *StreamDescription) InsertOrMergeConfiguration(idx uint, cfg *StreamConfiguration) bool {
	if s.Cfgs == nil {
		s.Cfgs = make(map[uint]*StreamConfiguration)
	}
	existing, ok := s.Cfgs[idx]
	if !ok {
		s.Cfgs[idx] = cfg
		return true
	}
	logger.Infof("Конфигурация с индексом %d уже существует", idx)
	if existing.TcapIndex == cfg.TcapIndex {
		existing.MergeAcaps(cfg.AcapIndexes)
		return false
	}
	logger.Errorf("Не удалось объединить конфигурацию %d: tcap %d и %d различаются", idx, existing.TcapIndex, cfg.TcapIndex)
	return false
}

// acapGroups разбивает acap на группы: каждая crypto и zrtp-hash отдельно,
// остальные атрибуты одной группой
func acapGroups(acaps map[uint]Acap) [][]uint {
	var groups [][]uint
	var shared []uint
	for _, idx := range capneg.SortedKeys(acaps) {
		switch acaps[idx].Name {
		case "crypto", "zrtp-hash":
			groups = append(groups, []uint{idx})
		default:
			shared = append(shared, idx)
		}
	}
	if len(shared) > 0 {
		groups = append(groups, shared)
	}
	return groups
}

// CreatePotentialConfiguration строит локальные потенциальные конфигурации:
// {AVPF вкл, выкл} x {виды шифрования по убыванию предпочтения} x {группы acap}.
// Для каждой комбинации ищется tcap с подходящим протоколом. Возвращает
// индексы новых конфигураций.
func (s *StreamDescription) CreatePotentialConfiguration(acaps map[uint]Acap, tcaps map[uint]string, acapGroupList [][]uint, encryptions []MediaEncryption, opts PotentialCfgOptions) []uint {
	base := s.actual()
	var created []uint

	for _, avpf := range []bool{true, false} {
		for _, enc := range encryptions {
			proto := ProtoForEncryption(enc, avpf)
			tcapIdx, found := findTcapIndex(tcaps, proto)
			if !found {
				continue
			}

			var merged *StreamConfiguration
			for _, group := range relevantGroups(acaps, acapGroupList, enc) {
				resolved := make([]capneg.Acap, 0, len(group))
				for _, idx := range group {
					a := acaps[idx]
					resolved = append(resolved, capneg.Acap{Index: idx, Name: a.Name, Value: a.Value})
				}
				cfg := buildConfiguration(base, proto.String(), enc, resolved,
					opts.DeleteMediaAttributes, opts.DeleteSessionAttributes)
				cfg.TcapIndex = tcapIdx
				if len(group) > 0 {
					cfg.AcapIndexes = [][]uint{append([]uint(nil), group...)}
				} else {
					cfg.AcapIndexes = nil
				}

				if opts.MergeCfgLines && merged != nil {
					merged.MergeAcaps(cfg.AcapIndexes)
					continue
				}
				if existing, ok := s.findEquivalentConfiguration(cfg); ok {
					existing.MergeAcaps(cfg.AcapIndexes)
					logger.Debugf("Конфигурация %s уже существует, объединяем acap", cfg.SdpString())
					continue
				}
				idx := s.FreeCfgIdx()
				cfg.Index = idx
				if s.InsertOrMergeConfiguration(idx, cfg) {
					created = append(created, idx)
					metrics.potentialCfg(potentialCfgSynthesis)
					merged = cfg
				}
			}
		}
	}
	s.SupportedEncryption = s.supportedEncryptions(true)
	return created
}

// relevantGroups оставляет в каждой группе acap, применимые к шифрованию.
// Без шифрования возвращается одна пустая группа.
func relevantGroups(acaps map[uint]Acap, groups [][]uint, enc MediaEncryption) [][]uint {
	if enc == EncryptionNone {
		return [][]uint{nil}
	}
	var out [][]uint
	for _, group := range groups {
		var filtered []uint
		for _, idx := range group {
			a, ok := acaps[idx]
			if ok && acapRelevant(enc, a.Name) {
				filtered = append(filtered, idx)
			}
		}
		if len(filtered) > 0 {
			out = append(out, filtered)
		}
	}
	return out
}

func findTcapIndex(tcaps map[uint]string, proto MediaProto) (uint, bool) {
	for _, idx := range capneg.SortedKeys(tcaps) {
		if ProtoFromString(tcaps[idx]) == proto {
			return idx, true
		}
	}
	return 0, false
}

// findEquivalentConfiguration ищет конфигурацию с тем же состоянием и tcap.
// Фактическая конфигурация подходит только для cfg без acap.
func (s *StreamDescription) findEquivalentConfiguration(cfg *StreamConfiguration) (*StreamConfiguration, bool) {
	if actual, ok := s.Cfgs[ActualConfigurationIndex]; ok &&
		len(cfg.AcapIndexes) == 0 && actual.Equal(cfg) == Unchanged {
		return actual, true
	}
	for _, idx := range capneg.SortedKeys(s.Cfgs) {
		existing := s.Cfgs[idx]
		if idx == ActualConfigurationIndex {
			continue
		}
		if existing.TcapIndex == cfg.TcapIndex && existing.Equal(cfg) == Unchanged {
			return existing, true
		}
	}
	return nil, false
}

// SupportedEncryptionsInPotentialCfgs виды шифрования потенциальных
// конфигураций без повторов, от наиболее конкретного
func (s *StreamDescription) SupportedEncryptionsInPotentialCfgs() []MediaEncryption {
	return s.supportedEncryptions(false)
}

func (s *StreamDescription) supportedEncryptions(includeActual bool) []MediaEncryption {
	seen := make(map[MediaEncryption]bool)
	for idx, cfg := range s.Cfgs {
		if idx == ActualConfigurationIndex && !includeActual {
			continue
		}
		seen[configurationEncryption(cfg)] = true
	}
	out := make([]MediaEncryption, 0, len(seen))
	for _, enc := range encryptionSpecificity {
		if seen[enc] {
			out = append(out, enc)
		}
	}
	return out
}

// configurationEncryption вид шифрования по содержимому конфигурации
func configurationEncryption(cfg *StreamConfiguration) MediaEncryption {
	switch {
	case cfg.HasDtls():
		return EncryptionDTLS
	case cfg.HasZrtp():
		return EncryptionZRTP
	case cfg.HasSrtp() || len(cfg.Crypto) > 0:
		return EncryptionSRTP
	}
	return EncryptionNone
}

// uniqueEncryptions убирает повторы, сохраняя порядок предпочтения
func uniqueEncryptions(list []MediaEncryption) []MediaEncryption {
	seen := make(map[MediaEncryption]bool, len(list))
	out := make([]MediaEncryption, 0, len(list))
	for _, enc := range list {
		if !seen[enc] {
			seen[enc] = true
			out = append(out, enc)
		}
	}
	return out
}
