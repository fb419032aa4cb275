package capneg

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// ConfigType тип строки конфигурации
type ConfigType int

const (
	ConfigTypeAcfg ConfigType = iota
	ConfigTypePcfg
)

// AttributeName возвращает имя SDP атрибута
func (t ConfigType) AttributeName() string {
	if t == ConfigTypeAcfg {
		return "acfg"
	}
	return "pcfg"
}

var indexRegex = regexp.MustCompile(`\d+`)

// FromSessionDescription строит граф по разобранному SDP
func FromSessionDescription(sd *sdp.SessionDescription) *Graph {
	g := New()
	if sd == nil {
		return g
	}
	g.globalAcap = parseAcapAttributes(sd.Attributes)
	g.globalTcap = parseTcapAttributes(sd.Attributes)
	for i, md := range sd.MediaDescriptions {
		g.processMediaDescription(uint(i), md)
	}
	return g
}

func (g *Graph) processMediaDescription(idx uint, md *sdp.MediaDescription) {
	if acaps := parseAcapAttributes(md.Attributes); len(acaps) > 0 {
		g.acap[idx] = acaps
	}
	if tcaps := parseTcapAttributes(md.Attributes); len(tcaps) > 0 {
		g.tcap[idx] = tcaps
	}

	acfgFound := g.processMediaCfg(idx, md, ConfigTypeAcfg)
	pcfgFound := g.processMediaCfg(idx, md, ConfigTypePcfg)
	if acfgFound && pcfgFound {
		logger.Infof("SDP потока %d содержит и acfg, и pcfg: pcfg допустимы в offer, acfg в answer", idx)
	}
}

// ParseAcapValue разбирает значение атрибута acap: "<index> <name>[:<value>]"
func ParseAcapValue(value string) (Acap, bool) {
	idxStr, rest, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok {
		return Acap{}, false
	}
	idx, err := strconv.ParseUint(idxStr, 10, 32)
	if err != nil || idx == 0 {
		return Acap{}, false
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return Acap{}, false
	}
	name, val, _ := strings.Cut(rest, ":")
	return Acap{Index: uint(idx), Name: name, Value: val}, true
}

// ParseTcapValue разбирает значение атрибута tcap: "<index> <proto> [<proto>...]".
// Протоколы получают последовательные индексы начиная с указанного.
func ParseTcapValue(value string) ([]Tcap, bool) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return nil, false
	}
	idx, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil || idx == 0 {
		return nil, false
	}
	out := make([]Tcap, 0, len(fields)-1)
	for i, proto := range fields[1:] {
		out = append(out, Tcap{Index: uint(idx) + uint(i), Value: proto})
	}
	return out, true
}

func parseAcapAttributes(attrs []sdp.Attribute) []Acap {
	var out []Acap
	for _, attr := range attrs {
		if attr.Key != CapabilityAttribute.AttributeName() {
			continue
		}
		c, ok := ParseAcapValue(attr.Value)
		if !ok {
			logger.Warnf("Некорректный атрибут acap: %q", attr.Value)
			continue
		}
		out = append(out, c)
	}
	return out
}

func parseTcapAttributes(attrs []sdp.Attribute) []Tcap {
	var out []Tcap
	for _, attr := range attrs {
		if attr.Key != CapabilityTransportProtocol.AttributeName() {
			continue
		}
		caps, ok := ParseTcapValue(attr.Value)
		if !ok {
			logger.Warnf("Некорректный атрибут tcap: %q", attr.Value)
			continue
		}
		out = append(out, caps...)
	}
	return out
}

func (g *Graph) processMediaCfg(idx uint, md *sdp.MediaDescription, cfgType ConfigType) bool {
	name := cfgType.AttributeName()
	mediaAcap := g.AllAcapForStream(idx)
	mediaTcap := g.AllTcapForStream(idx)

	config := make(map[uint]ConfigAttribute)
	unparsed := g.unparsedCfgs[idx]
	for _, attr := range md.Attributes {
		if attr.Key != name {
			continue
		}
		idStr, body, _ := strings.Cut(strings.TrimSpace(attr.Value), " ")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			logger.Warnf("Некорректный индекс в атрибуте %s: %q", name, attr.Value)
			continue
		}

		cfg := ParseConfigBody(body, mediaAcap, mediaTcap)
		if cfg.Empty() {
			logger.Infof("Не удалось построить конфигурацию %d: списки атрибутных и транспортных возможностей пусты", id)
			if unparsed == nil {
				unparsed = make(map[uint]string)
			}
			unparsed[uint(id)] = name + ":" + attr.Value
			continue
		}
		config[uint(id)] = cfg
	}

	if unparsed != nil {
		g.unparsedCfgs[idx] = unparsed
	}
	if len(config) == 0 {
		return false
	}
	streamCfgs, ok := g.cfgs[idx]
	if !ok {
		streamCfgs = make(map[uint]ConfigAttribute, len(config))
		g.cfgs[idx] = streamCfgs
	}
	for id, cfg := range config {
		streamCfgs[id] = cfg
	}
	return true
}

// ParseConfigBody разбирает тело acfg/pcfg без индекса, например
// "t=1|2 a=-m:1,[2]|3". Разрешено не более одного списка a= и одного t=.
// При ошибке разбора возвращается пустая конфигурация.
func ParseConfigBody(body string, acaps []Acap, tcaps []Tcap) ConfigAttribute {
	var (
		attr             ConfigAttribute
		acapList         [][]AcapRef
		tcapList         []TcapRef
		acapErr, tcapErr bool
		deleteMedia      bool
		deleteSession    bool
	)

	for _, item := range strings.Fields(body) {
		capType, cfgBody, ok := strings.Cut(item, "=")
		if !ok {
			logger.Infof("Элемент конфигурации %q не содержит '='", item)
			return attr
		}

		prefix, idxList, hasDelete := strings.Cut(cfgBody, ":")
		if !hasDelete {
			idxList = prefix
			prefix = ""
		}

		switch capType {
		case "a":
			if len(acapList) > 0 {
				logger.Errorf("Второй список атрибутных возможностей %q проигнорирован", item)
				continue
			}
			parsed, success := parseIdxList(idxList, func(idx uint) (AcapRef, bool) {
				c, found := findAcap(acaps, idx)
				return AcapRef{Acap: c}, found
			}, func(r *AcapRef, mandatory bool) { r.Mandatory = mandatory })
			acapErr = acapErr || (!success && len(parsed) == 0)
			if len(parsed) > 0 {
				acapList = parsed
			}
			deleteMedia = strings.Contains(prefix, "m")
			deleteSession = strings.Contains(prefix, "s")
		case "t":
			if len(tcapList) > 0 {
				logger.Errorf("Второй список транспортных возможностей %q проигнорирован", item)
				continue
			}
			parsed, success := parseIdxList(idxList, func(idx uint) (TcapRef, bool) {
				c, found := findTcap(tcaps, idx)
				return TcapRef{Tcap: c}, found
			}, func(r *TcapRef, mandatory bool) { r.Mandatory = mandatory })
			tcapErr = tcapErr || (!success && len(parsed) == 0)
			for _, alt := range parsed {
				if len(alt) > 1 {
					logger.Errorf("Найдено %d транспортных протоколов в одной конфигурации - пропускаем", len(alt))
					continue
				}
				tcapList = append(tcapList, alt[0])
			}
		default:
			logger.Debugf("Расширенная возможность %q не поддерживается", item)
		}
	}

	if acapErr || tcapErr || (len(acapList) == 0 && len(tcapList) == 0) {
		logger.Errorf("Не удалось построить конфигурацию: ошибка разбора %t, acap %d, tcap %d",
			acapErr || tcapErr, len(acapList), len(tcapList))
		return attr
	}

	attr.Acap = acapList
	attr.Tcap = tcapList
	attr.DeleteMediaAttributes = deleteMedia
	attr.DeleteSessionAttributes = deleteSession
	return attr
}

// parseIdxList разбирает список вида "1,[2,3]|4". Альтернатива, в которой
// встретился неизвестный индекс, отбрасывается целиком.
func parseIdxList[T any](idxList string, lookup func(uint) (T, bool), setMandatory func(*T, bool)) ([][]T, bool) {
	var out [][]T
	success := true
	mandatory := true
	for _, alt := range strings.Split(idxList, "|") {
		var caps []T
		for _, token := range strings.Split(alt, ",") {
			if strings.Contains(token, "[") {
				mandatory = false
			}
			match := indexRegex.FindString(token)
			idx, err := strconv.ParseUint(match, 10, 32)
			if err != nil {
				logger.Errorf("Не удалось найти индекс в %q - пропускаем альтернативу", token)
				caps = nil
				success = false
				break
			}
			ref, ok := lookup(uint(idx))
			if !ok {
				logger.Errorf("Не найдена возможность с индексом %d - пропускаем альтернативу", idx)
				caps = nil
				success = false
				break
			}
			setMandatory(&ref, mandatory)
			caps = append(caps, ref)
			if strings.Contains(token, "]") {
				mandatory = true
			}
		}
		if len(caps) > 0 {
			out = append(out, caps)
		}
	}
	return out, success
}
