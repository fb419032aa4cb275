// Package capneg хранит граф согласования возможностей SDP (RFC 5939):
// атрибутные (acap) и транспортные (tcap) возможности уровня сессии и медиа,
// а также потенциальные (pcfg) и актуальные (acfg) конфигурации потоков.
package capneg

import (
	"sort"
)

// CapabilityType тип возможности
type CapabilityType int

const (
	CapabilityAttribute CapabilityType = iota
	CapabilityTransportProtocol
	CapabilityExtended
)

// AttributeName возвращает имя SDP атрибута для типа возможности
func (c CapabilityType) AttributeName() string {
	switch c {
	case CapabilityAttribute:
		return "acap"
	case CapabilityTransportProtocol:
		return "tcap"
	default:
		return "ecap"
	}
}

// Acap атрибутная возможность: a=acap:<index> <name>[:<value>]
type Acap struct {
	Index uint
	Name  string
	Value string
}

// Tcap транспортная возможность: один протокол из a=tcap
type Tcap struct {
	Index uint
	Value string
}

// AcapRef ссылка конфигурации на атрибутную возможность
type AcapRef struct {
	Acap      Acap
	Mandatory bool
}

// TcapRef ссылка конфигурации на транспортную возможность
type TcapRef struct {
	Tcap      Tcap
	Mandatory bool
}

// IndexRef индекс возможности с признаком обязательности,
// используется при создании конфигураций вручную
type IndexRef struct {
	Index     uint
	Mandatory bool
}

// ConfigAttribute разобранная строка acfg/pcfg.
// Каждый элемент Acap - одна альтернатива (список возможностей через запятую).
type ConfigAttribute struct {
	Acap                    [][]AcapRef
	Tcap                    []TcapRef
	DeleteMediaAttributes   bool
	DeleteSessionAttributes bool
}

// Empty сообщает, что конфигурация не ссылается ни на одну возможность
func (c ConfigAttribute) Empty() bool {
	return len(c.Acap) == 0 && len(c.Tcap) == 0
}

// AcapIndexes возвращает индексы атрибутных возможностей по альтернативам
func (c ConfigAttribute) AcapIndexes() [][]uint {
	out := make([][]uint, 0, len(c.Acap))
	for _, alt := range c.Acap {
		idxs := make([]uint, 0, len(alt))
		for _, ref := range alt {
			idxs = append(idxs, ref.Acap.Index)
		}
		out = append(out, idxs)
	}
	return out
}

func (c ConfigAttribute) clone() ConfigAttribute {
	out := ConfigAttribute{
		DeleteMediaAttributes:   c.DeleteMediaAttributes,
		DeleteSessionAttributes: c.DeleteSessionAttributes,
	}
	for _, alt := range c.Acap {
		out.Acap = append(out.Acap, append([]AcapRef(nil), alt...))
	}
	out.Tcap = append(out.Tcap, c.Tcap...)
	return out
}

// Graph граф потенциальных конфигураций.
// Ключ карт уровня медиа - индекс потока в описании сессии.
type Graph struct {
	globalAcap   []Acap
	globalTcap   []Tcap
	cfgs         map[uint]map[uint]ConfigAttribute
	unparsedCfgs map[uint]map[uint]string
	acap         map[uint][]Acap
	tcap         map[uint][]Tcap
}

// New создает пустой граф
func New() *Graph {
	return &Graph{
		cfgs:         make(map[uint]map[uint]ConfigAttribute),
		unparsedCfgs: make(map[uint]map[uint]string),
		acap:         make(map[uint][]Acap),
		tcap:         make(map[uint][]Tcap),
	}
}

// Clone возвращает глубокую копию графа
func (g *Graph) Clone() *Graph {
	out := New()
	out.globalAcap = append(out.globalAcap, g.globalAcap...)
	out.globalTcap = append(out.globalTcap, g.globalTcap...)
	for idx, list := range g.acap {
		out.acap[idx] = append([]Acap(nil), list...)
	}
	for idx, list := range g.tcap {
		out.tcap[idx] = append([]Tcap(nil), list...)
	}
	for idx, cfgs := range g.cfgs {
		m := make(map[uint]ConfigAttribute, len(cfgs))
		for id, cfg := range cfgs {
			m[id] = cfg.clone()
		}
		out.cfgs[idx] = m
	}
	for idx, lines := range g.unparsedCfgs {
		m := make(map[uint]string, len(lines))
		for id, line := range lines {
			m[id] = line
		}
		out.unparsedCfgs[idx] = m
	}
	return out
}

// Empty сообщает, что граф не содержит ни одной возможности или конфигурации
func (g *Graph) Empty() bool {
	return len(g.globalAcap) == 0 && len(g.globalTcap) == 0 && len(g.cfgs) == 0 &&
		len(g.acap) == 0 && len(g.tcap) == 0 && len(g.unparsedCfgs) == 0
}

func (g *Graph) AllCfg() map[uint]map[uint]ConfigAttribute { return g.cfgs }

func (g *Graph) UnparsedCfgs() map[uint]map[uint]string { return g.unparsedCfgs }

func (g *Graph) StreamAcap() map[uint][]Acap { return g.acap }

func (g *Graph) StreamTcap() map[uint][]Tcap { return g.tcap }

func (g *Graph) GlobalAcap() []Acap { return g.globalAcap }

func (g *Graph) GlobalTcap() []Tcap { return g.globalTcap }

// CfgForStream возвращает конфигурации потока; nil если их нет
func (g *Graph) CfgForStream(idx uint) map[uint]ConfigAttribute {
	return g.cfgs[idx]
}

// UnparsedCfgForStream возвращает строки acfg/pcfg, которые не удалось разобрать
func (g *Graph) UnparsedCfgForStream(idx uint) map[uint]string {
	return g.unparsedCfgs[idx]
}

func (g *Graph) MediaAcapForStream(idx uint) []Acap { return g.acap[idx] }

func (g *Graph) MediaTcapForStream(idx uint) []Tcap { return g.tcap[idx] }

// AllAcapForStream объединяет глобальные возможности с возможностями потока.
// Глобальные идут первыми; запись потока с тем же индексом отбрасывается.
func (g *Graph) AllAcapForStream(idx uint) []Acap {
	out := append([]Acap(nil), g.globalAcap...)
	for _, c := range g.acap[idx] {
		if containsAcap(g.globalAcap, c.Index) {
			logger.Errorf("acap с индексом %d потока %d совпадает с глобальной возможностью - используется глобальная", c.Index, idx)
			continue
		}
		out = append(out, c)
	}
	return out
}

// AllTcapForStream объединяет глобальные транспортные возможности с возможностями потока
func (g *Graph) AllTcapForStream(idx uint) []Tcap {
	out := append([]Tcap(nil), g.globalTcap...)
	for _, c := range g.tcap[idx] {
		if containsTcap(g.globalTcap, c.Index) {
			logger.Errorf("tcap с индексом %d потока %d совпадает с глобальной возможностью - используется глобальная", c.Index, idx)
			continue
		}
		out = append(out, c)
	}
	return out
}

// AddGlobalAcap добавляет атрибутную возможность уровня сессии.
// Возвращает false, если индекс уже занят в любой области.
func (g *Graph) AddGlobalAcap(idx uint, name, value string) bool {
	if idx == 0 || g.canFindAcapWithIdx(idx) {
		return false
	}
	g.globalAcap = append(g.globalAcap, Acap{Index: idx, Name: name, Value: value})
	return true
}

// AddGlobalTcap добавляет транспортную возможность уровня сессии
func (g *Graph) AddGlobalTcap(idx uint, value string) bool {
	if idx == 0 || g.canFindTcapWithIdx(idx) {
		return false
	}
	g.globalTcap = append(g.globalTcap, Tcap{Index: idx, Value: value})
	return true
}

// AddAcapToStream добавляет атрибутную возможность потоку.
// Индекс не должен совпадать с глобальным или уже существующим в потоке.
func (g *Graph) AddAcapToStream(streamIdx, idx uint, name, value string) bool {
	if idx == 0 || containsAcap(g.globalAcap, idx) || containsAcap(g.acap[streamIdx], idx) {
		return false
	}
	g.acap[streamIdx] = append(g.acap[streamIdx], Acap{Index: idx, Name: name, Value: value})
	return true
}

// AddTcapToStream добавляет транспортную возможность потоку
func (g *Graph) AddTcapToStream(streamIdx, idx uint, value string) bool {
	if idx == 0 || containsTcap(g.globalTcap, idx) || containsTcap(g.tcap[streamIdx], idx) {
		return false
	}
	g.tcap[streamIdx] = append(g.tcap[streamIdx], Tcap{Index: idx, Value: value})
	return true
}

// AddCfg добавляет конфигурацию потоку. Если конфигурация с таким индексом
// уже есть, к ней дописываются новые альтернативы и транспорты.
func (g *Graph) AddCfg(streamIdx, cfgIdx uint, acapIdxs [][]IndexRef, tcapIdxs []uint, deleteMedia, deleteSession bool) {
	attr := g.createCfgAttr(streamIdx, acapIdxs, tcapIdxs, deleteMedia, deleteSession)
	streamCfgs, ok := g.cfgs[streamIdx]
	if !ok {
		streamCfgs = make(map[uint]ConfigAttribute)
		g.cfgs[streamIdx] = streamCfgs
	}
	existing, ok := streamCfgs[cfgIdx]
	if !ok {
		streamCfgs[cfgIdx] = attr
		return
	}
	existing.Acap = append(existing.Acap, attr.Acap...)
	existing.Tcap = append(existing.Tcap, attr.Tcap...)
	existing.DeleteMediaAttributes = existing.DeleteMediaAttributes || deleteMedia
	existing.DeleteSessionAttributes = existing.DeleteSessionAttributes || deleteSession
	streamCfgs[cfgIdx] = existing
}

func (g *Graph) createCfgAttr(streamIdx uint, acapIdxs [][]IndexRef, tcapIdxs []uint, deleteMedia, deleteSession bool) ConfigAttribute {
	attr := ConfigAttribute{
		DeleteMediaAttributes:   deleteMedia,
		DeleteSessionAttributes: deleteSession,
	}

	acaps := g.AllAcapForStream(streamIdx)
	for _, group := range acapIdxs {
		var refs []AcapRef
		for _, ref := range group {
			c, ok := findAcap(acaps, ref.Index)
			if !ok {
				logger.Errorf("Не найдена атрибутная возможность с индексом %d - пропускаем", ref.Index)
				continue
			}
			refs = append(refs, AcapRef{Acap: c, Mandatory: ref.Mandatory})
		}
		if len(refs) > 0 {
			attr.Acap = append(attr.Acap, refs)
		}
	}

	tcaps := g.AllTcapForStream(streamIdx)
	for _, idx := range tcapIdxs {
		c, ok := findTcap(tcaps, idx)
		if !ok {
			logger.Errorf("Не найдена транспортная возможность с индексом %d - пропускаем", idx)
			break
		}
		attr.Tcap = append(attr.Tcap, TcapRef{Tcap: c})
	}

	return attr
}

func (g *Graph) canFindAcapWithIdx(idx uint) bool {
	if containsAcap(g.globalAcap, idx) {
		return true
	}
	for _, list := range g.acap {
		if containsAcap(list, idx) {
			return true
		}
	}
	return false
}

func (g *Graph) canFindTcapWithIdx(idx uint) bool {
	if containsTcap(g.globalTcap, idx) {
		return true
	}
	for _, list := range g.tcap {
		if containsTcap(list, idx) {
			return true
		}
	}
	return false
}

// FreeTcapIdx возвращает наименьший свободный индекс tcap во всех областях
func (g *Graph) FreeTcapIdx() uint {
	var used []uint
	for _, c := range g.globalTcap {
		used = append(used, c.Index)
	}
	for _, list := range g.tcap {
		for _, c := range list {
			used = append(used, c.Index)
		}
	}
	return FreeIdx(used)
}

// FreeAcapIdx возвращает наименьший свободный индекс acap во всех областях
func (g *Graph) FreeAcapIdx() uint {
	var used []uint
	for _, c := range g.globalAcap {
		used = append(used, c.Index)
	}
	for _, list := range g.acap {
		for _, c := range list {
			used = append(used, c.Index)
		}
	}
	return FreeIdx(used)
}

// FreeCfgIdx возвращает наименьший свободный индекс конфигурации потока
func (g *Graph) FreeCfgIdx(streamIdx uint) uint {
	var used []uint
	for idx := range g.cfgs[streamIdx] {
		used = append(used, idx)
	}
	return FreeIdx(used)
}

// FreeIdx возвращает наименьшее целое >= 1, отсутствующее в списке.
// Индекс 0 зарезервирован за актуальной конфигурацией.
func FreeIdx(used []uint) uint {
	if len(used) == 0 {
		return 1
	}
	sorted := append([]uint(nil), used...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	candidate := uint(1)
	for _, idx := range sorted {
		if idx < candidate {
			continue
		}
		if idx > candidate {
			break
		}
		candidate++
	}
	return candidate
}

// SortedKeys возвращает ключи карты конфигураций по возрастанию
func SortedKeys[V any](m map[uint]V) []uint {
	keys := make([]uint, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func containsAcap(list []Acap, idx uint) bool {
	_, ok := findAcap(list, idx)
	return ok
}

func containsTcap(list []Tcap, idx uint) bool {
	_, ok := findTcap(list, idx)
	return ok
}

func findAcap(list []Acap, idx uint) (Acap, bool) {
	for _, c := range list {
		if c.Index == idx {
			return c, true
		}
	}
	return Acap{}, false
}

func findTcap(list []Tcap, idx uint) (Tcap, bool) {
	for _, c := range list {
		if c.Index == idx {
			return c, true
		}
	}
	return Tcap{}, false
}
