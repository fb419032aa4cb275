package media_sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/ice/v4"
)

// IceCandidate строка a=candidate (RFC 8445)
type IceCandidate struct {
	Foundation  string
	ComponentID uint
	Transport   string
	Priority    uint32
	Addr        string
	Port        int
	Type        string
	RAddr       string
	RPort       int
	Extensions  []ice.CandidateExtension
}

// IceRemoteCandidate элемент a=remote-candidates
type IceRemoteCandidate struct {
	ComponentID uint
	Addr        string
	Port        int
}

// ParseIceCandidate разбирает значение a=candidate
func ParseIceCandidate(value string) (IceCandidate, error) {
	cand, err := ice.UnmarshalCandidate(strings.TrimPrefix(strings.TrimSpace(value), "candidate:"))
	if err != nil {
		return IceCandidate{}, WrapSDPError(ErrorCodeSDPParsing, "", err, "некорректный ICE кандидат: %q", value)
	}
	c := IceCandidate{
		Foundation:  cand.Foundation(),
		ComponentID: uint(cand.Component()),
		Transport:   cand.NetworkType().NetworkShort(),
		Priority:    cand.Priority(),
		Addr:        cand.Address(),
		Port:        cand.Port(),
		Type:        cand.Type().String(),
	}
	if ext := cand.Extensions(); len(ext) > 0 {
		c.Extensions = ext
	}
	if rel := cand.RelatedAddress(); rel != nil {
		c.RAddr = rel.Address
		c.RPort = rel.Port
	}
	return c, nil
}

// toICE собирает кандидата pion/ice по полям
func (c IceCandidate) toICE() (ice.Candidate, error) {
	network := strings.ToLower(c.Transport)
	var (
		cand ice.Candidate
		err  error
	)
	switch c.Type {
	case ice.CandidateTypeHost.String():
		cand, err = ice.NewCandidateHost(&ice.CandidateHostConfig{
			Network:    network,
			Address:    c.Addr,
			Port:       c.Port,
			Component:  uint16(c.ComponentID),
			Foundation: c.Foundation,
			Priority:   c.Priority,
		})
	case ice.CandidateTypeServerReflexive.String():
		cand, err = ice.NewCandidateServerReflexive(&ice.CandidateServerReflexiveConfig{
			Network:    network,
			Address:    c.Addr,
			Port:       c.Port,
			Component:  uint16(c.ComponentID),
			Foundation: c.Foundation,
			Priority:   c.Priority,
			RelAddr:    c.RAddr,
			RelPort:    c.RPort,
		})
	case ice.CandidateTypePeerReflexive.String():
		cand, err = ice.NewCandidatePeerReflexive(&ice.CandidatePeerReflexiveConfig{
			Network:    network,
			Address:    c.Addr,
			Port:       c.Port,
			Component:  uint16(c.ComponentID),
			Foundation: c.Foundation,
			Priority:   c.Priority,
			RelAddr:    c.RAddr,
			RelPort:    c.RPort,
		})
	case ice.CandidateTypeRelay.String():
		cand, err = ice.NewCandidateRelay(&ice.CandidateRelayConfig{
			Network:    network,
			Address:    c.Addr,
			Port:       c.Port,
			Component:  uint16(c.ComponentID),
			Foundation: c.Foundation,
			Priority:   c.Priority,
			RelAddr:    c.RAddr,
			RelPort:    c.RPort,
		})
	default:
		return nil, NewSDPError(ErrorCodeSDPGeneration, "неизвестный тип ICE кандидата %q", c.Type)
	}
	if err != nil {
		return nil, WrapSDPError(ErrorCodeSDPGeneration, "", err, "ICE кандидат %s", c.Foundation)
	}
	for _, ext := range c.Extensions {
		if err := cand.AddExtension(ext); err != nil {
			return nil, WrapSDPError(ErrorCodeSDPGeneration, "", err, "расширение ICE кандидата %s", ext.Key)
		}
	}
	return cand, nil
}

// Marshal формирует значение a=candidate
func (c IceCandidate) Marshal() (string, error) {
	cand, err := c.toICE()
	if err != nil {
		return "", err
	}
	return cand.Marshal(), nil
}

// ParseIceRemoteCandidates разбирает тройки "<component> <addr> <port>"
func ParseIceRemoteCandidates(value string) ([]IceRemoteCandidate, error) {
	f := strings.Fields(value)
	if len(f) == 0 || len(f)%3 != 0 {
		return nil, NewSDPError(ErrorCodeSDPParsing, "некорректный remote-candidates: %q", value)
	}
	out := make([]IceRemoteCandidate, 0, len(f)/3)
	for i := 0; i < len(f); i += 3 {
		comp, err := strconv.ParseUint(f[i], 10, 16)
		if err != nil {
			return nil, WrapSDPError(ErrorCodeSDPParsing, "", err, "некорректный компонент в remote-candidates")
		}
		port, err := strconv.Atoi(f[i+2])
		if err != nil {
			return nil, WrapSDPError(ErrorCodeSDPParsing, "", err, "некорректный порт в remote-candidates")
		}
		out = append(out, IceRemoteCandidate{ComponentID: uint(comp), Addr: f[i+1], Port: port})
	}
	return out, nil
}

func formatIceRemoteCandidates(list []IceRemoteCandidate) string {
	parts := make([]string, 0, len(list))
	for _, rc := range list {
		parts = append(parts, fmt.Sprintf("%d %s %d", rc.ComponentID, rc.Addr, rc.Port))
	}
	return strings.Join(parts, " ")
}
