package negotiation

import (
	"github.com/arzzra/media_negotiation/pkg/capneg"
	"github.com/arzzra/media_negotiation/pkg/media_sdp"
	"github.com/pkg/errors"
)

var (
	// ErrNoAcceptableConfiguration ни один поток предложения не может быть принят
	ErrNoAcceptableConfiguration = errors.New("нет приемлемой конфигурации ни для одного потока")
	// ErrStreamCountMismatch число потоков ответа не совпадает с предложением
	ErrStreamCountMismatch = errors.New("число m= строк ответа не совпадает с предложением")
)

// StreamChoice результат выбора конфигурации одного потока
type StreamChoice struct {
	Index    uint
	Declined bool
}

func isAvpfProto(p media_sdp.MediaProto) bool {
	switch p {
	case media_sdp.ProtoRtpAvpf, media_sdp.ProtoRtpSavpf, media_sdp.ProtoUdpTlsRtpSavpf:
		return true
	}
	return false
}

// acceptable проверяет конфигурацию по локальной политике шифрования и AVPF
func acceptable(cfg *media_sdp.NegotiationConfig, sc *media_sdp.StreamConfiguration) bool {
	if sc.Proto == media_sdp.ProtoOther {
		return false
	}
	if !cfg.SupportsEncryption(sc.Encryption()) {
		return false
	}
	if isAvpfProto(sc.Proto) && !cfg.Avpf {
		return false
	}
	return sc.Validate() == nil
}

// pickConfiguration перебирает фактическую и потенциальные конфигурации
// по возрастанию индекса. Предпочтительное шифрование выигрывает у порядка.
func pickConfiguration(cfg *media_sdp.NegotiationConfig, s *media_sdp.StreamDescription) (uint, bool) {
	var fallback uint
	found := false
	for _, idx := range capneg.SortedKeys(s.Cfgs) {
		sc := s.Cfgs[idx]
		if sc == nil || !acceptable(cfg, sc) {
			continue
		}
		if sc.Encryption() == cfg.Encryption {
			return idx, true
		}
		if !found {
			fallback, found = idx, true
		}
	}
	return fallback, found
}

// SelectConfigurations выбирает конфигурации потоков на текущий раунд.
//
// Для полученного предложения (local == nil) в каждом включенном потоке
// remote выбирается первая приемлемая конфигурация; поток без такой
// конфигурации отклоняется.
//
// Для полученного ответа в каждом потоке local выбирается конфигурация,
// подтвержденная a=acfg ответа, а без acfg первая с протоколом ответа.
func SelectConfigurations(cfg media_sdp.NegotiationConfig, local, remote *media_sdp.MediaDescription) ([]StreamChoice, error) {
	if remote == nil {
		return nil, errors.New("удаленное описание не задано")
	}
	if local == nil {
		return selectForOffer(&cfg, remote)
	}
	return selectFromAnswer(local, remote)
}

func selectForOffer(cfg *media_sdp.NegotiationConfig, offer *media_sdp.MediaDescription) ([]StreamChoice, error) {
	choices := make([]StreamChoice, len(offer.Streams))
	accepted, enabled := 0, 0
	for i, s := range offer.Streams {
		if !s.Enabled() {
			choices[i] = StreamChoice{Index: media_sdp.ActualConfigurationIndex, Declined: true}
			continue
		}
		enabled++
		idx, ok := pickConfiguration(cfg, s)
		if !ok {
			logger.Infof("Поток %d (%s): нет приемлемой конфигурации, отклоняем", i, s.TypeAsString())
			choices[i] = StreamChoice{Index: media_sdp.ActualConfigurationIndex, Declined: true}
			continue
		}
		if err := s.SetChosenConfigurationIndex(idx); err != nil {
			return nil, errors.Wrapf(err, "поток %d", i)
		}
		logger.Debugf("Поток %d: выбрана конфигурация %d (%s)", i, idx, s.ProtoAsString())
		choices[i] = StreamChoice{Index: idx}
		accepted++
	}
	if enabled > 0 && accepted == 0 {
		return choices, ErrNoAcceptableConfiguration
	}
	return choices, nil
}

func selectFromAnswer(local, answer *media_sdp.MediaDescription) ([]StreamChoice, error) {
	if len(local.Streams) != len(answer.Streams) {
		return nil, errors.Wrapf(ErrStreamCountMismatch, "%d против %d", len(local.Streams), len(answer.Streams))
	}
	choices := make([]StreamChoice, len(local.Streams))
	for i, ls := range local.Streams {
		as := answer.Streams[i]
		if as.RtpPort == 0 {
			choices[i] = StreamChoice{Index: ls.ChosenConfigurationIndex(), Declined: true}
			continue
		}

		idx := media_sdp.ActualConfigurationIndex
		actual, ok := as.ActualConfiguration()
		switch {
		case ok && actual.Index != media_sdp.ActualConfigurationIndex:
			if _, exists := ls.Configuration(actual.Index); !exists {
				return nil, errors.Errorf("поток %d: ответ ссылается на неизвестную конфигурацию %d", i, actual.Index)
			}
			idx = actual.Index
		case ok:
			idx = configurationWithProto(ls, actual.Proto)
		}

		if err := ls.SetChosenConfigurationIndex(idx); err != nil {
			return nil, errors.Wrapf(err, "поток %d", i)
		}
		choices[i] = StreamChoice{Index: idx}
	}
	return choices, nil
}

// configurationWithProto первая конфигурация с заданным протоколом,
// иначе фактическая
func configurationWithProto(s *media_sdp.StreamDescription, proto media_sdp.MediaProto) uint {
	for _, idx := range capneg.SortedKeys(s.Cfgs) {
		if sc := s.Cfgs[idx]; sc != nil && sc.Proto == proto {
			return idx
		}
	}
	return media_sdp.ActualConfigurationIndex
}
