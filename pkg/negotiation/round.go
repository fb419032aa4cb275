package negotiation

import (
	"context"
	"sync"

	"github.com/arzzra/media_negotiation/pkg/media_sdp"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
)

// RoundState состояние раунда offer/answer
type RoundState string

const (
	StateIdle          RoundState = "idle"
	StateOfferSent     RoundState = "offer_sent"
	StateOfferReceived RoundState = "offer_received"
	StateNegotiated    RoundState = "negotiated"
)

// События автомата раунда
const (
	EventSendOffer     = "send_offer"
	EventReceiveOffer  = "receive_offer"
	EventReceiveAnswer = "receive_answer"
	EventSendAnswer    = "send_answer"
	EventReset         = "reset"
)

// StateChangeHandler вызывается после смены состояния раунда
type StateChangeHandler func(from, to RoundState)

// Round один раунд offer/answer диалога. Конфигурации потоков выбираются
// ровно один раз за раунд; после reset начинается следующий раунд, и
// изменения удаленного описания считаются относительно прошлого раунда.
type Round struct {
	mu sync.Mutex

	cfg     media_sdp.NegotiationConfig
	builder *Builder
	fsm     *fsm.FSM

	local          *media_sdp.MediaDescription
	remote         *media_sdp.MediaDescription
	previousRemote *media_sdp.MediaDescription
	choices        []StreamChoice
	selected       bool
	changes        int

	stateChangeHandler StateChangeHandler
}

// NewRound создает раунд в состоянии idle
func NewRound(cfg media_sdp.NegotiationConfig, opts ...BuilderOption) (*Round, error) {
	builder, err := NewBuilder(cfg, opts...)
	if err != nil {
		return nil, err
	}
	r := &Round{cfg: cfg, builder: builder}
	r.initStateMachine()
	return r, nil
}

func (r *Round) initStateMachine() {
	idle := string(StateIdle)
	offerSent := string(StateOfferSent)
	offerReceived := string(StateOfferReceived)
	negotiated := string(StateNegotiated)

	r.fsm = fsm.NewFSM(
		idle,
		fsm.Events{
			{Name: EventSendOffer, Src: []string{idle}, Dst: offerSent},
			{Name: EventReceiveOffer, Src: []string{idle}, Dst: offerReceived},
			{Name: EventReceiveAnswer, Src: []string{offerSent}, Dst: negotiated},
			{Name: EventSendAnswer, Src: []string{offerReceived}, Dst: negotiated},
			{Name: EventReset, Src: []string{offerSent, offerReceived, negotiated}, Dst: idle},
		},
		fsm.Callbacks{
			"enter_" + negotiated: func(ctx context.Context, e *fsm.Event) {
				r.onNegotiated()
			},
			"enter_" + idle: func(ctx context.Context, e *fsm.Event) {
				// удаленное описание прошлого раунда остается для сравнения
				if e.Src == negotiated {
					r.previousRemote = r.remote
				}
				r.local, r.remote = nil, nil
				r.choices = nil
				r.selected = false
			},
		},
	)
}

func (r *Round) onNegotiated() {
	if r.previousRemote == nil {
		r.changes = media_sdp.Unchanged
		return
	}
	r.changes = r.previousRemote.CompareToChosenConfiguration(r.remote)
	if r.changes != media_sdp.Unchanged {
		logger.Infof("Изменения относительно прошлого раунда: %s", media_sdp.PrintDifferences(r.changes))
	}
}

// fire выполняет переход под блокировкой r.mu и возвращает состояния до и после
func (r *Round) fire(ctx context.Context, event string) (RoundState, RoundState, error) {
	from := RoundState(r.fsm.Current())
	if err := r.fsm.Event(ctx, event); err != nil {
		return from, from, errors.Wrapf(err, "событие %s в состоянии %s", event, from)
	}
	return from, RoundState(r.fsm.Current()), nil
}

func (r *Round) notify(from, to RoundState) {
	r.mu.Lock()
	handler := r.stateChangeHandler
	r.mu.Unlock()
	if handler != nil && from != to {
		handler(from, to)
	}
}

func (r *Round) can(event string) error {
	if !r.fsm.Can(event) {
		return errors.Errorf("событие %s недопустимо в состоянии %s", event, r.fsm.Current())
	}
	return nil
}

// SetStateChangeHandler устанавливает обработчик смены состояния
func (r *Round) SetStateChangeHandler(handler StateChangeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateChangeHandler = handler
}

// State текущее состояние раунда
func (r *Round) State() RoundState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoundState(r.fsm.Current())
}

// Builder построитель описаний раунда
func (r *Round) Builder() *Builder { return r.builder }

// Local локальное описание текущего раунда
func (r *Round) Local() *media_sdp.MediaDescription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local
}

// Remote удаленное описание текущего раунда
func (r *Round) Remote() *media_sdp.MediaDescription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remote
}

// Choices выбор конфигураций текущего раунда
func (r *Round) Choices() []StreamChoice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StreamChoice(nil), r.choices...)
}

// Changes маска изменений удаленного описания относительно прошлого раунда
func (r *Round) Changes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes
}

// CreateOffer строит локальное предложение и переводит раунд в offer_sent
func (r *Round) CreateOffer(ctx context.Context, spec LocalSpec) (*media_sdp.MediaDescription, error) {
	r.mu.Lock()
	if err := r.can(EventSendOffer); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	offer, err := r.builder.BuildLocalOffer(spec)
	if err != nil {
		r.mu.Unlock()
		return nil, errors.Wrap(err, "построение предложения")
	}
	from, to, err := r.fire(ctx, EventSendOffer)
	if err == nil {
		r.local = offer
	}
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.notify(from, to)
	return offer, nil
}

// ReceiveOffer принимает удаленное предложение и выбирает конфигурации его потоков
func (r *Round) ReceiveOffer(ctx context.Context, offer *media_sdp.MediaDescription) ([]StreamChoice, error) {
	r.mu.Lock()
	if err := r.can(EventReceiveOffer); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	choices, err := r.selectOnce(nil, offer)
	if err != nil {
		r.mu.Unlock()
		return choices, err
	}
	from, to, err := r.fire(ctx, EventReceiveOffer)
	if err == nil {
		r.remote = offer
		r.choices = choices
	}
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.notify(from, to)
	return choices, nil
}

// CreateAnswer строит ответ на принятое предложение и завершает раунд
func (r *Round) CreateAnswer(ctx context.Context, spec LocalSpec) (*media_sdp.MediaDescription, error) {
	r.mu.Lock()
	if err := r.can(EventSendAnswer); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	answer, err := r.builder.BuildAnswer(r.remote, r.choices, spec)
	if err != nil {
		r.mu.Unlock()
		return nil, errors.Wrap(err, "построение ответа")
	}
	r.local = answer
	from, to, err := r.fire(ctx, EventSendAnswer)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.notify(from, to)
	return answer, nil
}

// ReceiveAnswer принимает ответ, выбирает подтвержденные локальные
// конфигурации и завершает раунд
func (r *Round) ReceiveAnswer(ctx context.Context, answer *media_sdp.MediaDescription) error {
	r.mu.Lock()
	if err := r.can(EventReceiveAnswer); err != nil {
		r.mu.Unlock()
		return err
	}
	choices, err := r.selectOnce(r.local, answer)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.remote = answer
	r.choices = choices
	from, to, err := r.fire(ctx, EventReceiveAnswer)
	if err == nil {
		// номера кодеков фиксируются по выбранным конфигурациям
		r.builder.PayloadMemo().Remember(r.local)
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.notify(from, to)
	return nil
}

// Reset завершает раунд и возвращает автомат в idle
func (r *Round) Reset(ctx context.Context) error {
	r.mu.Lock()
	from, to, err := r.fire(ctx, EventReset)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.notify(from, to)
	return nil
}

func (r *Round) selectOnce(local, remote *media_sdp.MediaDescription) ([]StreamChoice, error) {
	if r.selected {
		return nil, errors.New("конфигурации уже выбраны в этом раунде")
	}
	choices, err := SelectConfigurations(r.cfg, local, remote)
	if err != nil {
		return choices, errors.Wrap(err, "выбор конфигураций")
	}
	r.selected = true
	return choices, nil
}
