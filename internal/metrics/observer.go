package metrics

import (
	"github.com/tathienbao/position-engine/internal/position"
)

// Observer is a position listener that feeds a Recorder.
type Observer struct {
	recorder *Recorder
}

// NewObserver creates an observer. A nil recorder gets a fresh one.
func NewObserver(r *Recorder) *Observer {
	if r == nil {
		r = NewRecorder()
	}
	return &Observer{recorder: r}
}

// OnEvent implements position.Listener.
func (o *Observer) OnEvent(ev position.Event) {
	switch ev.Kind {
	case position.EventOrderSubmitted,
		position.EventOrderAccepted,
		position.EventOrderWorking,
		position.EventOrderRejected,
		position.EventOrderCanceled,
		position.EventOrderExpired,
		position.EventOrderPartiallyFilled,
		position.EventOrderFilled:
		if ev.Order == nil {
			return
		}
		symbol := ev.Order.Spec.Symbol
		o.recorder.RecordOrder(symbol, ev.Order.Spec.Role.String(), ev.Order.Status.String())
		if ev.Fill != nil {
			o.recorder.RecordFill(symbol, *ev.Fill)
		}
	case position.EventTradeFinalized:
		if ev.Trade != nil {
			o.recorder.RecordTrade(*ev.Trade)
		}
	case position.EventDiagnostic:
		if ev.Diagnostic != nil {
			o.recorder.RecordDiagnostic(*ev.Diagnostic)
		}
	}

	if ev.Position != nil {
		o.recorder.RecordPosition(*ev.Position)
	}
}
