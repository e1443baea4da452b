package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/vgbot/internal/domain"
	"github.com/alanyoungcy/vgbot/internal/guardrail"
	"github.com/alanyoungcy/vgbot/internal/regime"
)

// The helpers below run after the core components have returned. Failures
// are logged and never change trading state.

func (r *Runner) recordRejection(ctx context.Context, res guardrail.Result) {
	if m := r.deps.Metrics; m != nil {
		m.Rejections.WithLabelValues(string(res.Stage)).Inc()
	}
	if s := r.deps.Rejections; s != nil {
		if err := s.Insert(ctx, res.Rejection().Record()); err != nil {
			r.logger.WarnContext(ctx, "persist rejection failed", slog.String("symbol", res.Symbol), slog.String("error", err.Error()))
		}
	}
	r.emit(ctx, domain.ChannelRejections, domain.Event{
		Kind:   domain.EventRejection,
		Symbol: res.Symbol,
		Detail: map[string]any{"stage": string(res.Stage), "reason": res.Reason, "intent": string(res.Intent)},
	})
}

func (r *Runner) recordExecution(res guardrail.Result) {
	if m := r.deps.Metrics; m != nil {
		m.Executions.WithLabelValues(string(res.Side), string(res.Intent)).Inc()
	}
}

func (r *Runner) persistClose(ctx context.Context, trade domain.TradeRecord, pos domain.PositionRecord) {
	if s := r.deps.Trades; s != nil {
		if err := s.Insert(ctx, trade); err != nil {
			r.logger.WarnContext(ctx, "persist trade failed", slog.String("symbol", pos.Symbol), slog.String("error", err.Error()))
		}
	}
	if s := r.deps.Positions; s != nil {
		if err := s.Insert(ctx, pos); err != nil {
			r.logger.WarnContext(ctx, "persist position failed", slog.String("symbol", pos.Symbol), slog.String("error", err.Error()))
		}
	}
}

func (r *Runner) cacheRegime(ctx context.Context, snap regime.Snapshot) {
	if r.deps.Regimes == nil || !snap.Ready() {
		return
	}
	if err := r.deps.Regimes.Set(ctx, snap.State()); err != nil {
		r.logger.WarnContext(ctx, "cache regime failed", slog.String("symbol", snap.Symbol), slog.String("error", err.Error()))
	}
}

func (r *Runner) audit(ctx context.Context, event, symbol string, detail map[string]any) {
	if r.deps.Audit == nil {
		return
	}
	d := make(map[string]any, len(detail)+1)
	for k, v := range detail {
		d[k] = v
	}
	d["symbol"] = symbol
	if err := r.deps.Audit.Log(ctx, event, d); err != nil {
		r.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (r *Runner) emit(ctx context.Context, channel string, evt domain.Event) {
	if r.deps.Bus == nil {
		return
	}
	evt.At = r.clock.Now()
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := r.deps.Bus.Publish(ctx, channel, payload); err != nil {
		r.logger.WarnContext(ctx, "publish event failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
	if err := r.deps.Bus.StreamAppend(ctx, channel, payload); err != nil {
		r.logger.WarnContext(ctx, "stream append failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

func (r *Runner) notify(ctx context.Context, event, title, message string) {
	if r.deps.Notifier == nil {
		return
	}
	if err := r.deps.Notifier.Notify(ctx, event, title, message); err != nil {
		r.logger.WarnContext(ctx, "notify failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
