package guardrail

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

// Stats summarises the pipeline history.
type Stats struct {
	Executed         int            `json:"executed"`
	Rejected         int            `json:"rejected"`
	RejectionRatePct float64        `json:"rejection_rate_pct"`
	ByStage          map[Stage]int  `json:"by_stage"`
	BySymbol         map[string]int `json:"by_symbol"`
}

// Stats recomputes counts from the full history on every call.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Executed: len(p.executions),
		Rejected: len(p.rejections),
		ByStage:  make(map[Stage]int),
		BySymbol: make(map[string]int),
	}
	for _, r := range p.rejections {
		s.ByStage[r.Stage]++
		s.BySymbol[r.Symbol]++
	}
	if total := s.Executed + s.Rejected; total > 0 {
		s.RejectionRatePct = float64(s.Rejected) / float64(total) * 100
	}
	return s
}

// AuditEvent is one row of the merged audit log.
type AuditEvent struct {
	Kind    string          `json:"kind"` // "execution" or "rejection"
	Symbol  string          `json:"symbol"`
	Side    domain.Side     `json:"side"`
	Intent  Intent          `json:"intent"`
	Qty     decimal.Decimal `json:"qty"`
	Price   decimal.Decimal `json:"price,omitempty"`
	OrderID string          `json:"order_id,omitempty"`
	Stage   Stage           `json:"stage,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	At      time.Time       `json:"at"`
}

// AuditLog merges executions and rejections in time order.
func (p *Pipeline) AuditLog() []AuditEvent {
	p.mu.Lock()
	out := make([]AuditEvent, 0, len(p.executions)+len(p.rejections))
	for _, e := range p.executions {
		out = append(out, AuditEvent{
			Kind: "execution", Symbol: e.Symbol, Side: e.Side, Intent: e.Intent,
			Qty: e.Qty, Price: e.Price, OrderID: e.OrderID, At: e.At,
		})
	}
	for _, r := range p.rejections {
		out = append(out, AuditEvent{
			Kind: "rejection", Symbol: r.Symbol, Side: r.Side, Intent: r.Intent,
			Qty: r.Qty, Stage: r.Stage, Reason: r.Reason, At: r.At,
		})
	}
	p.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
