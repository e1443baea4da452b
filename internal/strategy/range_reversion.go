package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

// RangeReversionName is the registry key for RangeReversion.
const RangeReversionName = "range_reversion"

// RangeReversion fades the edges of the recent high/low range: BUY near the
// bottom, SELL near the top, and exit once price reaches the opposite edge.
// Restricted assets never receive SELL. With a ZoneClassifier configured
// the position must also be an entry zone outside the danger band, which
// tightens the buy threshold for restricted assets.
//
// Params: lookback (96), buy_max (0.20), sell_min (0.80),
// exit_long_min (0.80), exit_short_max (0.20).
type RangeReversion struct {
	tiers        domain.TierTable
	zones        ZoneClassifier
	lookback     int
	buyMax       float64
	sellMin      float64
	exitLongMin  float64
	exitShortMax float64
	logger       *slog.Logger
}

// NewRangeReversion validates the params and builds the provider.
func NewRangeReversion(cfg Config, logger *slog.Logger) (*RangeReversion, error) {
	cfg.Name = RangeReversionName
	rr := &RangeReversion{
		tiers:  cfg.Tiers,
		zones:  cfg.Zones,
		logger: logger.With(slog.String("strategy", RangeReversionName)),
	}
	var err error
	if rr.lookback, err = cfg.intParam("lookback", 96); err != nil {
		return nil, err
	}
	for _, p := range []struct {
		key string
		def float64
		dst *float64
	}{
		{"buy_max", 0.20, &rr.buyMax},
		{"sell_min", 0.80, &rr.sellMin},
		{"exit_long_min", 0.80, &rr.exitLongMin},
		{"exit_short_max", 0.20, &rr.exitShortMax},
	} {
		if *p.dst, err = cfg.floatParam(p.key, p.def); err != nil {
			return nil, err
		}
		if *p.dst < 0 || *p.dst > 1 {
			return nil, fmt.Errorf("strategy %s: param %q must be in [0,1]", RangeReversionName, p.key)
		}
	}
	if rr.lookback < 2 {
		return nil, fmt.Errorf("strategy %s: lookback must be >= 2", RangeReversionName)
	}
	if rr.buyMax >= rr.sellMin {
		return nil, fmt.Errorf("strategy %s: buy_max must be below sell_min", RangeReversionName)
	}
	return rr, nil
}

// Name returns the strategy identifier.
func (rr *RangeReversion) Name() string { return RangeReversionName }

// EntrySignal returns HOLD until lookback bars are available.
func (rr *RangeReversion) EntrySignal(ctx context.Context, symbol string, bars []domain.Bar) (domain.Signal, error) {
	if len(bars) < rr.lookback {
		return domain.SignalHold, nil
	}
	pos, ok := rangePosition(tail(bars, rr.lookback))
	if !ok {
		return domain.SignalHold, nil
	}

	restricted := rr.tiers.ForSymbol(symbol).Restricted
	sig := domain.SignalHold
	switch {
	case pos <= rr.buyMax:
		sig = domain.SignalBuy
	case pos >= rr.sellMin && !restricted:
		sig = domain.SignalSell
	}
	if side, ok := sig.Side(); ok && rr.zones != nil {
		if rr.zones.DangerZone(pos) || !rr.zones.EntryZone(pos, side, restricted) {
			rr.logger.DebugContext(ctx, "entry outside zone",
				slog.String("symbol", symbol),
				slog.String("signal", string(sig)),
				slog.Float64("position", pos),
			)
			return domain.SignalHold, nil
		}
	}
	if sig != domain.SignalHold {
		rr.logger.DebugContext(ctx, "entry signal",
			slog.String("symbol", symbol),
			slog.String("signal", string(sig)),
			slog.Float64("position", pos),
		)
	}
	return sig, nil
}

// ExitSignal fires when a long reaches the top band or a short the bottom.
func (rr *RangeReversion) ExitSignal(_ context.Context, _ string, bars []domain.Bar, pos domain.PositionView) (bool, error) {
	p, ok := rangePosition(tail(bars, rr.lookback))
	if !ok {
		return false, nil
	}
	switch pos.Side {
	case domain.SideBuy:
		return p >= rr.exitLongMin, nil
	case domain.SideSell:
		return p <= rr.exitShortMax, nil
	default:
		return false, nil
	}
}

var _ Provider = (*RangeReversion)(nil)
