package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

// MeanReversionName is the registry key for MeanReversion.
const MeanReversionName = "mean_reversion"

const (
	defaultStdDevThreshold = 2.0
	defaultMeanLookback    = 20
)

// MeanReversion buys when the last close sits std_dev_threshold standard
// deviations below the trailing mean and sells when it sits as far above.
// Positions exit once the close crosses back through the mean (offset by
// exit_z sigmas).
type MeanReversion struct {
	tiers     domain.TierTable
	lookback  int
	threshold float64
	exitZ     float64
	logger    *slog.Logger
}

// NewMeanReversion reads lookback (20), std_dev_threshold (2.0) and exit_z
// (0.0) from cfg.Params.
func NewMeanReversion(cfg Config, logger *slog.Logger) (*MeanReversion, error) {
	cfg.Name = MeanReversionName
	mr := &MeanReversion{
		tiers:  cfg.Tiers,
		logger: logger.With(slog.String("strategy", MeanReversionName)),
	}
	var err error
	if mr.lookback, err = cfg.intParam("lookback", defaultMeanLookback); err != nil {
		return nil, err
	}
	if mr.threshold, err = cfg.floatParam("std_dev_threshold", defaultStdDevThreshold); err != nil {
		return nil, err
	}
	if mr.exitZ, err = cfg.floatParam("exit_z", 0); err != nil {
		return nil, err
	}
	if mr.lookback < 2 {
		return nil, fmt.Errorf("strategy %s: lookback must be >= 2", MeanReversionName)
	}
	if mr.threshold <= 0 || mr.exitZ >= mr.threshold {
		return nil, fmt.Errorf("strategy %s: need 0 < std_dev_threshold and exit_z < std_dev_threshold", MeanReversionName)
	}
	return mr, nil
}

// Name returns the strategy identifier.
func (mr *MeanReversion) Name() string { return MeanReversionName }

// zscore of the last close against the trailing window. ok is false until
// the window is full and has non-zero dispersion.
func (mr *MeanReversion) zscore(bars []domain.Bar) (z float64, ok bool) {
	if len(bars) < mr.lookback {
		return 0, false
	}
	window := tail(bars, mr.lookback)
	mean, sd := meanStdDev(window)
	if sd == 0 {
		return 0, false
	}
	return (window[len(window)-1].Close - mean) / sd, true
}

// EntrySignal evaluates the deviation of the last close.
func (mr *MeanReversion) EntrySignal(ctx context.Context, symbol string, bars []domain.Bar) (domain.Signal, error) {
	z, ok := mr.zscore(bars)
	if !ok {
		return domain.SignalHold, nil
	}

	var sig domain.Signal
	switch {
	case z <= -mr.threshold:
		sig = domain.SignalBuy
	case z >= mr.threshold && !mr.tiers.ForSymbol(symbol).Restricted:
		sig = domain.SignalSell
	default:
		return domain.SignalHold, nil
	}

	mr.logger.InfoContext(ctx, "mean reversion signal",
		slog.String("symbol", symbol),
		slog.String("signal", string(sig)),
		slog.Float64("deviation", z),
	)
	return sig, nil
}

// ExitSignal fires once the close has reverted past the mean.
func (mr *MeanReversion) ExitSignal(_ context.Context, _ string, bars []domain.Bar, pos domain.PositionView) (bool, error) {
	z, ok := mr.zscore(bars)
	if !ok {
		return false, nil
	}
	switch pos.Side {
	case domain.SideBuy:
		return z >= mr.exitZ, nil
	case domain.SideSell:
		return z <= -mr.exitZ, nil
	default:
		return false, nil
	}
}

var _ Provider = (*MeanReversion)(nil)
