package schemes

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"plantwatch-backend/internal/monitor"
)

// Fallback returns the primary matcher's result, or the fallback's when the
// primary fails. Callers see the same shape either way.
type Fallback struct {
	Primary   monitor.SchemeMatcher
	Secondary monitor.SchemeMatcher
	Logger    *zap.Logger
}

func WithFallback(primary, secondary monitor.SchemeMatcher, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{Primary: primary, Secondary: secondary, Logger: logger}
}

func (f *Fallback) MatchSchemes(ctx context.Context, profile monitor.Profile, issue string) ([]monitor.Scheme, error) {
	if f.Primary != nil {
		schemes, err := f.Primary.MatchSchemes(ctx, profile, issue)
		if err == nil {
			return schemes, nil
		}
		f.Logger.Warn("scheme matcher failed, using fallback catalog",
			zap.String("plant_id", profile.PlantID),
			zap.Error(err),
		)
	}
	if f.Secondary == nil {
		return nil, errors.New("no scheme matcher configured")
	}
	return f.Secondary.MatchSchemes(ctx, profile, issue)
}
