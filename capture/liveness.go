package capture

import (
	"context"
	"log/slog"

	"go-identity-flow/settings"
)

// LivenessChecker confirms the liveness transaction recorded with a best shot.
type LivenessChecker interface {
	LivenessConfirmed(ctx context.Context, transactionID string) (bool, error)
}

type livenessCapturer struct {
	inner   BiometricCapturer
	checker LivenessChecker
}

// WithLiveness wraps a capturer so that, when liveness is enabled in the
// settings, a best shot is only returned once its liveness is confirmed.
func WithLiveness(inner BiometricCapturer, checker LivenessChecker) BiometricCapturer {
	return &livenessCapturer{inner: inner, checker: checker}
}

func (l *livenessCapturer) CaptureBestShot(ctx context.Context, cfg settings.Settings) (*BestShot, error) {
	shot, err := l.inner.CaptureBestShot(ctx, cfg)
	if err != nil || !cfg.Liveness.Enabled {
		return shot, err
	}

	if shot.LivenessTransactionID == "" {
		return nil, &Error{Kind: CaptureFailure, VideoRef: shot.VideoRef, Err: ErrLivenessMissing}
	}

	live, err := l.checker.LivenessConfirmed(ctx, shot.LivenessTransactionID)
	if err != nil {
		return nil, &Error{Kind: TransportError, VideoRef: shot.VideoRef, Err: err}
	}
	if !live {
		slog.Info("Liveness not confirmed", "transaction_id", shot.LivenessTransactionID)
		return nil, &Error{Kind: CaptureFailure, VideoRef: shot.VideoRef, Err: ErrLivenessRejected}
	}
	return shot, nil
}
