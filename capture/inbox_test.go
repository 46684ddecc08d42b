package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-identity-flow/settings"

	"github.com/stretchr/testify/require"
)

type captureResult struct {
	shot *BestShot
	err  error
}

func startBestShot(t *testing.T, ctx context.Context, in *Inbox, cfg settings.Settings) <-chan captureResult {
	t.Helper()
	out := make(chan captureResult, 1)
	go func() {
		shot, err := in.CaptureBestShot(ctx, cfg)
		out <- captureResult{shot, err}
	}()
	require.Eventually(t, func() bool {
		biometric, _ := in.Awaiting()
		return biometric
	}, time.Second, 5*time.Millisecond)
	return out
}

func receive(t *testing.T, ch <-chan captureResult) captureResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not return")
		return captureResult{}
	}
}

func TestInboxDeliverWithoutPendingCapture(t *testing.T) {
	in := NewInbox()

	require.ErrorIs(t, in.DeliverBestShot(&BestShot{Image: []byte{1}}), ErrNoPendingCapture)
	require.ErrorIs(t, in.DeliverDocument(&DocumentRecognition{}), ErrNoPendingCapture)
}

func TestInboxBestShot(t *testing.T) {
	cfg := settings.Default()

	t.Run("delivered shot is returned", func(t *testing.T) {
		in := NewInbox()
		done := startBestShot(t, context.Background(), in, cfg)

		require.NoError(t, in.DeliverBestShot(&BestShot{Image: []byte{1, 2}, Quality: 0.9}))
		r := receive(t, done)
		require.NoError(t, r.err)
		require.Equal(t, []byte{1, 2}, r.shot.Image)

		// the slot is gone after one delivery
		require.ErrorIs(t, in.DeliverBestShot(&BestShot{Image: []byte{3}}), ErrNoPendingCapture)
	})

	t.Run("low quality is a capture failure", func(t *testing.T) {
		in := NewInbox()
		done := startBestShot(t, context.Background(), in, cfg)

		require.NoError(t, in.DeliverBestShot(&BestShot{Image: []byte{1}, Quality: 0.1, VideoRef: "video-1"}))
		r := receive(t, done)
		require.ErrorIs(t, r.err, ErrQualityTooLow)
		require.Equal(t, CaptureFailure, KindOf(r.err))

		var ce *Error
		require.ErrorAs(t, r.err, &ce)
		require.Equal(t, "video-1", ce.VideoRef)
	})

	t.Run("client error is passed through", func(t *testing.T) {
		in := NewInbox()
		done := startBestShot(t, context.Background(), in, cfg)

		require.NoError(t, in.DeliverBiometricError(NewError(AccessDenied, errors.New("camera"))))
		r := receive(t, done)
		require.Equal(t, AccessDenied, KindOf(r.err))
	})

	t.Run("timeout from settings", func(t *testing.T) {
		in := NewInbox()
		short := cfg
		short.Capture.TimeoutSeconds = 1

		done := startBestShot(t, context.Background(), in, short)
		r := receive(t, done)
		require.ErrorIs(t, r.err, ErrCaptureTimeout)
		require.Equal(t, CaptureFailure, KindOf(r.err))
	})

	t.Run("cancelled invocation closes its slot", func(t *testing.T) {
		in := NewInbox()
		ctx, cancel := context.WithCancel(context.Background())
		done := startBestShot(t, ctx, in, cfg)

		cancel()
		r := receive(t, done)
		require.ErrorIs(t, r.err, context.Canceled)

		biometric, _ := in.Awaiting()
		require.False(t, biometric)
		require.ErrorIs(t, in.DeliverBestShot(&BestShot{Image: []byte{1}}), ErrNoPendingCapture)
	})
}

func TestInboxRefusesSupersededInvocation(t *testing.T) {
	cfg := settings.Default()

	t.Run("slot closes when the context ends, before the invocation returns", func(t *testing.T) {
		in := NewInbox()
		ctx, cancel := context.WithCancel(context.Background())
		done := startBestShot(t, ctx, in, cfg)

		cancel()
		require.ErrorIs(t, in.DeliverBestShot(&BestShot{Image: []byte{1}, Quality: 0.9}), ErrNoPendingCapture)
		biometric, _ := in.Awaiting()
		require.False(t, biometric)

		r := receive(t, done)
		require.ErrorIs(t, r.err, context.Canceled)
	})

	t.Run("old invocation does not close the newer slot", func(t *testing.T) {
		in := NewInbox()
		oldCtx, cancelOld := context.WithCancel(context.Background())
		old := startBestShot(t, oldCtx, in, cfg)
		cancelOld()

		current := make(chan captureResult, 1)
		go func() {
			shot, err := in.CaptureBestShot(context.Background(), cfg)
			current <- captureResult{shot, err}
		}()
		require.NoError(t, in.AwaitBestShotSlot(context.Background()))
		receive(t, old)

		require.NoError(t, in.DeliverBestShot(&BestShot{Image: []byte{7}, Quality: 0.9}))
		r := receive(t, current)
		require.NoError(t, r.err)
		require.Equal(t, []byte{7}, r.shot.Image)
	})
}

func TestAwaitBestShotSlot(t *testing.T) {
	in := NewInbox()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, in.AwaitBestShotSlot(ctx), context.DeadlineExceeded)

	go func() {
		_, _ = in.CaptureBestShot(context.Background(), settings.Default())
	}()
	waitCtx, cancelWait := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelWait()
	require.NoError(t, in.AwaitBestShotSlot(waitCtx))
	require.NoError(t, in.DeliverBestShot(&BestShot{Image: []byte{1}, Quality: 0.9}))
}

func TestInboxDocument(t *testing.T) {
	in := NewInbox()
	out := make(chan *DocumentRecognition, 1)
	go func() {
		doc, err := in.CaptureDocument(context.Background())
		if err != nil {
			t.Errorf("capture document: %v", err)
		}
		out <- doc
	}()
	require.Eventually(t, func() bool {
		_, document := in.Awaiting()
		return document
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, in.DeliverDocument(&DocumentRecognition{Fields: map[string]string{"surname": "DOE"}}))

	select {
	case doc := <-out:
		require.Equal(t, "DOE", doc.Fields["surname"])
	case <-time.After(2 * time.Second):
		t.Fatal("document capture did not return")
	}
}

func TestDocumentRecognition(t *testing.T) {
	var nilDoc *DocumentRecognition
	require.True(t, nilDoc.Empty())
	require.False(t, nilDoc.HasFace())
	require.Nil(t, nilDoc.CopyFields())

	doc := &DocumentRecognition{Fields: map[string]string{"a": "b"}}
	require.False(t, doc.Empty())
	require.False(t, doc.HasFace())

	copied := doc.CopyFields()
	copied["a"] = "changed"
	require.Equal(t, "b", doc.Fields["a"])

	require.True(t, (&DocumentRecognition{}).Empty())
	require.True(t, (&DocumentRecognition{FaceImage: []byte{1}}).HasFace())
}

func TestKindOf(t *testing.T) {
	require.Equal(t, Canceled, KindOf(context.Canceled))
	require.Equal(t, CaptureFailure, KindOf(context.DeadlineExceeded))
	require.Equal(t, Other, KindOf(errors.New("boom")))
	require.Equal(t, TransportError, KindOf(NewError(TransportError, nil)))

	require.Equal(t, AccessDenied, ParseErrorKind("ACCESS_DENIED"))
	require.Equal(t, Canceled, ParseErrorKind(" canceled "))
	require.Equal(t, Other, ParseErrorKind("nonsense"))
	require.Equal(t, "transport_error", TransportError.String())
}
