package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go-identity-flow/settings"
)

type result[T any] struct {
	value T
	err   error
}

// slot receives the single result of one capture invocation. It stops
// accepting deliveries as soon as the invocation's context ends.
type slot[T any] struct {
	ctx     context.Context
	results chan result[T]
}

func (s *slot[T]) open() bool {
	return s != nil && s.ctx.Err() == nil
}

// Inbox is the capture adapter for a flow whose screens run on a remote
// client. Each Capture* call opens a slot and blocks until the client delivers
// into it. A slot accepts one delivery and is closed once its invocation is
// cancelled or returns, so a result sent for an old invocation is refused.
type Inbox struct {
	mutex     sync.Mutex
	biometric *slot[*BestShot]
	document  *slot[*DocumentRecognition]
	// closed and replaced whenever a slot opens
	opened chan struct{}
}

func NewInbox() *Inbox {
	return &Inbox{opened: make(chan struct{})}
}

// Awaiting reports which captures the client is expected to deliver.
func (in *Inbox) Awaiting() (biometric, document bool) {
	in.mutex.Lock()
	defer in.mutex.Unlock()
	return in.biometric.open(), in.document.open()
}

// AwaitBestShotSlot blocks until a best shot can be delivered or ctx ends.
func (in *Inbox) AwaitBestShotSlot(ctx context.Context) error {
	for {
		in.mutex.Lock()
		if in.biometric.open() {
			in.mutex.Unlock()
			return nil
		}
		opened := in.opened
		in.mutex.Unlock()

		select {
		case <-opened:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// openSlot registers a new slot in field. The returned func unregisters it
// unless a newer slot took its place.
func openSlot[T any](in *Inbox, ctx context.Context, field **slot[T]) (*slot[T], func()) {
	s := &slot[T]{ctx: ctx, results: make(chan result[T], 1)}

	in.mutex.Lock()
	*field = s
	close(in.opened)
	in.opened = make(chan struct{})
	in.mutex.Unlock()

	return s, func() {
		in.mutex.Lock()
		if *field == s {
			*field = nil
		}
		in.mutex.Unlock()
	}
}

func (in *Inbox) CaptureBestShot(ctx context.Context, cfg settings.Settings) (*BestShot, error) {
	if timeout := cfg.Capture.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	s, closeSlot := openSlot(in, ctx, &in.biometric)
	defer closeSlot()

	r, err := wait(s)
	if err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.value == nil || len(r.value.Image) == 0 {
		return nil, NewError(CaptureFailure, errors.New("empty best shot"))
	}
	if r.value.Quality < cfg.Capture.MinQuality {
		return nil, &Error{
			Kind:     CaptureFailure,
			VideoRef: r.value.VideoRef,
			Err:      fmt.Errorf("%w: %.2f < %.2f", ErrQualityTooLow, r.value.Quality, cfg.Capture.MinQuality),
		}
	}
	return r.value, nil
}

// CaptureDocument has no timeout of its own.
func (in *Inbox) CaptureDocument(ctx context.Context) (*DocumentRecognition, error) {
	s, closeSlot := openSlot(in, ctx, &in.document)
	defer closeSlot()

	r, err := wait(s)
	if err != nil {
		return nil, err
	}
	return r.value, r.err
}

func (in *Inbox) DeliverBestShot(shot *BestShot) error {
	return in.deliverBiometric(result[*BestShot]{value: shot})
}

func (in *Inbox) DeliverBiometricError(err *Error) error {
	return in.deliverBiometric(result[*BestShot]{err: err})
}

func (in *Inbox) DeliverDocument(doc *DocumentRecognition) error {
	return in.deliverDocument(result[*DocumentRecognition]{value: doc})
}

func (in *Inbox) DeliverDocumentError(err *Error) error {
	return in.deliverDocument(result[*DocumentRecognition]{err: err})
}

func (in *Inbox) deliverBiometric(r result[*BestShot]) error {
	in.mutex.Lock()
	defer in.mutex.Unlock()

	if err := send(in.biometric, r); err != nil {
		return err
	}
	in.biometric = nil
	return nil
}

func (in *Inbox) deliverDocument(r result[*DocumentRecognition]) error {
	in.mutex.Lock()
	defer in.mutex.Unlock()

	if err := send(in.document, r); err != nil {
		return err
	}
	in.document = nil
	return nil
}

func send[T any](s *slot[T], r result[T]) error {
	if !s.open() {
		return ErrNoPendingCapture
	}
	select {
	case s.results <- r:
		return nil
	default:
		return ErrAlreadyDelivered
	}
}

func wait[T any](s *slot[T]) (result[T], error) {
	select {
	case r := <-s.results:
		return r, nil
	case <-s.ctx.Done():
		if errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
			slog.Debug("Capture timed out waiting for client")
			return result[T]{}, NewError(CaptureFailure, ErrCaptureTimeout)
		}
		return result[T]{}, s.ctx.Err()
	}
}
