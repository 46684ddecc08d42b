// Package flow runs one identity verification: biometric capture, optional
// document capture and cross validation, then the remote identity call.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go-identity-flow/capture"
	"go-identity-flow/crosscheck"
	"go-identity-flow/identity"
	"go-identity-flow/settings"
)

type CrossValidator interface {
	Validate(ctx context.Context, shot *capture.BestShot, doc *capture.DocumentRecognition, threshold float64) (crosscheck.Result, error)
}

type IdentityService interface {
	SubmitEvent(ctx context.Context, ev identity.Event) (*identity.EventResponse, error)
}

// Dependencies are the collaborators of a flow. Observer, Navigator and
// Logger may be nil.
type Dependencies struct {
	Biometric      capture.BiometricCapturer
	Document       capture.DocumentCapturer
	CrossValidator CrossValidator
	Identity       IdentityService
	Navigator      Navigator
	Observer       Observer
	Logger         *slog.Logger
}

// Snapshot is a consistent view of a flow at one point in time.
type Snapshot struct {
	Request  Request
	State    State
	Screens  []Screen
	Settings settings.Settings
	Outcome  *Outcome
}

// Flow is a single verification attempt. Every asynchronous stage result is
// tagged with the generation it was started in; results from a superseded
// generation are dropped.
type Flow struct {
	req  Request
	cfg  settings.Settings
	deps Dependencies
	log  *slog.Logger

	mutex       sync.Mutex
	notifyMutex sync.Mutex
	state       State
	gen         uint64
	ctx         context.Context
	stop        context.CancelFunc
	cancelTask  context.CancelFunc
	shot        *capture.BestShot
	doc         *capture.DocumentRecognition
	outcome     *Outcome
	pending     []func()
	done        chan struct{}
}

// New creates an idle flow. cfg is copied; later changes to the settings do
// not affect this flow.
func New(req Request, cfg settings.Settings, deps Dependencies) *Flow {
	if deps.Navigator == nil {
		deps.Navigator = NewStack(ScreenHome)
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		req:  req,
		cfg:  cfg,
		deps: deps,
		log:  logger.With("flow_id", req.ID, "mode", req.Mode),
		done: make(chan struct{}),
	}
}

func (f *Flow) ID() string {
	return f.req.ID
}

func (f *Flow) Request() Request {
	return f.req
}

// Start enters the biometric stage. ctx bounds the whole flow; cancelling it
// cancels the running stage.
func (f *Flow) Start(ctx context.Context) error {
	f.mutex.Lock()
	defer f.unlock()

	if f.state != Idle {
		return ErrAlreadyStarted
	}
	if !f.req.Mode.Valid() {
		return errors.New("invalid identity mode: " + string(f.req.Mode))
	}
	f.ctx, f.stop = context.WithCancel(ctx)
	f.log.Info("Flow started", "ocr_enabled", f.cfg.Document.OCREnabled)
	f.enterBiometricLocked()
	return nil
}

// Retry restarts a capture stage. Retrying the biometric stage keeps a
// document that was already captured; retrying the document stage keeps the
// best shot. A retry of the stage that is currently capturing is a no-op.
//
// The document stage can only be retried while a best shot is held. Before
// the first best shot that is ErrStageNotReached; while a biometric retry
// is capturing a replacement, with the earlier document kept, it is
// ErrBestShotRequired.
func (f *Flow) Retry(stage Stage) error {
	f.mutex.Lock()
	defer f.unlock()

	if !f.state.Active() {
		return ErrNotActive
	}

	switch stage {
	case StageBiometric:
		if f.state == CapturingBiometric {
			return nil
		}
		f.log.Info("Retrying biometric capture", "from", f.state)
		f.enterBiometricLocked()
	case StageDocument:
		if !f.cfg.Document.OCREnabled {
			return ErrDocumentStageDisabled
		}
		if f.shot == nil {
			if f.doc != nil {
				return ErrBestShotRequired
			}
			return ErrStageNotReached
		}
		if f.state == CapturingDocument {
			return nil
		}
		f.log.Info("Retrying document capture", "from", f.state)
		f.enterDocumentLocked()
	default:
		return ErrUnknownStage
	}
	return nil
}

// Cancel ends an active flow with a Canceled outcome.
func (f *Flow) Cancel() error {
	f.mutex.Lock()
	defer f.unlock()

	if !f.state.Active() {
		return ErrNotActive
	}
	f.log.Info("Flow canceled", "state", f.state)
	f.finishLocked(Outcome{Kind: Canceled})
	return nil
}

func (f *Flow) State() State {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.state
}

func (f *Flow) Status() Snapshot {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	snap := Snapshot{
		Request:  f.req,
		State:    f.state,
		Screens:  f.deps.Navigator.Screens(),
		Settings: f.cfg,
	}
	if f.outcome != nil {
		o := *f.outcome
		snap.Outcome = &o
	}
	return snap
}

// Outcome returns the terminal outcome, and false while the flow is running.
func (f *Flow) Outcome() (Outcome, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.outcome == nil {
		return Outcome{}, false
	}
	return *f.outcome, true
}

// Done is closed once the flow is terminal.
func (f *Flow) Done() <-chan struct{} {
	return f.done
}

func (f *Flow) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		o, _ := f.Outcome()
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// unlock releases the mutex and then runs the notifications queued while it
// was held. notifyMutex is taken before the release so notifications keep
// transition order across goroutines.
func (f *Flow) unlock() {
	pending := f.pending
	f.pending = nil
	if len(pending) == 0 {
		f.mutex.Unlock()
		return
	}
	f.notifyMutex.Lock()
	f.mutex.Unlock()
	defer f.notifyMutex.Unlock()
	for _, notify := range pending {
		notify()
	}
}

func (f *Flow) setStateLocked(next State) {
	from := f.state
	if from == next {
		return
	}
	f.state = next
	f.log.Debug("Flow transition", "from", from, "to", next)
	req := f.req
	f.pending = append(f.pending, func() { f.deps.Observer.StateChanged(req, from, next) })
}

// nextTaskLocked supersedes the running stage and returns the context and
// generation for the next one.
func (f *Flow) nextTaskLocked() (context.Context, uint64) {
	if f.cancelTask != nil {
		f.cancelTask()
	}
	f.gen++
	ctx, cancel := context.WithCancel(f.ctx)
	f.cancelTask = cancel
	return ctx, f.gen
}

func (f *Flow) currentLocked(gen uint64, want State) bool {
	if gen != f.gen || f.state != want {
		f.log.Debug("Dropping stale stage result", "generation", gen, "current_generation", f.gen, "state", f.state)
		return false
	}
	// The caller's context ended while the stage was running.
	if f.ctx.Err() != nil {
		f.log.Info("Flow context ended", "state", f.state)
		f.finishLocked(Outcome{Kind: Canceled})
		return false
	}
	return true
}

func (f *Flow) enterBiometricLocked() {
	f.shot = nil
	f.setStateLocked(CapturingBiometric)
	f.deps.Navigator.Show(ScreenBiometricCapture)

	ctx, gen := f.nextTaskLocked()
	cfg := f.cfg
	go func() {
		shot, err := f.deps.Biometric.CaptureBestShot(ctx, cfg)
		f.onBestShot(gen, shot, err)
	}()
}

func (f *Flow) onBestShot(gen uint64, shot *capture.BestShot, err error) {
	f.mutex.Lock()
	defer f.unlock()

	if !f.currentLocked(gen, CapturingBiometric) {
		return
	}
	if err == nil && shot == nil {
		err = errors.New("biometric capture returned no best shot")
	}
	if err != nil {
		f.failCaptureLocked(StageBiometric, err)
		return
	}

	f.shot = shot
	switch {
	case !f.cfg.Document.OCREnabled:
		f.enterRemoteLocked()
	case f.doc != nil:
		f.enterCrossValidationLocked()
	default:
		f.enterDocumentLocked()
	}
}

func (f *Flow) enterDocumentLocked() {
	f.doc = nil
	f.setStateLocked(CapturingDocument)
	f.deps.Navigator.Show(ScreenDocumentCapture)

	ctx, gen := f.nextTaskLocked()
	go func() {
		doc, err := f.deps.Document.CaptureDocument(ctx)
		f.onDocument(gen, doc, err)
	}()
}

func (f *Flow) onDocument(gen uint64, doc *capture.DocumentRecognition, err error) {
	f.mutex.Lock()
	defer f.unlock()

	if !f.currentLocked(gen, CapturingDocument) {
		return
	}
	switch {
	case err != nil:
		f.failCaptureLocked(StageDocument, err)
	case doc.Empty():
		f.failLocked(&Error{Kind: DocumentNotRecognized, Stage: StageDocument})
	case !doc.HasFace():
		f.failLocked(&Error{Kind: FaceNotFoundInDocument, Stage: StageDocument})
	default:
		f.doc = doc
		f.enterCrossValidationLocked()
	}
}

func (f *Flow) enterCrossValidationLocked() {
	f.setStateLocked(CrossValidating)
	f.deps.Navigator.Show(ScreenProcessing)

	ctx, gen := f.nextTaskLocked()
	shot, doc := f.shot, f.doc
	threshold := f.cfg.Document.MatchThreshold
	go func() {
		res, err := f.deps.CrossValidator.Validate(ctx, shot, doc, threshold)
		f.onCrossValidated(gen, res, err)
	}()
}

func (f *Flow) onCrossValidated(gen uint64, res crosscheck.Result, err error) {
	f.mutex.Lock()
	defer f.unlock()

	if !f.currentLocked(gen, CrossValidating) {
		return
	}
	if err != nil {
		f.failLocked(crossCheckError(err))
		return
	}
	f.log.Info("Cross validation passed", "similarity", res.Similarity, "threshold", res.Threshold)
	f.enterRemoteLocked()
}

func (f *Flow) enterRemoteLocked() {
	f.setStateLocked(ContactingRemoteService)
	f.deps.Navigator.Show(ScreenProcessing)

	ctx, gen := f.nextTaskLocked()
	ev := identity.Event{
		Mode:              f.req.Mode,
		ClaimedExternalID: f.req.ClaimedExternalID,
		ListID:            f.cfg.Remote.ListID,
		BestShot:          f.shot.Image,
	}
	if f.cfg.Remote.SendDocumentMetadata {
		ev.Metadata = f.doc.CopyFields()
	}
	timeout := f.cfg.Remote.Timeout()
	go func() {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		resp, err := f.deps.Identity.SubmitEvent(ctx, ev)
		f.onRemote(gen, ev, resp, err)
	}()
}

func (f *Flow) onRemote(gen uint64, ev identity.Event, resp *identity.EventResponse, err error) {
	f.mutex.Lock()
	defer f.unlock()

	if !f.currentLocked(gen, ContactingRemoteService) {
		return
	}
	if err != nil {
		f.failLocked(identityError(err))
		return
	}
	face, err := identity.Resolve(ev, resp)
	if err != nil {
		f.failLocked(identityError(err))
		return
	}
	f.finishLocked(Outcome{
		Kind:     Success,
		Identity: face,
		Fields:   f.doc.CopyFields(),
	})
}

// failCaptureLocked ends the flow after a capture adapter error. A
// cancellation by the user is not a failure.
func (f *Flow) failCaptureLocked(stage Stage, err error) {
	if capture.KindOf(err) == capture.Canceled {
		f.log.Info("Capture canceled", "stage", stage)
		f.finishLocked(Outcome{Kind: Canceled})
		return
	}
	f.failLocked(captureError(stage, err))
}

func (f *Flow) failLocked(e *Error) {
	f.log.Warn("Flow failed", "kind", e.Kind, "stage", e.Stage, "error", e.Err)
	f.finishLocked(Outcome{Kind: Failure, Err: e})
}

func (f *Flow) finishLocked(o Outcome) {
	if f.cancelTask != nil {
		f.cancelTask()
		f.cancelTask = nil
	}
	f.gen++
	f.shot = nil
	f.doc = nil
	f.outcome = &o
	f.setStateLocked(Terminal)

	f.deps.Navigator.PopToRoot()
	if o.Kind != Canceled {
		f.deps.Navigator.Show(ScreenResult)
	}
	f.stop()
	close(f.done)

	req := f.req
	f.pending = append(f.pending, func() { f.deps.Observer.Finished(req, o) })
}
