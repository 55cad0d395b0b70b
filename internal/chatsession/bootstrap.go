package chatsession

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"chatbridge/internal/constants"
	"chatbridge/internal/errors"
	"chatbridge/internal/logging"
	"chatbridge/internal/metrics"
	"chatbridge/internal/models"
	"chatbridge/internal/notify"
	"chatbridge/internal/privacy"
	"chatbridge/internal/tracing"
	"chatbridge/internal/validation"
	"chatbridge/pkg/stream"
	"chatbridge/pkg/stream/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ConnectFailedMessage is shown when any bootstrap stage fails
const ConnectFailedMessage = "Could not connect to chat. Please try again."

// ErrSuperseded is returned by a run that a newer Start replaced
var ErrSuperseded = stderrors.New("chatsession: bootstrap superseded by a newer run")

// TokenSource yields a provider token for the authenticated user
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// ClientFactory returns a new unconnected user client
type ClientFactory func() stream.UserClient

// Params identifies who is chatting with whom
type Params struct {
	User         models.Identity
	TargetUserID string
}

// Snapshot is a consistent view of the bootstrapper
type Snapshot struct {
	State      State
	Generation uint64
	ChannelID  string
	Err        error
}

// Options configures a Bootstrapper
type Options struct {
	Tokens      TokenSource
	NewClient   ClientFactory
	ChannelType string
	Notifier    notify.Notifier
	Logger      *logrus.Logger
}

// Bootstrapper drives the session state machine. Each Start begins a new
// generation; results of older generations are discarded.
type Bootstrapper struct {
	tokens      TokenSource
	newClient   ClientFactory
	channelType string
	notifier    notify.Notifier
	logger      *logrus.Logger

	mu         sync.Mutex
	generation uint64
	state      State
	channelID  string
	err        error
	session    *Session
	cancel     context.CancelFunc

	observersMu  sync.RWMutex
	observers    map[int]func(Snapshot)
	nextObserver int

	// publishMu orders deliveries; published is the newest generation delivered
	publishMu sync.Mutex
	published uint64
}

// NewBootstrapper creates an idle bootstrapper
func NewBootstrapper(opts Options) *Bootstrapper {
	if opts.ChannelType == "" {
		opts.ChannelType = constants.DefaultChannelType
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLogNotifier(opts.Logger)
	}
	return &Bootstrapper{
		tokens:      opts.Tokens,
		newClient:   opts.NewClient,
		channelType: opts.ChannelType,
		notifier:    opts.Notifier,
		logger:      opts.Logger,
		state:       StateIdle,
		observers:   make(map[int]func(Snapshot)),
	}
}

// Snapshot returns the current state
func (b *Bootstrapper) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Bootstrapper) snapshotLocked() Snapshot {
	return Snapshot{State: b.state, Generation: b.generation, ChannelID: b.channelID, Err: b.err}
}

// Ready reports whether a session is established
func (b *Bootstrapper) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateReady
}

// Session returns the established session, or nil unless Ready
func (b *Bootstrapper) Session() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateReady {
		return nil
	}
	return b.session
}

// Subscribe registers fn for every state change and returns a function
// that removes it. fn must not call back into the Bootstrapper.
func (b *Bootstrapper) Subscribe(fn func(Snapshot)) func() {
	b.observersMu.Lock()
	id := b.nextObserver
	b.nextObserver++
	b.observers[id] = fn
	b.observersMu.Unlock()

	return func() {
		b.observersMu.Lock()
		delete(b.observers, id)
		b.observersMu.Unlock()
	}
}

// publish delivers s to every observer. Snapshots of a generation older
// than one already delivered are dropped.
func (b *Bootstrapper) publish(s Snapshot) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()
	if s.Generation < b.published {
		return
	}
	b.published = s.Generation

	b.observersMu.RLock()
	observers := make([]func(Snapshot), 0, len(b.observers))
	for _, fn := range b.observers {
		observers = append(observers, fn)
	}
	b.observersMu.RUnlock()

	for _, fn := range observers {
		fn(s)
	}
}

// Start runs the bootstrap sequence for params and blocks until it is Ready,
// Failed or superseded. A running generation is cancelled and any session it
// established is disconnected.
func (b *Bootstrapper) Start(ctx context.Context, params Params) (*Session, error) {
	if !params.User.Valid() || params.TargetUserID == "" {
		return nil, errors.NewValidationError("params", "", "user and target user are required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	previous := b.session
	b.generation++
	gen := b.generation
	b.cancel = cancel
	b.session = nil
	b.err = nil
	b.channelID = ""
	b.mu.Unlock()

	if previous != nil {
		previous.close(b.logger)
	}

	logger := b.logger.WithFields(logrus.Fields{
		logging.LogFieldUserID:     privacy.MaskUserID(params.User.ID),
		logging.LogFieldGeneration: gen,
	})
	runCtx, span := tracing.StartSpan(runCtx, "chatsession.bootstrap",
		attribute.Int64("chatsession.generation", int64(gen)))
	defer span.End()

	start := time.Now()
	session, err := b.run(runCtx, gen, params, logger)
	if err != nil {
		if stderrors.Is(err, ErrSuperseded) {
			logger.Debug("Bootstrap superseded")
			return nil, err
		}
		tracing.RecordError(runCtx, err)
		b.fail(gen, err, logger)
		metrics.IncrementCounter("chat_bootstrap_total", map[string]string{"outcome": "failed"}, "Chat session bootstraps")
		return nil, err
	}

	metrics.IncrementCounter("chat_bootstrap_total", map[string]string{"outcome": "ready"}, "Chat session bootstraps")
	metrics.RecordTimer("chat_bootstrap_duration", time.Since(start), nil, "Chat session bootstrap duration")
	logger.WithField(logging.LogFieldChannelID, privacy.MaskChannelID(session.ChannelID)).Info("Chat session ready")
	return session, nil
}

func (b *Bootstrapper) run(ctx context.Context, gen uint64, params Params, logger *logrus.Entry) (*Session, error) {
	if !b.advance(gen, StateTokenPending) {
		return nil, ErrSuperseded
	}
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return nil, b.stageError(ctx, gen, "token", err)
	}
	if token == "" {
		return nil, errors.New(errors.ErrCodeSessionFailed, "empty chat token")
	}

	if !b.advance(gen, StateConnecting) {
		return nil, ErrSuperseded
	}
	client := b.newClient()
	user := types.User{ID: params.User.ID, Name: params.User.Name, Image: params.User.Image}
	if err := client.ConnectUser(ctx, user, token); err != nil {
		return nil, b.stageError(ctx, gen, "connect", err)
	}
	logger.WithField("connection_id", client.ConnectionID()).Debug("Connected to chat provider")

	channelID := DeriveChannelID(params.User.ID, params.TargetUserID)
	if !b.advanceChannel(gen, StateChannelResolving, channelID) {
		closeClient(client, b.logger)
		return nil, ErrSuperseded
	}
	// User ids allow characters and lengths that channel ids do not
	if err := validation.ValidateChannelID(channelID); err != nil {
		closeClient(client, b.logger)
		return nil, b.stageError(ctx, gen, "channel", err)
	}
	channel := client.Channel(b.channelType, channelID, []string{params.User.ID, params.TargetUserID})

	if !b.advance(gen, StateWatching) {
		closeClient(client, b.logger)
		return nil, ErrSuperseded
	}
	state, err := channel.Watch(ctx)
	if err != nil {
		closeClient(client, b.logger)
		return nil, b.stageError(ctx, gen, "watch", err)
	}

	session := &Session{
		User:      params.User,
		ChannelID: channelID,
		Client:    client,
		Channel:   channel,
		Initial:   state,
		notifier:  b.notifier,
		logger:    b.logger,
	}

	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		session.close(b.logger)
		return nil, ErrSuperseded
	}
	b.state = StateReady
	b.session = session
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.publish(snap)
	return session, nil
}

// stageError maps a stage failure, reporting cancellation by a newer run as ErrSuperseded
func (b *Bootstrapper) stageError(ctx context.Context, gen uint64, stage string, err error) error {
	if ctx.Err() != nil && !b.current(gen) {
		return ErrSuperseded
	}
	return errors.Wrap(err, errors.ErrCodeSessionFailed, fmt.Sprintf("chat bootstrap failed at %s", stage)).
		WithContext("stage", stage).
		WithUserMessage(ConnectFailedMessage)
}

func (b *Bootstrapper) current(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation == gen
}

func (b *Bootstrapper) advance(gen uint64, next State) bool {
	return b.advanceChannel(gen, next, "")
}

func (b *Bootstrapper) advanceChannel(gen uint64, next State, channelID string) bool {
	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		return false
	}
	b.state = next
	if channelID != "" {
		b.channelID = channelID
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.publish(snap)
	return true
}

func (b *Bootstrapper) fail(gen uint64, err error, logger *logrus.Entry) {
	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		return
	}
	b.state = StateFailed
	b.err = err
	snap := b.snapshotLocked()
	b.mu.Unlock()

	errors.WrapLogger(b.logger).LogError(err, "Chat bootstrap failed", logger.Data)
	b.notifier.Error(ConnectFailedMessage)
	b.publish(snap)
}

// Close cancels any running bootstrap and disconnects the current session
func (b *Bootstrapper) Close() {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.generation++
	session := b.session
	b.session = nil
	b.state = StateIdle
	b.channelID = ""
	b.err = nil
	snap := b.snapshotLocked()
	b.mu.Unlock()

	if session != nil {
		session.close(b.logger)
	}
	b.publish(snap)
}

func closeClient(client stream.UserClient, logger *logrus.Logger) {
	if err := client.Disconnect(); err != nil {
		logger.WithError(err).Debug("Disconnect of abandoned chat client failed")
	}
}
