// Package miner implements the drops mining control plane: the state
// machine driving inventory refresh, channel selection and switching, the
// watch-heartbeat loop, the drop progress engine, and the maintenance
// schedule, all fed by PubSub events and GraphQL responses.
package miner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Guliveer/twitch-drops-go/internal/auth"
	"github.com/Guliveer/twitch-drops-go/internal/chat"
	"github.com/Guliveer/twitch-drops-go/internal/config"
	"github.com/Guliveer/twitch-drops-go/internal/gql"
	"github.com/Guliveer/twitch-drops-go/internal/logger"
	"github.com/Guliveer/twitch-drops-go/internal/model"
	"github.com/Guliveer/twitch-drops-go/internal/notify"
	"github.com/Guliveer/twitch-drops-go/internal/pubsub"
	"github.com/Guliveer/twitch-drops-go/internal/transport"
	"github.com/Guliveer/twitch-drops-go/internal/twitch"
)

// State identifies a step of the mining state machine. Lower values carry
// higher priority when several transitions are requested concurrently, so a
// pending inventory fetch supersedes a pending channel switch.
type State int

const (
	// StateExit unwinds the controller.
	StateExit State = iota
	// StateInventoryFetch rebuilds the campaign/drop snapshot.
	StateInventoryFetch
	// StateGamesUpdate rebuilds the wanted-games ranking from settings.
	StateGamesUpdate
	// StateChannelsCleanup drops tracked channels that can no longer earn.
	StateChannelsCleanup
	// StateChannelsFetch rebuilds the candidate channel set.
	StateChannelsFetch
	// StateChannelSwitch picks the channel to watch.
	StateChannelSwitch
	// StateIdle parks the controller until something changes.
	StateIdle
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateExit:
		return "EXIT"
	case StateInventoryFetch:
		return "INVENTORY_FETCH"
	case StateGamesUpdate:
		return "GAMES_UPDATE"
	case StateChannelsCleanup:
		return "CHANNELS_CLEANUP"
	case StateChannelsFetch:
		return "CHANNELS_FETCH"
	case StateChannelSwitch:
		return "CHANNEL_SWITCH"
	case StateIdle:
		return "IDLE"
	default:
		return "UNKNOWN"
	}
}

// errExit signals a user-requested shutdown through the errgroup.
var errExit = errors.New("miner: exit requested")

// stepRetryDelay spaces retries of a failing controller step so a broken
// API does not spin the state machine.
const stepRetryDelay = time.Minute

// progressWait is how long the watch loop waits for a drop-progress event
// to account for a heartbeat before falling back to GraphQL.
const progressWait = 10 * time.Second

// Miner orchestrates all mining activities for one Twitch account. It
// implements [pubsub.Handler] so the PubSub pool routes messages directly
// to it.
type Miner struct {
	cfg    *config.Settings
	log    *logger.Logger
	http   *transport.Client
	auth   auth.Provider
	gql    gql.Operations
	web    *twitch.Client
	pool   *pubsub.Pool
	chat   *chat.Presence
	notify *notify.Dispatcher

	running atomic.Bool
	runCtx  context.Context

	// state transition signalling
	stateMu    sync.Mutex
	pendingSt  State
	hasPending bool
	stateCh    chan struct{}

	// mu guards the campaign/drop snapshot, the tracked channel set, the
	// wanted-games ranking and the watch target. Drops carry no lock of
	// their own; all drop mutation happens under mu.
	mu          sync.Mutex
	campaigns   []*model.Campaign
	drops       map[string]*model.Drop
	channels    map[int]*model.Channel
	order       []int
	wanted      *model.WantedGames
	fullCleanup bool
	watching    *model.Channel

	watchKick chan struct{}
	restartCh chan struct{}

	progressMu   sync.Mutex
	progressSlot chan bool

	lastActiveDrop string

	onlineTimers map[int]*time.Timer
	timersMu     sync.Mutex

	mntMu     sync.Mutex
	mntCancel context.CancelFunc
}

// New creates a Miner on top of the shared transport, session and GQL
// client. The PubSub pool is owned by the miner; chat presence and the
// notification dispatcher are created during Run once credentials exist.
func New(cfg *config.Settings, log *logger.Logger, httpClient *transport.Client,
	authClient auth.Provider, gqlClient gql.Operations, webClient *twitch.Client) *Miner {

	m := &Miner{
		cfg:          cfg,
		log:          log,
		http:         httpClient,
		auth:         authClient,
		gql:          gqlClient,
		web:          webClient,
		stateCh:      make(chan struct{}, 1),
		drops:        make(map[string]*model.Drop),
		channels:     make(map[int]*model.Channel),
		wanted:       model.NewWantedGames(),
		watchKick:    make(chan struct{}, 1),
		restartCh:    make(chan struct{}, 1),
		onlineTimers: make(map[int]*time.Timer),
	}
	m.pool = pubsub.NewPool(httpClient, authClient, log, m)
	return m
}

// Run performs the full mining lifecycle: validate the session, start the
// PubSub pool with the per-user topics, the chat presence, the watch loop
// and the controller, then block until the context is cancelled or a fatal
// error occurs.
func (m *Miner) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("miner: already running")
	}
	defer m.running.Store(false)

	if err := m.auth.Validate(ctx); err != nil {
		return err
	}
	m.log.Info("🔑 Logged in", "user", m.auth.Login(), "user_id", m.auth.UserID())

	m.notify = notify.NewDispatcher(m.cfg.Notifications, m.log)
	if m.notify.HasNotifiers() {
		m.log.SetNotifyFunc(m.notify.NotifyFunc())
	}

	m.chat = chat.NewPresence(m.auth.Login(), m.auth.AccessToken(), m.cfg.ParsedChat(), m.log)

	userID := m.auth.UserID()
	if err := m.pool.AddTopics([]*model.Topic{
		model.NewUserDropsTopic(userID),
		model.NewUserPointsTopic(userID),
	}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	m.runCtx = gctx

	g.Go(func() error { return m.pool.Run(gctx) })
	g.Go(func() error { return m.chat.Run(gctx) })
	g.Go(func() error { return m.runWatchLoop(gctx) })
	g.Go(func() error { return m.runController(gctx) })

	m.log.Event(gctx, model.EventMinerStarted, "Miner started", "user", m.auth.Login())

	err := g.Wait()

	m.stopMaintenance()
	m.stopOnlineTimers()
	m.stopWatching()
	if saveErr := m.http.SaveCookies(); saveErr != nil {
		m.log.Warn("Failed to save cookies on shutdown", "error", saveErr)
	}
	m.log.Event(context.WithoutCancel(ctx), model.EventMinerStopped, "Miner stopped")

	if errors.Is(err, errExit) || ctx.Err() != nil {
		return nil
	}
	return err
}

// requestState asks the controller to run the given step. Concurrent
// requests coalesce; the highest-priority (lowest-valued) one wins.
func (m *Miner) requestState(s State) {
	m.stateMu.Lock()
	if !m.hasPending || s < m.pendingSt {
		m.pendingSt = s
		m.hasPending = true
	}
	m.stateMu.Unlock()

	select {
	case m.stateCh <- struct{}{}:
	default:
	}
}

// takeState dequeues the pending transition, blocking on the state-changed
// signal when none is queued.
func (m *Miner) takeState(ctx context.Context) (State, error) {
	for {
		m.stateMu.Lock()
		if m.hasPending {
			s := m.pendingSt
			m.hasPending = false
			m.stateMu.Unlock()
			return s, nil
		}
		m.stateMu.Unlock()

		select {
		case <-ctx.Done():
			return StateExit, ctx.Err()
		case <-m.stateCh:
		}
	}
}

// runController is the single-goroutine state machine. Steps either queue
// their successor themselves or leave the controller waiting on the
// state-changed signal.
func (m *Miner) runController(ctx context.Context) error {
	m.requestState(StateInventoryFetch)

	for {
		state, err := m.takeState(ctx)
		if err != nil {
			return err
		}
		m.log.Debug("State transition", "state", state.String())

		switch state {
		case StateExit:
			return errExit
		case StateIdle:
			m.stateIdle()
		case StateInventoryFetch:
			err = m.stateInventoryFetch(ctx)
		case StateGamesUpdate:
			err = m.stateGamesUpdate(ctx)
		case StateChannelsCleanup:
			m.stateChannelsCleanup()
		case StateChannelsFetch:
			err = m.stateChannelsFetch(ctx)
		case StateChannelSwitch:
			m.stateChannelSwitch(ctx)
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err = m.recoverStep(ctx, state, err); err != nil {
				return err
			}
		}
	}
}

// recoverStep classifies a failed controller step. Auth failures (a closed
// request window or a rejected access token) re-validate and retry the same
// step; GraphQL failures surface and restart from the inventory fetch after
// a pause; anything else is fatal.
func (m *Miner) recoverStep(ctx context.Context, state State, err error) error {
	switch {
	case errors.Is(err, transport.ErrRequestInvalid), errors.Is(err, gql.ErrUnauthorized):
		m.log.Warn("Session invalid mid-request, revalidating", "state", state.String(), "error", err)
		m.auth.Invalidate()
		if verr := m.auth.Validate(ctx); verr != nil {
			return verr
		}
		m.requestState(state)
		return nil

	default:
		var gqlErr *gql.Error
		if errors.As(err, &gqlErr) || errors.Is(err, pubsub.ErrTopicLimit) {
			m.log.Event(ctx, model.EventMinerError, "Mining step failed, will refetch inventory",
				"state", state.String(), "error", err)
			if !sleepCtx(ctx, stepRetryDelay) {
				return ctx.Err()
			}
			m.requestState(StateInventoryFetch)
			return nil
		}
		return err
	}
}

// stateIdle clears the status and parks. Everything interesting happens
// through requestState from handlers and the maintenance task.
func (m *Miner) stateIdle() {
	m.stopWatching()
	if m.chat != nil {
		m.chat.SetWatching("")
	}
	m.log.Info("Idle; nothing to mine")
}

// sleepCtx sleeps for d, returning false when the context is cancelled
// first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
