package miner

import (
	"context"
	"time"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/model"
)

// watchFailureDelay spaces heartbeat retries after a failed send.
const watchFailureDelay = time.Minute

// runWatchLoop sends the minute-watched heartbeat for the watched channel
// on a fixed cadence. Each beat arms a progress expectation; when no
// websocket event accounts for the minute within the grace window, the
// fallback reconciles through GraphQL or the local estimator.
func (m *Miner) runWatchLoop(ctx context.Context) error {
	for {
		ch, err := m.awaitWatching(ctx)
		if err != nil {
			return err
		}

		last := time.Now()
		if !m.sendBeat(ctx, ch) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.sleepWatch(ctx, time.Now().Add(watchFailureDelay))
			continue
		}

		if !m.awaitProgress(ctx, progressWait) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.progressFallback(ctx, ch)
		}

		m.sleepWatch(ctx, last.Add(constants.WatchInterval))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// awaitWatching blocks until a watch target exists.
func (m *Miner) awaitWatching(ctx context.Context) (*model.Channel, error) {
	for {
		if ch := m.watchingChannel(); ch != nil {
			return ch, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.watchKick:
		}
	}
}

// sendBeat resolves the channel's spade URL and broadcast id, arms the
// progress slot and posts the minute-watched event.
func (m *Miner) sendBeat(ctx context.Context, ch *model.Channel) bool {
	ch.Mu.RLock()
	spadeURL := ch.SpadeURL
	broadcastID := 0
	if ch.Stream != nil {
		broadcastID = ch.Stream.BroadcastID
	}
	ch.Mu.RUnlock()

	if spadeURL == "" {
		url, err := m.web.FetchSpadeURL(ctx, ch.Login)
		if err != nil {
			m.log.Warn("Failed to resolve spade URL", "channel", ch.Login, "error", err)
			return false
		}
		spadeURL = url
		ch.Mu.Lock()
		ch.SpadeURL = url
		ch.Mu.Unlock()
	}

	// Directory streams arrive without a broadcast id; fill it in from the
	// stream query before the first beat.
	if broadcastID == 0 {
		info, err := m.gql.GetStreamInfo(ctx, ch.Login)
		if err != nil || info == nil || !info.Live {
			m.log.Warn("Watched channel has no live broadcast", "channel", ch.Login)
			m.setChannelOffline(ctx, ch)
			return false
		}
		broadcastID = info.BroadcastID
		ch.Mu.Lock()
		if ch.Stream != nil {
			ch.Stream.BroadcastID = broadcastID
		} else {
			ch.SetOnline(model.NewStream(info.BroadcastID, info.Title, info.Game, info.Viewers, true))
		}
		ch.Mu.Unlock()
	}

	m.expectProgress()
	if err := m.web.SendWatch(ctx, spadeURL, ch.ID, broadcastID, m.auth.UserID()); err != nil {
		m.cancelProgress()
		m.log.Warn("Minute-watched event failed", "channel", ch.Login, "error", err)
		return false
	}
	return true
}

// sleepWatch sleeps until the deadline, waking early on a watch restart or
// cancellation. Returns false when the sleep was interrupted.
func (m *Miner) sleepWatch(ctx context.Context, until time.Time) bool {
	d := time.Until(until)
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.restartCh:
		return false
	case <-t.C:
		return true
	}
}

// restartWatching interrupts the watch loop's current cycle and clears any
// in-flight minute expectation, so the next beat targets the (possibly
// new) watch state.
func (m *Miner) restartWatching() {
	m.cancelProgress()
	select {
	case m.restartCh <- struct{}{}:
	default:
	}
}

// kickWatchLoop wakes the loop when it is parked waiting for a target.
func (m *Miner) kickWatchLoop() {
	select {
	case m.watchKick <- struct{}{}:
	default:
	}
}
