package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Guliveer/twitch-drops-go/internal/auth"
	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/logger"
	"github.com/Guliveer/twitch-drops-go/internal/model"
	"github.com/Guliveer/twitch-drops-go/internal/transport"
)

// ErrTopicLimit is returned when a topic cannot be placed because every
// connection is full and the pool is at its connection cap.
var ErrTopicLimit = errors.New("pubsub: topic limit reached")

// Handler consumes parsed pubsub messages routed from the pool. Each message
// arrives on its own goroutine.
type Handler interface {
	HandleMessage(msg *model.Message)
}

// Pool distributes topic subscriptions across up to MaxWebsockets
// connections of WSTopicsLimit topics each, spawning and recycling
// connections as the topic set grows and shrinks.
type Pool struct {
	http    *transport.Client
	auth    auth.Provider
	log     *logger.Logger
	handler Handler

	mu      sync.Mutex
	conns   []*poolConn
	running bool
	ctx     context.Context
	g       *errgroup.Group
}

type poolConn struct {
	conn   *Connection
	cancel context.CancelFunc
}

// NewPool creates a pool. Topics may be added before Run; their
// subscriptions are sent once the connections dial.
func NewPool(httpClient *transport.Client, provider auth.Provider, log *logger.Logger, handler Handler) *Pool {
	return &Pool{
		http:    httpClient,
		auth:    provider,
		log:     log,
		handler: handler,
	}
}

// Run serves all connections until ctx is cancelled. Connections added while
// running are started immediately.
func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("pubsub: pool already running")
	}
	g, gctx := errgroup.WithContext(ctx)
	p.g = g
	p.ctx = gctx
	p.running = true
	for _, pc := range p.conns {
		p.startConnLocked(pc)
	}
	p.mu.Unlock()

	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	err := g.Wait()
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return err
}

// Running reports whether the pool is serving connections.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// AddTopics places topics on connections: already-placed topics are skipped,
// the least-loaded connection with room fills up first, and new connections
// spawn up to the pool cap. Topics beyond total capacity fail with
// ErrTopicLimit.
func (p *Pool) AddTopics(topics []*model.Topic) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing := make(map[string]struct{})
	for _, pc := range p.conns {
		for _, t := range pc.conn.Topics() {
			existing[t.String()] = struct{}{}
		}
	}

	var pending []*model.Topic
	for _, t := range topics {
		key := t.String()
		if _, ok := existing[key]; ok {
			continue
		}
		existing[key] = struct{}{}
		pending = append(pending, t)
	}

	for len(pending) > 0 {
		pc := p.leastLoadedLocked()
		if pc == nil {
			if len(p.conns) >= constants.MaxWebsockets {
				return fmt.Errorf("%w: %d topics do not fit", ErrTopicLimit, len(pending))
			}
			pc = p.spawnLocked()
		}
		room := constants.WSTopicsLimit - pc.conn.TopicCount()
		if room > len(pending) {
			room = len(pending)
		}
		pc.conn.AddTopics(pending[:room])
		pending = pending[room:]
	}
	return nil
}

// RemoveTopics drops topics from whichever connections hold them and
// recycles connections that are no longer needed.
func (p *Pool) RemoveTopics(topics []*model.Topic) {
	keys := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		keys[t.String()] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pc := range p.conns {
		pc.conn.RemoveTopics(keys)
	}
	p.recycleLocked()
}

// ConnectionCount returns the number of pool connections.
func (p *Pool) ConnectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// TopicCount returns the total number of topics across all connections.
func (p *Pool) TopicCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, pc := range p.conns {
		total += pc.conn.TopicCount()
	}
	return total
}

// dispatch hands one message to the pool's handler.
func (p *Pool) dispatch(msg *model.Message) {
	if p.handler != nil {
		p.handler.HandleMessage(msg)
	}
}

func (p *Pool) leastLoadedLocked() *poolConn {
	var best *poolConn
	bestCount := constants.WSTopicsLimit
	for _, pc := range p.conns {
		if !pc.conn.HasCapacity() {
			continue
		}
		if count := pc.conn.TopicCount(); count < bestCount {
			best = pc
			bestCount = count
		}
	}
	return best
}

func (p *Pool) spawnLocked() *poolConn {
	conn := NewConnection(len(p.conns), p.http, p.auth, p.log, p.dispatch)
	pc := &poolConn{conn: conn}
	p.conns = append(p.conns, pc)
	p.log.Debug("Spawned websocket connection", "conn", conn.ID(), "total", len(p.conns))
	if p.running {
		p.startConnLocked(pc)
	}
	return pc
}

func (p *Pool) startConnLocked(pc *poolConn) {
	cctx, cancel := context.WithCancel(p.ctx)
	pc.cancel = cancel
	conn := pc.conn
	p.g.Go(func() error {
		err := conn.Run(cctx)
		if cctx.Err() != nil {
			return nil
		}
		return err
	})
}

// recycleLocked closes trailing connections while the remaining ones can
// absorb every topic, redistributing each closed connection's topics.
func (p *Pool) recycleLocked() {
	for len(p.conns) > 0 {
		total := 0
		for _, pc := range p.conns {
			total += pc.conn.TopicCount()
		}
		if total > (len(p.conns)-1)*constants.WSTopicsLimit {
			return
		}

		last := p.conns[len(p.conns)-1]
		p.conns = p.conns[:len(p.conns)-1]
		recycled := last.conn.Topics()
		if last.cancel != nil {
			last.cancel()
		}
		p.log.Debug("Recycled websocket connection",
			"conn", last.conn.ID(), "topics", len(recycled))

		for _, pc := range p.conns {
			if len(recycled) == 0 {
				break
			}
			room := constants.WSTopicsLimit - pc.conn.TopicCount()
			if room <= 0 {
				continue
			}
			if room > len(recycled) {
				room = len(recycled)
			}
			pc.conn.AddTopics(recycled[:room])
			recycled = recycled[room:]
		}
	}
}
