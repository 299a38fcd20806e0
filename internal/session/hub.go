package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"accordgo/internal/models"
	"accordgo/internal/redis"

	goredis "github.com/redis/go-redis/v9"
)

// CaseChannel names the pub/sub channel carrying one case's change events.
func CaseChannel(caseID int64) string {
	return fmt.Sprintf("case:%d:events", caseID)
}

// Feed publishes change events to the per-case Redis channel. It is the
// write side of the hub; the mediation service holds it as its publisher.
type Feed struct {
	rdb *redis.Client
}

// NewFeed wraps the redis client as a change-event publisher.
func NewFeed(rdb *redis.Client) *Feed {
	return &Feed{rdb: rdb}
}

// PublishChange serializes the event and pushes it onto the case channel.
func (f *Feed) PublishChange(ctx context.Context, ev models.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	return f.rdb.Publish(ctx, CaseChannel(ev.CaseID), payload)
}

// Hub is the read side of the change feed. It keeps one mirror per watched
// case, holds a single Redis subscription per case, applies incoming events
// to the mirror, and fans them out to every attached viewer.
type Hub struct {
	rdb    *redis.Client
	loader Loader

	mu    sync.Mutex
	cases map[int64]*caseFeed
}

type caseFeed struct {
	mirror      *Mirror
	subscribers map[chan models.ChangeEvent]struct{}
	cancel      context.CancelFunc
}

// NewHub builds a hub over the shared redis client and state loader.
func NewHub(rdb *redis.Client, loader Loader) *Hub {
	return &Hub{
		rdb:    rdb,
		loader: loader,
		cases:  make(map[int64]*caseFeed),
	}
}

// Mirror returns the live mirror for a case, starting the case feed on first
// use. The mirror is bulk-loaded before the subscription begins delivering.
func (h *Hub) Mirror(ctx context.Context, caseID int64) (*Mirror, error) {
	feed, err := h.feedFor(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return feed.mirror, nil
}

// Watch attaches a viewer to the case feed. Events that arrive after the
// call are delivered on the returned channel; slow viewers drop events
// rather than stall the feed. The cancel function detaches the viewer.
func (h *Hub) Watch(ctx context.Context, caseID int64) (<-chan models.ChangeEvent, func(), error) {
	feed, err := h.feedFor(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan models.ChangeEvent, 16)
	h.mu.Lock()
	feed.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(feed.subscribers, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

func (h *Hub) feedFor(ctx context.Context, caseID int64) (*caseFeed, error) {
	h.mu.Lock()
	if feed, ok := h.cases[caseID]; ok {
		h.mu.Unlock()
		return feed, nil
	}
	h.mu.Unlock()

	// Subscribe before the bulk load so no event published during the load
	// is missed; events already covered by the load apply as no-ops.
	pubsub, err := h.rdb.Subscribe(ctx, CaseChannel(caseID))
	if err != nil {
		return nil, err
	}

	mirror := NewMirror(caseID)
	if err := mirror.Load(ctx, h.loader); err != nil {
		pubsub.Close()
		return nil, err
	}

	h.mu.Lock()
	if existing, ok := h.cases[caseID]; ok {
		// Lost the race to another starter; keep theirs.
		h.mu.Unlock()
		pubsub.Close()
		return existing, nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	feed := &caseFeed{
		mirror:      mirror,
		subscribers: make(map[chan models.ChangeEvent]struct{}),
		cancel:      cancel,
	}
	h.cases[caseID] = feed
	h.mu.Unlock()

	go h.run(runCtx, feed, pubsub.Channel(), pubsub.Close)
	return feed, nil
}

func (h *Hub) run(ctx context.Context, feed *caseFeed, events <-chan *goredis.Message, closeSub func() error) {
	defer closeSub()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			var ev models.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("session hub: bad change event on %s: %v", msg.Channel, err)
				continue
			}
			if err := feed.mirror.Apply(ev); err != nil {
				log.Printf("session hub: apply change event: %v", err)
				continue
			}
			h.fanOut(feed, ev)
		}
	}
}

func (h *Hub) fanOut(feed *caseFeed, ev models.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range feed.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close stops every case feed and detaches all viewers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, feed := range h.cases {
		feed.cancel()
		delete(h.cases, id)
	}
}
