package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiln-ci/kiln/pkg/config"
	"github.com/kiln-ci/kiln/pkg/metrics"
)

// Sink persists events before they enter the bus, so the durable trail
// exists even if in-process consumers lag or the server stops. Append
// failures are logged and do not block publication.
type Sink interface {
	Append(ctx context.Context, evt Event) error
}

// Publisher is the narrow publish-side of the bus, for components that
// only emit.
type Publisher interface {
	Publish(ctx context.Context, evt Event) PublishResult
}

// Bus routes build events to subscribers. One dispatch goroutine drains
// the main channel, which keeps per-build ordering: two events published
// in order are observed in order by every subscriber that receives both.
type Bus struct {
	mainBuffer       int
	subscriberBuffer int
	publishTimeout   time.Duration
	sampleInterval   time.Duration

	sink    Sink
	metrics metrics.Recorder
	logger  *slog.Logger

	mainCh chan Event

	subsMu   sync.RWMutex
	byBuild  map[string]map[string]*Subscription
	catchAll map[string]*Subscription

	startOnce sync.Once
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewBus creates a bus sized by the given configuration. Zero-valued
// fields fall back to the defaults. A nil sink disables persistence; a
// nil recorder disables metrics.
func NewBus(cfg config.EventBusConfig, sink Sink, rec metrics.Recorder) *Bus {
	if cfg.MainBuffer <= 0 {
		cfg.MainBuffer = config.DefaultEventBusMainBuffer
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = config.DefaultEventBusSubscriberBuffer
	}
	if cfg.PublishTimeoutMs <= 0 {
		cfg.PublishTimeoutMs = config.DefaultPublishTimeoutMs
	}
	if cfg.DepthSampleSeconds <= 0 {
		cfg.DepthSampleSeconds = config.DefaultDepthSampleSeconds
	}
	return &Bus{
		mainBuffer:       cfg.MainBuffer,
		subscriberBuffer: cfg.SubscriberBuffer,
		publishTimeout:   cfg.PublishTimeout(),
		sampleInterval:   cfg.DepthSampleInterval(),
		sink:             sink,
		metrics:          metrics.Safe(rec),
		logger:           slog.Default().With("component", "event_bus"),
		mainCh:           make(chan Event, cfg.MainBuffer),
		byBuild:          make(map[string]map[string]*Subscription),
		catchAll:         make(map[string]*Subscription),
		stopCh:           make(chan struct{}),
	}
}

// Start launches the dispatch and depth-sampling goroutines. Safe to call
// once; later calls are no-ops.
func (b *Bus) Start() {
	b.startOnce.Do(func() {
		b.wg.Add(2)
		go b.dispatch()
		go b.sampleDepth()
		b.logger.Info("Event bus started",
			"main_buffer", b.mainBuffer,
			"subscriber_buffer", b.subscriberBuffer,
			"publish_timeout", b.publishTimeout)
	})
}

// Stop halts dispatch and closes every subscription. Events still queued
// in the main channel are discarded.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()
	if pending := len(b.mainCh); pending > 0 {
		b.logger.Warn("Event bus stopped with events still queued", "pending", pending)
	}
}

// Publish persists the event (when a sink is wired) and enqueues it for
// dispatch. Critical lifecycle events block up to the publish timeout on a
// saturated bus; everything else is dropped immediately rather than
// stalling a build.
func (b *Bus) Publish(ctx context.Context, evt Event) PublishResult {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	if b.sink != nil {
		if err := b.sink.Append(ctx, evt); err != nil {
			b.logger.Warn("Failed to persist event",
				"event_type", evt.Type,
				"build_id", evt.BuildID,
				"error", err)
		}
	}

	var result PublishResult
	if evt.Type.Critical() {
		timer := time.NewTimer(b.publishTimeout)
		defer timer.Stop()
		select {
		case b.mainCh <- evt:
			result = PublishDelivered
		case <-timer.C:
			b.logger.Error("Event bus saturated, critical event lost",
				"event_type", evt.Type,
				"build_id", evt.BuildID,
				"timeout", b.publishTimeout)
			result = PublishTimeout
		case <-b.stopCh:
			result = PublishDropped
		}
	} else {
		select {
		case b.mainCh <- evt:
			result = PublishDelivered
		default:
			result = PublishDropped
		}
	}

	b.metrics.EventPublished(string(evt.Type), string(result))
	return result
}

// Subscribe follows the events of a single build.
func (b *Bus) Subscribe(buildID string) *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		buildID: buildID,
		ch:      make(chan Event, b.subscriberBuffer),
	}
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	if b.byBuild[buildID] == nil {
		b.byBuild[buildID] = make(map[string]*Subscription)
	}
	b.byBuild[buildID][sub.id] = sub
	return sub
}

// SubscribeAll follows every event on the bus.
func (b *Bus) SubscribeAll() *Subscription {
	sub := &Subscription{
		id: uuid.NewString(),
		ch: make(chan Event, b.subscriberBuffer),
	}
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	b.catchAll[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.subsMu.Lock()
	if sub.buildID != "" {
		if subs := b.byBuild[sub.buildID]; subs != nil {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(b.byBuild, sub.buildID)
			}
		}
	} else {
		delete(b.catchAll, sub.id)
	}
	b.subsMu.Unlock()
	sub.close()
}

// Depth returns how many events are waiting in the main channel.
func (b *Bus) Depth() int {
	return len(b.mainCh)
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			b.closeAllSubscriptions()
			return
		case evt := <-b.mainCh:
			b.fanOut(evt)
		}
	}
}

// fanOut snapshots the matching subscriptions under the read lock, then
// delivers without holding it so a slow subscriber cannot block
// subscribe/unsubscribe.
func (b *Bus) fanOut(evt Event) {
	b.subsMu.RLock()
	targets := make([]*Subscription, 0, len(b.byBuild[evt.BuildID])+len(b.catchAll))
	for _, sub := range b.byBuild[evt.BuildID] {
		targets = append(targets, sub)
	}
	for _, sub := range b.catchAll {
		targets = append(targets, sub)
	}
	b.subsMu.RUnlock()

	for _, sub := range targets {
		if !sub.deliver(evt) {
			b.logger.Debug("Subscriber buffer full, event dropped",
				"event_type", evt.Type,
				"build_id", evt.BuildID,
				"dropped_total", sub.Dropped())
		}
	}
}

func (b *Bus) closeAllSubscriptions() {
	b.subsMu.Lock()
	subs := make([]*Subscription, 0, len(b.catchAll))
	for _, byID := range b.byBuild {
		for _, sub := range byID {
			subs = append(subs, sub)
		}
	}
	for _, sub := range b.catchAll {
		subs = append(subs, sub)
	}
	b.byBuild = make(map[string]map[string]*Subscription)
	b.catchAll = make(map[string]*Subscription)
	b.subsMu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (b *Bus) sampleDepth() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.metrics.EventBusDepth(b.Depth())
		}
	}
}
