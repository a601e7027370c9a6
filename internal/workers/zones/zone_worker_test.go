package zones

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liqzones/internal/domain/market_data"
	"liqzones/internal/domain/zone"
	"liqzones/internal/liquidation/engine"
	"liqzones/internal/services/feed"
	"liqzones/internal/testsupport"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeFeed struct {
	mu      sync.Mutex
	batches map[string][]feed.Batch
}

func (f *fakeFeed) push(coin string, b feed.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batches == nil {
		f.batches = map[string][]feed.Batch{}
	}
	f.batches[coin] = append(f.batches[coin], b)
}

func (f *fakeFeed) Drain(coin string) feed.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.batches[coin]
	if len(queue) == 0 {
		return feed.Batch{}
	}
	f.batches[coin] = queue[1:]
	return queue[0]
}

type fakeStore struct {
	snapshots [][]zone.Zone
	lifecycle []zone.LifecycleEvent
	inferred  int
	err       error
}

func (s *fakeStore) InsertSnapshots(_ context.Context, _ time.Time, zones []zone.Zone) error {
	s.snapshots = append(s.snapshots, zones)
	return s.err
}

func (s *fakeStore) InsertLifecycleEvents(_ context.Context, events []zone.LifecycleEvent) error {
	s.lifecycle = append(s.lifecycle, events...)
	return s.err
}

func (s *fakeStore) InsertEvents(_ context.Context, events []zone.Event) error {
	s.inferred += len(events)
	return s.err
}

type fakePublisher struct {
	lifecycle []zone.LifecycleEvent
	alerts    []zone.LifecycleEvent
}

func (p *fakePublisher) PublishLifecycle(_ context.Context, events []zone.LifecycleEvent) error {
	p.lifecycle = append(p.lifecycle, events...)
	return nil
}

func (p *fakePublisher) PublishAlert(_ context.Context, ev zone.LifecycleEvent) error {
	p.alerts = append(p.alerts, ev)
	return nil
}

type fakeNotifier struct {
	notified []zone.LifecycleEvent
}

func (n *fakeNotifier) NotifyZone(_ context.Context, ev zone.LifecycleEvent) (bool, error) {
	n.notified = append(n.notified, ev)
	return true, nil
}

type fakeCheckpoint struct {
	saved map[string]map[string]zone.Zone
}

func (c *fakeCheckpoint) SaveActive(_ context.Context, coin string, active map[string]zone.Zone) error {
	if c.saved == nil {
		c.saved = map[string]map[string]zone.Zone{}
	}
	c.saved[coin] = active
	return nil
}

func (c *fakeCheckpoint) LoadActive(_ context.Context, coin string) (map[string]zone.Zone, error) {
	return c.saved[coin], nil
}

func newStreamingEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig("BTC")
	cfg.LiqSizeThreshold = 0.5
	cfg.PctMerge = 0.005
	cfg.Mode = engine.ModeStreaming
	e, err := engine.New(cfg, engine.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return e
}

func trade(ago time.Duration, price, size float64, side market_data.Side) market_data.Trade {
	return market_data.Trade{Timestamp: now.Add(-ago), Price: price, Size: size, Side: side, Symbol: "BTC"}
}

func exampleTrades() []market_data.Trade {
	return []market_data.Trade{
		trade(3*time.Minute, 80000, 1.0, market_data.SideAsk),
		trade(2*time.Minute, 80010, 0.9, market_data.SideAsk),
		trade(1*time.Minute, 79000, 1.2, market_data.SideBid),
	}
}

func newTestWorker(eng *engine.Engine, f Feed, sinks Sinks, strongAlerts bool) *ZoneWorker {
	w := NewZoneWorker([]*engine.Engine{eng}, f, sinks, strongAlerts, time.Second, true)
	w.clock = func() time.Time { return now }
	return w
}

func TestZoneWorker_Run(t *testing.T) {
	eng := newStreamingEngine(t)
	f := &fakeFeed{}
	store := &fakeStore{}
	pub := &fakePublisher{}
	cp := &fakeCheckpoint{}

	f.push("BTC", feed.Batch{
		Trades:  exampleTrades(),
		Funding: []market_data.FundingSnapshot{{Symbol: "BTC", FundingRate: 0.0002, Timestamp: now}},
	})

	w := newTestWorker(eng, f, Sinks{Snapshots: store, Publisher: pub, Checkpoint: cp}, false)
	require.NoError(t, w.Run(context.Background()))

	require.Len(t, store.snapshots, 1)
	assert.Len(t, store.snapshots[0], 2)
	assert.Len(t, store.lifecycle, 2)
	assert.Positive(t, store.inferred)
	for _, ev := range store.lifecycle {
		assert.Equal(t, zone.EventFormed, ev.Kind)
		assert.Equal(t, now, ev.At)
	}
	assert.Len(t, pub.lifecycle, 2)
	assert.Empty(t, pub.alerts, "strong alerts disabled")
	assert.Len(t, cp.saved["BTC"], 2)
	assert.InDelta(t, 0.0002, eng.FundingRate(), 1e-12)
	assert.Equal(t, 1, eng.TouchCounts()["79000"], "last price sits on the 79000 zone")

	// nothing new: snapshot refreshed, no transitions
	inferred := store.inferred
	require.NoError(t, w.Run(context.Background()))
	assert.Len(t, store.snapshots, 2)
	assert.Len(t, store.lifecycle, 2)
	assert.Equal(t, inferred, store.inferred)
}

func TestZoneWorker_SkipsEngineWithoutTrades(t *testing.T) {
	eng := newStreamingEngine(t)
	z := testsupport.NewZoneFixture().Build()
	eng.RestoreActive(map[string]zone.Zone{z.ID(): z})

	store := &fakeStore{}
	w := newTestWorker(eng, &fakeFeed{}, Sinks{Snapshots: store}, true)
	require.NoError(t, w.Run(context.Background()))

	assert.Empty(t, store.snapshots)
	assert.Empty(t, store.lifecycle)
	assert.Len(t, eng.ActiveZones(), 1, "restored zones are not broken by an empty engine")
}

func TestZoneWorker_SinkErrorsAreReported(t *testing.T) {
	eng := newStreamingEngine(t)
	f := &fakeFeed{}
	f.push("BTC", feed.Batch{Trades: exampleTrades()})
	cp := &fakeCheckpoint{}

	w := newTestWorker(eng, f, Sinks{Snapshots: &fakeStore{err: errors.New("clickhouse down")}, Checkpoint: cp}, false)
	err := w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coin BTC")
	assert.Len(t, cp.saved["BTC"], 2, "later sinks still run")
}

func TestZoneWorker_StrongAlerts(t *testing.T) {
	eng := newStreamingEngine(t)
	pub := &fakePublisher{}
	notifier := &fakeNotifier{}

	strong := testsupport.NewZoneFixture().WithQuality(85, zone.QualityStrong).Build()
	medium := testsupport.NewZoneFixture().WithPrice(52000).Build()
	events := []zone.LifecycleEvent{
		{Kind: zone.EventFormed, Coin: "BTC", ZoneID: strong.ID(), Zone: strong, At: now},
		{Kind: zone.EventFormed, Coin: "BTC", ZoneID: medium.ID(), Zone: medium, At: now},
	}

	w := newTestWorker(eng, &fakeFeed{}, Sinks{Publisher: pub, Notifier: notifier}, true)
	require.NoError(t, w.fanOut(context.Background(), events))
	assert.Len(t, pub.lifecycle, 2)
	require.Len(t, pub.alerts, 1)
	assert.Equal(t, strong.ID(), pub.alerts[0].ZoneID)
	assert.Len(t, notifier.notified, 1)

	disabled := newTestWorker(eng, &fakeFeed{}, Sinks{Publisher: &fakePublisher{}, Notifier: &fakeNotifier{}}, false)
	require.NoError(t, disabled.fanOut(context.Background(), events))
	assert.Empty(t, disabled.sinks.Notifier.(*fakeNotifier).notified)
}

func TestZoneWorker_RecordsOutcomes(t *testing.T) {
	eng := newStreamingEngine(t)
	f := &fakeFeed{}
	w := newTestWorker(eng, f, Sinks{}, false)

	// price approaches the 80005 zone from below, enters it, then runs far above it
	f.push("BTC", feed.Batch{Trades: exampleTrades()})
	require.NoError(t, w.Run(context.Background()))
	require.Equal(t, 1, w.trackers["BTC"].Tracked())

	f.push("BTC", feed.Batch{Trades: []market_data.Trade{trade(50*time.Second, 80005, 0.01, market_data.SideBid)}})
	require.NoError(t, w.Run(context.Background()))

	f.push("BTC", feed.Batch{Trades: []market_data.Trade{trade(40*time.Second, 82000, 0.01, market_data.SideBid)}})
	require.NoError(t, w.Run(context.Background()))

	records := eng.Records()
	require.Len(t, records, 1)
	assert.Equal(t, zone.OutcomeBroke, records[0].Outcome)
	assert.InDelta(t, 80005, records[0].Zone.PriceMean, 1)
}
