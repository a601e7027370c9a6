package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"liqzones/internal/adapters/kafka"
	"liqzones/internal/domain/zone"
	"liqzones/internal/testsupport"
	"liqzones/pkg/logger"
)

type sentMessage struct {
	topic string
	key   string
	data  []byte
}

type fakeProducer struct {
	sent []sentMessage
	err  error
}

func (f *fakeProducer) PublishBinary(_ context.Context, topic string, key []byte, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{topic: topic, key: string(key), data: data})
	return nil
}

func newTestLogger() *logger.Logger {
	zapLog, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLog.Sugar()}
}

func lifecycle(kind zone.LifecycleEventKind, z zone.Zone, prev *zone.Zone) zone.LifecycleEvent {
	return zone.LifecycleEvent{
		ID:       uuid.New(),
		Kind:     kind,
		Coin:     z.Coin,
		ZoneID:   z.ID(),
		Zone:     z,
		Previous: prev,
		At:       time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestEncodeDecode(t *testing.T) {
	current := testsupport.NewZoneFixture().WithPrediction(0.65).Build()
	prev := testsupport.NewZoneFixture().WithQuality(35, zone.QualityWeak).Build()
	ev := lifecycle(zone.EventUpdated, current, &prev)

	envelope, err := Encode(ev)
	require.NoError(t, err)
	assert.Equal(t, "updated", envelope.Fields["type"].GetStringValue())
	assert.Equal(t, "liqzones", envelope.Fields["source"].GetStringValue())
	assert.Equal(t, current.PriceMean, envelope.Fields["zone"].GetStructValue().Fields["price_mean"].GetNumberValue())

	pub := NewZonePublisher(&fakeProducer{}, newTestLogger())
	require.NoError(t, pub.PublishLifecycle(context.Background(), []zone.LifecycleEvent{ev}))
	sent := pub.producer.(*fakeProducer).sent
	require.Len(t, sent, 1)

	decoded, err := Decode(sent[0].data)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, ev.Kind, decoded.Kind)
	assert.True(t, ev.At.Equal(decoded.At))
	assert.Equal(t, current.Count, decoded.Zone.Count)
	assert.Equal(t, current.QualityLabel, decoded.Zone.QualityLabel)
	require.NotNil(t, decoded.Zone.Prediction)
	assert.Equal(t, "HOLD", decoded.Zone.Prediction.Outcome)
	require.NotNil(t, decoded.Previous)
	assert.Equal(t, zone.QualityWeak, decoded.Previous.QualityLabel)
}

func TestPublishLifecycle_RoutesByKind(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewZonePublisher(producer, newTestLogger())
	z := testsupport.NewZoneFixture().Build()

	err := pub.PublishLifecycle(context.Background(), []zone.LifecycleEvent{
		lifecycle(zone.EventFormed, z, nil),
		lifecycle(zone.EventUpdated, z, &z),
		lifecycle(zone.EventBroken, z, nil),
	})
	require.NoError(t, err)

	require.Len(t, producer.sent, 3)
	assert.Equal(t, kafka.TopicZoneFormed, producer.sent[0].topic)
	assert.Equal(t, kafka.TopicZoneUpdated, producer.sent[1].topic)
	assert.Equal(t, kafka.TopicZoneBroken, producer.sent[2].topic)
	assert.Equal(t, "BTC", producer.sent[0].key)
}

func TestPublishLifecycle_Errors(t *testing.T) {
	z := testsupport.NewZoneFixture().Build()

	pub := NewZonePublisher(&fakeProducer{err: errors.New("broker down")}, newTestLogger())
	err := pub.PublishLifecycle(context.Background(), []zone.LifecycleEvent{lifecycle(zone.EventFormed, z, nil)})
	assert.ErrorContains(t, err, "broker down")

	pub = NewZonePublisher(&fakeProducer{}, newTestLogger())
	err = pub.PublishLifecycle(context.Background(), []zone.LifecycleEvent{lifecycle("moved", z, nil)})
	assert.Error(t, err)
}

func TestPublishAlert(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewZonePublisher(producer, newTestLogger())

	z := testsupport.NewZoneFixture().WithQuality(85, zone.QualityStrong).Build()
	require.NoError(t, pub.PublishAlert(context.Background(), lifecycle(zone.EventFormed, z, nil)))
	require.Len(t, producer.sent, 1)
	assert.Equal(t, kafka.TopicZoneAlerts, producer.sent[0].topic)
}
