package events

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"liqzones/internal/adapters/kafka"
	"liqzones/internal/domain/zone"
	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
)

const (
	eventSource  = "liqzones"
	eventVersion = "1.0"
)

// BinaryProducer is the part of kafka.Producer the publisher needs
type BinaryProducer interface {
	PublishBinary(ctx context.Context, topic string, key []byte, data []byte) error
}

var _ BinaryProducer = (*kafka.Producer)(nil)

// ZonePublisher publishes zone lifecycle transitions to Kafka as protobuf
// Struct envelopes keyed by coin
type ZonePublisher struct {
	producer BinaryProducer
	log      *logger.Logger
}

// NewZonePublisher creates a new zone event publisher
func NewZonePublisher(producer BinaryProducer, log *logger.Logger) *ZonePublisher {
	return &ZonePublisher{
		producer: producer,
		log:      log.With("component", "zone_publisher"),
	}
}

// TopicFor returns the topic of a lifecycle kind
func TopicFor(kind zone.LifecycleEventKind) (string, error) {
	switch kind {
	case zone.EventFormed:
		return kafka.TopicZoneFormed, nil
	case zone.EventUpdated:
		return kafka.TopicZoneUpdated, nil
	case zone.EventBroken:
		return kafka.TopicZoneBroken, nil
	default:
		return "", errors.NewValidationError("kind", "unknown lifecycle event kind", kind)
	}
}

// PublishLifecycle publishes each event to the topic of its kind. It stops at the first failure.
func (p *ZonePublisher) PublishLifecycle(ctx context.Context, events []zone.LifecycleEvent) error {
	for _, ev := range events {
		topic, err := TopicFor(ev.Kind)
		if err != nil {
			return err
		}
		if err := p.publish(ctx, topic, ev); err != nil {
			return err
		}
	}
	return nil
}

// PublishAlert publishes a strong zone to the alerts topic
func (p *ZonePublisher) PublishAlert(ctx context.Context, ev zone.LifecycleEvent) error {
	return p.publish(ctx, kafka.TopicZoneAlerts, ev)
}

func (p *ZonePublisher) publish(ctx context.Context, topic string, ev zone.LifecycleEvent) error {
	envelope, err := Encode(ev)
	if err != nil {
		return err
	}

	data, err := proto.Marshal(envelope)
	if err != nil {
		return errors.Wrap(err, "marshal protobuf")
	}

	if err := p.producer.PublishBinary(ctx, topic, []byte(ev.Coin), data); err != nil {
		p.log.Errorw("Failed to publish zone event",
			"topic", topic,
			"zone_id", ev.ZoneID,
			"error", err,
		)
		return errors.Wrap(err, "send to kafka")
	}

	p.log.Debugw("Zone event published",
		"topic", topic,
		"zone_id", ev.ZoneID,
		"size_bytes", len(data),
	)
	return nil
}

// Encode builds the protobuf envelope of a lifecycle event
func Encode(ev zone.LifecycleEvent) (*structpb.Struct, error) {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	current, err := zoneValue(ev.Zone)
	if err != nil {
		return nil, err
	}

	fields := map[string]*structpb.Value{
		"id":          structpb.NewStringValue(ev.ID.String()),
		"type":        structpb.NewStringValue(string(ev.Kind)),
		"source":      structpb.NewStringValue(eventSource),
		"version":     structpb.NewStringValue(eventVersion),
		"coin":        structpb.NewStringValue(ev.Coin),
		"zone_id":     structpb.NewStringValue(ev.ZoneID),
		"occurred_at": structpb.NewStringValue(timestamppb.New(at).AsTime().Format(time.RFC3339Nano)),
		"zone":        current,
	}
	if ev.Previous != nil {
		previous, err := zoneValue(*ev.Previous)
		if err != nil {
			return nil, err
		}
		fields["previous"] = previous
	}

	return &structpb.Struct{Fields: fields}, nil
}

// Decode reads an envelope produced by Encode back into a lifecycle event
func Decode(data []byte) (zone.LifecycleEvent, error) {
	var envelope structpb.Struct
	if err := proto.Unmarshal(data, &envelope); err != nil {
		return zone.LifecycleEvent{}, errors.Wrap(err, "unmarshal protobuf")
	}

	raw, err := envelope.MarshalJSON()
	if err != nil {
		return zone.LifecycleEvent{}, errors.Wrap(err, "envelope to json")
	}

	var decoded struct {
		ID         string     `json:"id"`
		Type       string     `json:"type"`
		Coin       string     `json:"coin"`
		ZoneID     string     `json:"zone_id"`
		OccurredAt time.Time  `json:"occurred_at"`
		Zone       zone.Zone  `json:"zone"`
		Previous   *zone.Zone `json:"previous"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return zone.LifecycleEvent{}, errors.Wrap(err, "decode envelope")
	}

	ev := zone.LifecycleEvent{
		Kind:     zone.LifecycleEventKind(decoded.Type),
		Coin:     decoded.Coin,
		ZoneID:   decoded.ZoneID,
		Zone:     decoded.Zone,
		Previous: decoded.Previous,
		At:       decoded.OccurredAt,
	}
	if err := ev.ID.UnmarshalText([]byte(decoded.ID)); err != nil {
		return zone.LifecycleEvent{}, errors.Wrap(err, "decode event id")
	}
	return ev, nil
}

// zoneValue converts a zone to a Struct value through its JSON form
func zoneValue(z zone.Zone) (*structpb.Value, error) {
	raw, err := json.Marshal(z)
	if err != nil {
		return nil, errors.Wrap(err, "marshal zone")
	}

	var s structpb.Struct
	if err := s.UnmarshalJSON(raw); err != nil {
		return nil, errors.Wrap(err, "zone to struct")
	}
	return structpb.NewStructValue(&s), nil
}
