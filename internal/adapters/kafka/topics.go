package kafka

// Topic definitions for Kafka event streaming
const (
	// Inbound normalized public trades, JSON market_data.Trade
	TopicMarketTrades = "market.trades"
	// Confirmed liquidations from exchange forced-order streams
	TopicLiquidations = "market.liquidations"

	// Zone lifecycle transitions, protobuf structpb envelopes
	TopicZoneFormed  = "liqzones.zones.formed"
	TopicZoneUpdated = "liqzones.zones.updated"
	TopicZoneBroken  = "liqzones.zones.broken"
	// Strong zones, for downstream alerting
	TopicZoneAlerts = "liqzones.zones.alerts"
)
