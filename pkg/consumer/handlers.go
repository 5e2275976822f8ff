package consumer

import (
	"fmt"
	"strings"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/docstore"
)

// Handler describes how one entity family is validated and materialized.
type Handler struct {
	Name       string
	Collection string
	// Validate returns reason codes; non-empty means the message is
	// permanently invalid (ack + reject, never retried).
	Validate func(payload map[string]any) []string
	// DocID overrides the default eventId/messageId derivation. Optional.
	DocID func(payload map[string]any, msg Message) string
	// Transform shapes the incoming document. Optional; identity when nil.
	Transform func(payload map[string]any) map[string]any
	// BusinessKey enables business-level dedupe for the family. Optional.
	BusinessKey func(payload map[string]any) (string, error)
	// Special applies family-specific merge rules after the protected
	// merge. Optional.
	Special func(existing docstore.Doc, merged docstore.Doc)
}

// Topic names routed by the consumer.
const (
	TopicMarketTicks  = "market_ticks"
	TopicMarketBars1m = "market_bars_1m"
	TopicTradeSignals = "trade_signals"
	TopicOpsServices  = "ops_services"
	TopicPipelines    = "ingest_pipelines"
)

// UnknownTopicError reports a message routed to no handler.
type UnknownTopicError struct {
	Topic string
}

func (e *UnknownTopicError) Error() string {
	return fmt.Sprintf("consumer: no handler for topic %q", e.Topic)
}

// RouteHandler picks the handler for a topic. The topic may be a bare
// name or a fully qualified subject; the last matching segment decides.
func RouteHandler(topic string) (*Handler, error) {
	normalized := topic
	if idx := strings.LastIndex(topic, "/"); idx >= 0 {
		normalized = topic[idx+1:]
	}
	switch normalized {
	case TopicMarketTicks, "ticks":
		return marketTickHandler, nil
	case TopicMarketBars1m, "bars_1m", "bars":
		return marketBarHandler, nil
	case TopicTradeSignals, "signals":
		return tradeSignalHandler, nil
	case TopicOpsServices, "services":
		return opsServiceHandler, nil
	case TopicPipelines, "pipelines":
		return pipelineHandler, nil
	default:
		return nil, &UnknownTopicError{Topic: topic}
	}
}

var marketTickHandler = &Handler{
	Name:       "market_tick",
	Collection: CollectionMarketTicks,
	Validate: func(payload map[string]any) []string {
		var reasons []string
		if asString(payload["symbol"]) == "" {
			reasons = append(reasons, "missing_symbol")
		}
		return reasons
	},
}

var marketBarHandler = &Handler{
	Name:       "market_bar_1m",
	Collection: CollectionMarketBars1m,
	Validate: func(payload map[string]any) []string {
		var reasons []string
		if asString(payload["symbol"]) == "" {
			reasons = append(reasons, "missing_symbol")
		}
		for _, field := range []string{"timeframe", "start", "end"} {
			if payload[field] == nil {
				reasons = append(reasons, "missing_"+field)
			}
		}
		return reasons
	},
}

var tradeSignalHandler = &Handler{
	Name:        "trade_signal",
	Collection:  CollectionTradeSignals,
	BusinessKey: BusinessDedupeKey,
	// symbol, strategy, action are all optional on the wire.
	Validate: func(map[string]any) []string { return nil },
}

var opsServiceHandler = &Handler{
	Name:       "ops_service",
	Collection: CollectionOpsServices,
	Validate: func(payload map[string]any) []string {
		if serviceID(payload) == "" {
			return []string{"missing_service_id"}
		}
		return nil
	},
	DocID: func(payload map[string]any, _ Message) string {
		return NormalizeDocID(serviceID(payload))
	},
	Transform: func(payload map[string]any) map[string]any {
		out := make(map[string]any, len(payload))
		for k, v := range payload {
			out[k] = v
		}
		out["service_id"] = serviceID(payload)
		out["status"] = NormalizeStatus(asString(payload["status"]))
		return out
	},
	Special: func(existing docstore.Doc, merged docstore.Doc) {
		previous := ""
		if existing != nil {
			previous = asString(existing["status"])
		}
		merged["status"] = resolveStatus(previous, asString(merged["status"]))
	},
}

var pipelineHandler = &Handler{
	Name:       "ingest_pipeline",
	Collection: CollectionPipelines,
	Validate: func(payload map[string]any) []string {
		if pipelineID(payload) == "" {
			return []string{"missing_pipeline_id"}
		}
		return nil
	},
	DocID: func(payload map[string]any, _ Message) string {
		return NormalizeDocID(pipelineID(payload))
	},
}

func serviceID(payload map[string]any) string {
	if id := asString(payload["service_id"]); id != "" {
		return id
	}
	return asString(payload["serviceId"])
}

func pipelineID(payload map[string]any) string {
	if id := asString(payload["pipeline_id"]); id != "" {
		return id
	}
	return asString(payload["pipelineId"])
}
