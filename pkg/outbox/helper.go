package outbox

import (
	"context"
	"encoding/json"

	"alertreminder/pkg/otel"
	"alertreminder/pkg/trace"
)

// InsertEventInTx 序列化 payload 并写入 outbox（辅助函数）。
// 调用方应在 db.WithTx 内调用，保证与业务数据一致。
func InsertEventInTx(
	ctx context.Context,
	repo *Repository,
	aggregateType string,
	aggregateID *int64,
	routingKey string,
	payload interface{},
) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	// trace_id 和 span context 随 payload 一起保存，Dispatcher 发布时恢复
	payloadJSON = withTraceFields(ctx, payloadJSON)

	return repo.InsertEvent(ctx, &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       payloadJSON,
		Status:        StatusPending,
	})
}

func withTraceFields(ctx context.Context, payloadJSON []byte) []byte {
	fields := otel.InjectMap(ctx)
	if traceID := trace.FromContext(ctx); traceID != "" {
		fields["trace_id"] = traceID
	}
	if len(fields) == 0 {
		return payloadJSON
	}

	var m map[string]interface{}
	if json.Unmarshal(payloadJSON, &m) != nil || m == nil {
		return payloadJSON
	}
	for k, v := range fields {
		if _, exists := m[k]; !exists {
			m[k] = v
		}
	}
	out, err := json.Marshal(m)
	if err != nil {
		return payloadJSON
	}
	return out
}

// traceContext 从 payload 中恢复 trace_id 和上游 span context
func traceContext(ctx context.Context, payload json.RawMessage) context.Context {
	var payloadMap map[string]interface{}
	if err := json.Unmarshal(payload, &payloadMap); err != nil {
		return ctx
	}

	carrier := map[string]string{}
	for _, k := range []string{"traceparent", "tracestate"} {
		if v, ok := payloadMap[k].(string); ok && v != "" {
			carrier[k] = v
		}
	}
	if len(carrier) > 0 {
		ctx = otel.ExtractMap(ctx, carrier)
	}

	if traceID, ok := payloadMap["trace_id"].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}
	return ctx
}

// Record 同 InsertEventInTx，便于业务层以接口方式依赖 outbox
func (r *Repository) Record(ctx context.Context, aggregateType string, aggregateID *int64, routingKey string, payload interface{}) error {
	return InsertEventInTx(ctx, r, aggregateType, aggregateID, routingKey, payload)
}
