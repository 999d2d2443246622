package cdc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FlatRowImage(t *testing.T) {
	data := `{
		"id": "entry-1",
		"aggregate_type": "order",
		"aggregate_id": "order-1",
		"event_type": "order.created",
		"topic": "order.created",
		"partition_key": "order-1",
		"payload": {"order_id": "order-1"},
		"headers": {"event_id": "e1"},
		"status": "PENDING"
	}`

	record, err := Parse([]byte(data))

	require.NoError(t, err)
	assert.True(t, record.IsInsert())
	require.NotNil(t, record.Row)
	assert.Equal(t, "entry-1", record.Row.ID)
	assert.Equal(t, "order.created", record.Row.Topic)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(record.Row.Payload))
	assert.Equal(t, "e1", record.Row.Headers["event_id"])
}

func TestParse_DebeziumInsert(t *testing.T) {
	data := `{
		"before": null,
		"after": {
			"id": "entry-2",
			"aggregate_type": "order",
			"aggregate_id": "order-2",
			"event_type": "order.created",
			"topic": "order.created",
			"partition_key": "order-2",
			"payload": "{\"order_id\":\"order-2\"}",
			"headers": "{\"event_id\":\"e2\"}",
			"status": "PENDING"
		},
		"source": {"table": "outbox_entries"},
		"op": "c",
		"ts_ms": 1756464000000
	}`

	record, err := Parse([]byte(data))

	require.NoError(t, err)
	assert.Equal(t, OpInsert, record.Op)
	assert.True(t, record.IsInsert())
	require.NotNil(t, record.Row)
	assert.Equal(t, "entry-2", record.Row.ID)
	// JSON-колонки Debezium сериализует строкой — распаковываются прозрачно
	assert.JSONEq(t, `{"order_id":"order-2"}`, string(record.Row.Payload))
	assert.Equal(t, "e2", record.Row.Headers["event_id"])
}

func TestParse_DebeziumSnapshotRead(t *testing.T) {
	data := `{
		"before": null,
		"after": {"id": "entry-3", "topic": "order.created", "partition_key": "order-3", "payload": {}},
		"op": "r"
	}`

	record, err := Parse([]byte(data))

	require.NoError(t, err)
	assert.Equal(t, OpSnapshotRead, record.Op)
	assert.True(t, record.IsInsert())
}

func TestParse_DebeziumUpdateIgnored(t *testing.T) {
	data := `{
		"before": {"id": "entry-4", "status": "PENDING"},
		"after": {"id": "entry-4", "status": "SENT", "payload": {}},
		"op": "u"
	}`

	record, err := Parse([]byte(data))

	require.NoError(t, err)
	assert.Equal(t, OpUpdate, record.Op)
	assert.False(t, record.IsInsert())
}

func TestParse_DebeziumDelete(t *testing.T) {
	data := `{"before": {"id": "entry-5"}, "after": null, "op": "d"}`

	record, err := Parse([]byte(data))

	require.NoError(t, err)
	assert.Equal(t, OpDelete, record.Op)
	assert.False(t, record.IsInsert())
	assert.Nil(t, record.Row)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "пустая запись", data: ""},
		{name: "не JSON", data: "{{{"},
		{name: "строка без id", data: `{"topic": "order.created"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
