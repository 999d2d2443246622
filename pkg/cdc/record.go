// Package cdc разбирает записи change-stream таблицы outbox.
// Внешний CDC агент (Debezium) читает бинарный лог MySQL и публикует
// изменения строк в Kafka; relay потребляет этот топик.
package cdc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Операции change-stream. Relay обрабатывает только вставки и snapshot-чтения:
// обновления и удаления строк outbox не порождают публикаций.
const (
	OpInsert       = "c"
	OpSnapshotRead = "r"
	OpUpdate       = "u"
	OpDelete       = "d"
)

// Ошибки пакета cdc.
var (
	// ErrEmptyRecord — запись без образа строки (например, tombstone).
	ErrEmptyRecord = errors.New("запись change-stream без образа строки")
)

// RowImage — образ строки таблицы outbox после изменения.
type RowImage struct {
	ID            string            `json:"id"`
	AggregateType string            `json:"aggregate_type"`
	AggregateID   string            `json:"aggregate_id"`
	EventType     string            `json:"event_type"`
	Topic         string            `json:"topic"`
	PartitionKey  string            `json:"partition_key"`
	Payload       json.RawMessage   `json:"-"`
	Headers       map[string]string `json:"-"`
	Status        string            `json:"status"`
}

// ChangeRecord — разобранная запись change-stream.
type ChangeRecord struct {
	Op  string
	Row *RowImage
}

// IsInsert возвращает true для операций, требующих публикации:
// вставка строки или её чтение при первичном снапшоте таблицы.
func (r *ChangeRecord) IsInsert() bool {
	return r.Op == OpInsert || r.Op == OpSnapshotRead
}

// debeziumEnvelope — конверт Debezium: {before, after, source, op, ts_ms}.
type debeziumEnvelope struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
	Op     string          `json:"op"`
}

// rawRow — промежуточное представление строки: payload и headers могут
// приходить как вложенный JSON или как JSON-строка (Debezium сериализует
// json-колонки MySQL строкой).
type rawRow struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Topic         string          `json:"topic"`
	PartitionKey  string          `json:"partition_key"`
	Payload       json.RawMessage `json:"payload"`
	Headers       json.RawMessage `json:"headers"`
	Status        string          `json:"status"`
}

// Parse разбирает запись change-stream в одном из двух форматов:
// конверт Debezium {before, after, source, op} или плоский образ строки.
// Плоский образ трактуется как вставка.
func Parse(data []byte) (*ChangeRecord, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyRecord
	}

	var probe struct {
		Op *string `json:"op"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("ошибка разбора записи change-stream: %w", err)
	}

	if probe.Op != nil {
		return parseEnvelope(data)
	}

	row, err := parseRow(data)
	if err != nil {
		return nil, err
	}

	return &ChangeRecord{Op: OpInsert, Row: row}, nil
}

func parseEnvelope(data []byte) (*ChangeRecord, error) {
	var env debeziumEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("ошибка разбора конверта Debezium: %w", err)
	}

	record := &ChangeRecord{Op: env.Op}

	// Для delete образ after пустой — relay такие записи пропускает
	if len(env.After) == 0 || bytes.Equal(bytes.TrimSpace(env.After), []byte("null")) {
		return record, nil
	}

	row, err := parseRow(env.After)
	if err != nil {
		return nil, err
	}

	record.Row = row
	return record, nil
}

func parseRow(data []byte) (*RowImage, error) {
	var raw rawRow
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ошибка разбора образа строки: %w", err)
	}

	if raw.ID == "" {
		return nil, fmt.Errorf("образ строки без id")
	}

	payload, err := unwrapJSON(raw.Payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора payload строки %s: %w", raw.ID, err)
	}

	var headers map[string]string
	if len(raw.Headers) > 0 {
		headersJSON, err := unwrapJSON(raw.Headers)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора headers строки %s: %w", raw.ID, err)
		}
		if len(headersJSON) > 0 && !bytes.Equal(headersJSON, []byte("null")) {
			if err := json.Unmarshal(headersJSON, &headers); err != nil {
				return nil, fmt.Errorf("ошибка разбора headers строки %s: %w", raw.ID, err)
			}
		}
	}

	return &RowImage{
		ID:            raw.ID,
		AggregateType: raw.AggregateType,
		AggregateID:   raw.AggregateID,
		EventType:     raw.EventType,
		Topic:         raw.Topic,
		PartitionKey:  raw.PartitionKey,
		Payload:       payload,
		Headers:       headers,
		Status:        raw.Status,
	}, nil
}

// unwrapJSON возвращает вложенный JSON как есть, а JSON-строку — распакованной.
func unwrapJSON(data json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] != '"' {
		return trimmed, nil
	}

	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return nil, err
	}

	return json.RawMessage(inner), nil
}
