package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
)

// ColdRecord is the flat parquet row for an archived audit record. Structured
// fields (context, decision, outcome, entity ids, actor permissions) are
// carried as JSON strings; the hash fields preserve the chain so cold
// archives remain independently verifiable.
type ColdRecord struct {
	AuditID          string `parquet:"name=audit_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TenantID         string `parquet:"name=tenant_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	SequenceNumber   int64  `parquet:"name=sequence_number, type=INT64"`
	PreviousHash     string `parquet:"name=previous_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordHash       string `parquet:"name=record_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp        int64  `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	IngestedAt       int64  `parquet:"name=ingested_at, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	EventType        string `parquet:"name=event_type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	EventCategory    string `parquet:"name=event_category, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Severity         string `parquet:"name=severity, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	ActorType        string `parquet:"name=actor_type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	ActorID          string `parquet:"name=actor_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ActorPermissions string `parquet:"name=actor_permissions, type=BYTE_ARRAY, convertedtype=UTF8"`
	InvestigationID  string `parquet:"name=investigation_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	AlertID          string `parquet:"name=alert_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	EntityIDs        string `parquet:"name=entity_ids, type=BYTE_ARRAY, convertedtype=UTF8"`
	Context          string `parquet:"name=context, type=BYTE_ARRAY, convertedtype=UTF8"`
	Decision         string `parquet:"name=decision, type=BYTE_ARRAY, convertedtype=UTF8"`
	Outcome          string `parquet:"name=outcome, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordVersion    int32  `parquet:"name=record_version, type=INT32"`
	SourceService    string `parquet:"name=source_service, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
}

func toColdRecord(r *audit.Record) (*ColdRecord, error) {
	entityIDs, err := json.Marshal(r.EntityIDs)
	if err != nil {
		return nil, err
	}
	contextJSON, err := json.Marshal(r.Context)
	if err != nil {
		return nil, err
	}
	decisionJSON, err := json.Marshal(r.Decision)
	if err != nil {
		return nil, err
	}
	outcomeJSON, err := json.Marshal(r.Outcome)
	if err != nil {
		return nil, err
	}
	permissions, err := json.Marshal(r.ActorPermissions)
	if err != nil {
		return nil, err
	}

	return &ColdRecord{
		AuditID:          r.AuditID.String(),
		TenantID:         r.TenantID,
		SequenceNumber:   r.SequenceNumber,
		PreviousHash:     r.PreviousHash,
		RecordHash:       r.RecordHash,
		Timestamp:        r.Timestamp.UnixMicro(),
		IngestedAt:       r.IngestedAt.UnixMicro(),
		EventType:        string(r.EventType),
		EventCategory:    string(r.EventCategory),
		Severity:         string(r.Severity),
		ActorType:        string(r.ActorType),
		ActorID:          r.ActorID,
		ActorPermissions: string(permissions),
		InvestigationID:  r.InvestigationID,
		AlertID:          r.AlertID,
		EntityIDs:        string(entityIDs),
		Context:          string(contextJSON),
		Decision:         string(decisionJSON),
		Outcome:          string(outcomeJSON),
		RecordVersion:    int32(r.RecordVersion),
		SourceService:    r.SourceService,
	}, nil
}

// EncodeParquet serializes records into a snappy-compressed parquet file.
func EncodeParquet(records []*audit.Record) ([]byte, error) {
	var buf bytes.Buffer
	pw, err := writer.NewParquetWriterFromWriter(&buf, new(ColdRecord), 2)
	if err != nil {
		return nil, fmt.Errorf("creating parquet writer: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range records {
		row, err := toColdRecord(r)
		if err != nil {
			return nil, fmt.Errorf("converting record seq=%d: %w", r.SequenceNumber, err)
		}
		if err := pw.Write(row); err != nil {
			return nil, fmt.Errorf("writing parquet row seq=%d: %w", r.SequenceNumber, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalizing parquet file: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeNDJSON is the fallback encoding used when parquet serialization
// fails for a month; one canonical-JSON record per line.
func EncodeNDJSON(records []*audit.Record) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range records {
		line, err := audit.CanonicalJSON(r)
		if err != nil {
			return nil, fmt.Errorf("encoding record seq=%d: %w", r.SequenceNumber, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// MonthStart returns the first instant of the month in UTC.
func MonthStart(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}
