// Package postgres provides PostgreSQL infrastructure components.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"fiscalcore/internal/core/id"
	"fiscalcore/internal/domain/billing"
)

// CompressionAlgo specifies the compression algorithm used for a payload.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// defaultCompressThreshold keeps ordinary entries readable in SQL; provider
// request/response pairs with large metadata get compressed.
const defaultCompressThreshold = 8 * 1024

type auditRow struct {
	ID                id.ID           `db:"id"`
	TenantID          string          `db:"tenant_id"`
	DocumentID        id.ID           `db:"document_id"`
	Event             string          `db:"event"`
	Payload           json.RawMessage `db:"payload"`
	PayloadCompressed []byte          `db:"payload_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	UserID            *string         `db:"user_id"`
	CreatedAt         time.Time       `db:"created_at"`
}

// AuditLog is the append-only billing_audit table. Rows are never updated.
type AuditLog struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

// NewAuditLog creates the audit log.
func NewAuditLog(txManager *TxManager) (*AuditLog, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &AuditLog{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: defaultCompressThreshold,
	}, nil
}

// Append implements billing.AuditLog.
func (l *AuditLog) Append(ctx context.Context, entry billing.AuditEntry) error {
	if id.IsNil(entry.ID) {
		entry.ID = id.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	row := l.encode(entry)
	_, err := l.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO billing_audit (
			id, tenant_id, document_id, event, payload,
			payload_compressed, compression_algo, user_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		row.ID, row.TenantID, row.DocumentID, row.Event, row.Payload,
		row.PayloadCompressed, row.CompressionAlgo, row.UserID, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByDocument implements billing.AuditLog. Entries come back in insertion order.
func (l *AuditLog) ListByDocument(ctx context.Context, tenantID string, docID id.ID) ([]billing.AuditEntry, error) {
	rows, err := l.txManager.GetQuerier(ctx).Query(ctx, `
		SELECT id, tenant_id, document_id, event, payload,
		       payload_compressed, compression_algo, user_id, created_at
		FROM billing_audit
		WHERE tenant_id = $1 AND document_id = $2
		ORDER BY created_at, id
	`, tenantID, docID)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []billing.AuditEntry
	for rows.Next() {
		var r auditRow
		if err := rows.Scan(
			&r.ID, &r.TenantID, &r.DocumentID, &r.Event, &r.Payload,
			&r.PayloadCompressed, &r.CompressionAlgo, &r.UserID, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry, err := l.decode(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (l *AuditLog) encode(e billing.AuditEntry) auditRow {
	row := auditRow{
		ID:              e.ID,
		TenantID:        e.TenantID,
		DocumentID:      e.DocumentID,
		Event:           string(e.Event),
		Payload:         e.Payload,
		CompressionAlgo: CompressionNone,
		CreatedAt:       e.CreatedAt,
	}
	if e.UserID != "" {
		row.UserID = &e.UserID
	}
	if len(e.Payload) > l.compressThreshold {
		row.PayloadCompressed = l.encoder.EncodeAll(e.Payload, nil)
		row.Payload = nil
		row.CompressionAlgo = CompressionZstd
	}
	return row
}

func (l *AuditLog) decode(r auditRow) (billing.AuditEntry, error) {
	payload := r.Payload
	if r.CompressionAlgo == CompressionZstd && len(r.PayloadCompressed) > 0 {
		decompressed, err := l.decoder.DecodeAll(r.PayloadCompressed, nil)
		if err != nil {
			return billing.AuditEntry{}, fmt.Errorf("decompress audit payload: %w", err)
		}
		payload = decompressed
	}
	entry := billing.AuditEntry{
		ID:         r.ID,
		TenantID:   r.TenantID,
		DocumentID: r.DocumentID,
		Event:      billing.AuditEvent(r.Event),
		Payload:    payload,
		CreatedAt:  r.CreatedAt,
	}
	if r.UserID != nil {
		entry.UserID = *r.UserID
	}
	return entry, nil
}

var _ billing.AuditLog = (*AuditLog)(nil)
