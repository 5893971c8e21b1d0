package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only requires the query methods it actually calls, not
// the full domain store interfaces. The Postgres stores satisfy these
// implicitly.
// ---------------------------------------------------------------------------

// TradeArchiveStore provides read access to the tape for archival.
type TradeArchiveStore interface {
	// ListBefore returns all trades executed strictly before the given
	// cutoff time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying aged records,
// serializing them to JSONL, and uploading the result to S3.
//
// Trades stay in the primary store after archival; the upload is a
// cold copy. Audit entries are pruned once their archive upload
// succeeds, since the audit table is the one that grows without bound.
type ArchiveImpl struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		trades: trades,
		audit:  audit,
	}
}

// ArchiveTrades copies all trades before the cutoff to S3 at
// archive/trades/YYYY-MM.jsonl and records the event in the audit log.
// It returns the number of records archived.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	records := make([]tradeArchiveRecord, len(trades))
	for i, t := range trades {
		records[i] = newTradeArchiveRecord(t)
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(trades))

	if err := a.audit.Log(ctx, "archive.trades", "", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
	}

	return count, nil
}

// ArchiveAudit uploads all audit entries before the cutoff to S3 at
// archive/audit/YYYY-MM.jsonl, then prunes them from the primary
// store. It returns the number of entries pruned.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit prune: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.audit", "", map[string]any{
		"path":   path,
		"count":  deleted,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return deleted, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return deleted, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// tradeArchiveRecord carries the full trade row. The API type hides
// the participant IDs; the archive must not.
type tradeArchiveRecord struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"execution_id"`
	OrderID     string                 `json:"order_id"`
	Certificate domain.CertificateType `json:"certificate_type"`
	BuyerID     string                 `json:"buyer_id"`
	SellerID    string                 `json:"seller_id"`
	SellerCode  string                 `json:"seller_code"`
	TakerSide   domain.OrderSide       `json:"taker_side"`
	Price       decimal.Decimal        `json:"price"`
	Quantity    decimal.Decimal        `json:"quantity"`
	Cost        decimal.Decimal        `json:"cost"`
	CreatedAt   time.Time              `json:"created_at"`
}

func newTradeArchiveRecord(t domain.Trade) tradeArchiveRecord {
	return tradeArchiveRecord{
		ID:          t.ID,
		ExecutionID: t.ExecutionID,
		OrderID:     t.OrderID,
		Certificate: t.Certificate,
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		SellerCode:  t.SellerCode,
		TakerSide:   t.TakerSide,
		Price:       t.Price,
		Quantity:    t.Quantity,
		Cost:        t.Cost,
		CreatedAt:   t.CreatedAt,
	}
}

// archivePath builds the S3 key for an archive file, partitioned by
// the date of the cutoff time.
//
//	archive/trades/2025-01-31.jsonl
//	archive/audit/2025-01-31.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01-02"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by
// '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
