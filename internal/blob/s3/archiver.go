package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// TradeArchiveStore is the slice of domain.TradeStore the archiver needs.
type TradeArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeRecord, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// BlobExister reports whether an object is already stored.
type BlobExister interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// ArchiveImpl implements domain.Archiver. It exports closed trades older than
// a cutoff as JSON lines, uploads them, and only then deletes them from the
// primary store. An existing object at the target path aborts the run so an
// archive is never overwritten.
type ArchiveImpl struct {
	writer domain.BlobWriter
	exists BlobExister
	trades TradeArchiveStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an ArchiveImpl. exists and audit may be nil.
func NewArchiver(writer domain.BlobWriter, exists BlobExister, trades TradeArchiveStore, audit domain.AuditStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		exists: exists,
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades moves trades closed before the cutoff to
// archive/trades/YYYY/MM/<cutoff>.jsonl and returns how many were archived.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListClosedBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if a.exists != nil {
		ok, err := a.exists.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive trades: %w", err)
		}
		if ok {
			return 0, fmt.Errorf("s3blob: archive trades %s: %w", path, domain.ErrAlreadyExists)
		}
	}

	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(trades))
	deleted, err := a.trades.DeleteClosedBefore(ctx, before)
	if err != nil {
		return count, fmt.Errorf("s3blob: archive trades delete: %w", err)
	}
	if deleted != count {
		a.logger.WarnContext(ctx, "archived and deleted counts differ",
			slog.Int64("archived", count), slog.Int64("deleted", deleted))
	}

	a.logger.InfoContext(ctx, "trades archived",
		slog.String("path", path), slog.Int64("count", count))

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.trades", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
		}
	}
	return count, nil
}

// archivePath partitions by the cutoff's year and month:
//
//	archive/trades/2026/10/20261014T000000Z.jsonl
func archivePath(kind string, before time.Time) string {
	b := before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, b.Format("2006/01"), b.Format("20060102T150405Z"))
}

// marshalJSONL encodes each record as one compact JSON line.
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
