package ragstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"manifold/internal/ragerr"
)

// LookupBySha256 implements the C5 dedup check: (tenant_id, sha256) unique.
// Returns (doc, true, nil) if found, (Document{}, false, nil) if not.
func (s *Store) LookupBySha256(ctx context.Context, tenantID, sha256Hex string) (Document, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT doc_id, tenant_id, sha256, uri, mime, size_bytes, state, collected_at, normalized_at, extracted_at, pipeline_versions, meta
FROM documents WHERE tenant_id=$1 AND sha256=$2`, tenantID, sha256Hex)
	d, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, ragerr.Wrap(ragerr.TransientExternal, "ragstore.LookupBySha256", err)
	}
	return d, true, nil
}

func (s *Store) GetDocument(ctx context.Context, docID string) (Document, error) {
	row := s.pool.QueryRow(ctx, `
SELECT doc_id, tenant_id, sha256, uri, mime, size_bytes, state, collected_at, normalized_at, extracted_at, pipeline_versions, meta
FROM documents WHERE doc_id=$1`, docID)
	d, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ragerr.New(ragerr.NotFound, "ragstore.GetDocument", err)
	}
	if err != nil {
		return Document{}, ragerr.Wrap(ragerr.TransientExternal, "ragstore.GetDocument", err)
	}
	return d, nil
}

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	var state string
	if err := row.Scan(&d.DocID, &d.TenantID, &d.Sha256, &d.URI, &d.Mime, &d.SizeBytes, &state,
		&d.CollectedAt, &d.NormalizedAt, &d.ExtractedAt, &d.PipelineVersions, &d.Meta); err != nil {
		return Document{}, err
	}
	d.State = DocumentState(state)
	return d, nil
}

// InsertDocument inserts a new Document row in state STORED.
func (s *Store) InsertDocument(ctx context.Context, d Document) error {
	if d.PipelineVersions == nil {
		d.PipelineVersions = map[string]string{}
	}
	if d.Meta == nil {
		d.Meta = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO documents(doc_id, tenant_id, sha256, uri, mime, size_bytes, state, collected_at, pipeline_versions, meta)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		d.DocID, d.TenantID, d.Sha256, d.URI, d.Mime, d.SizeBytes, string(d.State), d.CollectedAt, d.PipelineVersions, d.Meta)
	if err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.InsertDocument", err)
	}
	return nil
}

// TransitionState updates document state and the matching timestamp column.
func (s *Store) TransitionState(ctx context.Context, docID string, state DocumentState) error {
	var col string
	switch state {
	case DocNormalized:
		col = "normalized_at"
	case DocExtracted:
		col = "extracted_at"
	default:
		_, err := s.pool.Exec(ctx, `UPDATE documents SET state=$2 WHERE doc_id=$1`, docID, string(state))
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.TransitionState", err)
	}
	now := time.Now()
	_, err := s.pool.Exec(ctx, `UPDATE documents SET state=$2, `+col+`=$3 WHERE doc_id=$1`, docID, string(state), now)
	if err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.TransitionState", err)
	}
	return nil
}

func (s *Store) SetDocumentError(ctx context.Context, docID string, msg string) error {
	_, err := s.pool.Exec(ctx, `UPDATE documents SET state='ERROR', meta = meta || jsonb_build_object('error', $2::text) WHERE doc_id=$1`, docID, msg)
	return ragerr.Wrap(ragerr.TransientExternal, "ragstore.SetDocumentError", err)
}

// SoftDelete marks a document DELETED; owned rows stay in place, and this
// module has no purge operation that removes them.
func (s *Store) SoftDelete(ctx context.Context, docID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE documents SET state='DELETED' WHERE doc_id=$1`, docID)
	return ragerr.Wrap(ragerr.TransientExternal, "ragstore.SoftDelete", err)
}

func (s *Store) InsertBlob(ctx context.Context, b Blob) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO blobs(sha256, location, crc32) VALUES($1,$2,$3)
ON CONFLICT (sha256) DO NOTHING`, b.Sha256, b.Location, b.CRC32)
	return ragerr.Wrap(ragerr.TransientExternal, "ragstore.InsertBlob", err)
}

func (s *Store) GetBlob(ctx context.Context, sha256Hex string) (Blob, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT sha256, location, crc32 FROM blobs WHERE sha256=$1`, sha256Hex)
	var b Blob
	if err := row.Scan(&b.Sha256, &b.Location, &b.CRC32); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Blob{}, false, nil
		}
		return Blob{}, false, ragerr.Wrap(ragerr.TransientExternal, "ragstore.GetBlob", err)
	}
	return b, true, nil
}

func (s *Store) UpsertNormalization(ctx context.Context, n Normalization) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO normalizations(doc_id, canonical_uri, manifest_uri, tool_name, tool_version, page_count, ocr_pages, warnings)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (doc_id) DO UPDATE SET canonical_uri=EXCLUDED.canonical_uri, manifest_uri=EXCLUDED.manifest_uri,
  tool_name=EXCLUDED.tool_name, tool_version=EXCLUDED.tool_version, page_count=EXCLUDED.page_count,
  ocr_pages=EXCLUDED.ocr_pages, warnings=EXCLUDED.warnings`,
		n.DocID, n.CanonicalURI, n.ManifestURI, n.ToolName, n.ToolVersion, n.PageCount, n.OCRPages, n.Warnings)
	return ragerr.Wrap(ragerr.TransientExternal, "ragstore.UpsertNormalization", err)
}
