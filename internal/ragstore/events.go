package ragstore

import (
	"context"

	"manifold/internal/ragerr"
)

// AppendEvent records an append-only Event row.
func (s *Store) AppendEvent(ctx context.Context, e Event) error {
	if e.DetailsJSON == nil {
		e.DetailsJSON = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO events(event_id, tenant_id, doc_id, stage, status, details_json, ts, trace_id)
VALUES($1,$2,$3,$4,$5,$6,now(),$7)`,
		e.EventID, e.TenantID, e.DocID, string(e.Stage), string(e.Status), e.DetailsJSON, e.TraceID)
	return ragerr.Wrap(ragerr.TransientExternal, "ragstore.AppendEvent", err)
}

func (s *Store) CountEvents(ctx context.Context, tenantID string, docID *string, stage EventStage, status EventStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM events WHERE tenant_id=$1 AND ($2::text IS NULL OR doc_id=$2) AND stage=$3 AND status=$4`,
		tenantID, docID, string(stage), string(status)).Scan(&n)
	return n, ragerr.Wrap(ragerr.TransientExternal, "ragstore.CountEvents", err)
}

// StageAverage is one row of PipelineStageAverages: the average of
// details_json.ms over the tenant's last N PIPELINE events (N counted across
// all stages together), grouped by details_json.stage. No HTTP route serves
// these averages.
type StageAverage struct {
	Stage string
	AvgMS float64
	Count int
}

func (s *Store) PipelineStageAverages(ctx context.Context, tenantID string, limit int) ([]StageAverage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
WITH recent AS (
  SELECT details_json FROM events
  WHERE tenant_id=$1 AND stage='PIPELINE'
  ORDER BY ts DESC LIMIT $2
)
SELECT details_json->>'stage' AS stage,
       avg((details_json->>'ms')::double precision) AS avg_ms,
       count(*)
FROM recent
WHERE details_json ? 'stage' AND details_json ? 'ms'
GROUP BY stage`, tenantID, limit)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.PipelineStageAverages", err)
	}
	defer rows.Close()
	var out []StageAverage
	for rows.Next() {
		var sa StageAverage
		if err := rows.Scan(&sa.Stage, &sa.AvgMS, &sa.Count); err != nil {
			return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.PipelineStageAverages.scan", err)
		}
		out = append(out, sa)
	}
	return out, rows.Err()
}
