package databases

import (
	"context"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// ScrollByDocID is an optional capability checked via type assertion (the
// same pattern postgres_search.go's HasChunksTable/UpsertChunk capability
// checks use), letting C10's delta computation scroll existing points for a
// document without requiring every VectorStore backend to implement it.
type ScrollByDocID interface {
	// ScrollDoc returns chunk_id -> checksum for every point whose payload
	// doc_id matches docID.
	ScrollDoc(ctx context.Context, docID string) (map[string]string, error)
	// DeleteByIDs deletes a batch of points by their original (non-UUID) ids.
	DeleteByIDs(ctx context.Context, ids []string) error
}

var _ ScrollByDocID = (*qdrantVector)(nil)

func (q *qdrantVector) ScrollDoc(ctx context.Context, docID string) (map[string]string, error) {
	out := make(map[string]string)
	var offset *qdrant.PointId
	pageSize := uint32(256)
	for {
		req := &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatch("doc_id", docID)},
			},
			WithPayload: qdrant.NewWithPayload(true),
			Limit:       &pageSize,
		}
		if offset != nil {
			req.Offset = offset
		}
		points, err := q.client.Scroll(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(points) == 0 {
			break
		}
		for _, p := range points {
			var chunkID, checksum string
			if p.Payload != nil {
				if v, ok := p.Payload[PAYLOAD_ID_FIELD]; ok {
					chunkID = v.GetStringValue()
				}
				// Ids that already parse as UUIDs (e.g. 32-hex chunk ids) are
				// stored without _original_id; their chunk_id payload keeps the
				// original spelling.
				if v, ok := p.Payload["chunk_id"]; ok && chunkID == "" {
					chunkID = v.GetStringValue()
				}
				if v, ok := p.Payload["checksum"]; ok {
					checksum = v.GetStringValue()
				}
			}
			if chunkID == "" {
				chunkID = p.Id.GetUuid()
			}
			out[chunkID] = checksum
		}
		if len(points) < 256 {
			break
		}
		offset = points[len(points)-1].Id
	}
	return out, nil
}

func (q *qdrantVector) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		uuidStr := id
		if _, err := uuid.Parse(id); err != nil {
			uuidStr = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
		}
		pointIDs = append(pointIDs, qdrant.NewIDUUID(uuidStr))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	return err
}
