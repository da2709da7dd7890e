// Package docstore implements the DocumentStore external collaborator from
// spec.md §6 over Qdrant. Grounded on
// internal/persistence/databases/qdrant_vector.go (connection setup,
// deterministic UUID point IDs via uuid.NewSHA1, payload-based original-ID
// recovery, Must-filter composition). The session-scope Should/Must OR
// semantics in SearchNearVector are new: the teacher's SimilaritySearch only
// ever ANDs filter conditions together.
package docstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"

	"aleutianrag/internal/ragerr"
	"aleutianrag/internal/ragtypes"
)

const payloadIDField = "_original_id"
const payloadContentField = "content"
const payloadSourceField = "source"
const payloadParentSourceField = "parent_source"
const payloadSessionIDField = "session_id"
const payloadGlobalField = "is_global"

// Store wraps a Qdrant collection used for both document chunks and (in a
// second collection) verification debate logs.
type Store struct {
	client         *qdrant.Client
	collection     string
	logCollection  string
	dimension      int
	metric         string
}

// New dials Qdrant and ensures both the document and verification-log
// collections exist, mirroring NewQdrantVector's ensureCollection step.
func New(dsn, collection, logCollection string, dimensions int, metric string) (*Store, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	s := &Store{
		client:        client,
		collection:    collection,
		logCollection: logCollection,
		dimension:     dimensions,
		metric:        strings.ToLower(strings.TrimSpace(metric)),
	}
	ctx := context.Background()
	if err := s.ensureCollection(ctx, collection); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure document collection: %w", err)
	}
	if logCollection != "" {
		if err := s.ensureCollection(ctx, logCollection); err != nil {
			client.Close()
			return nil, fmt.Errorf("ensure log collection: %w", err)
		}
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch s.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default:
		distance = qdrant.Distance_Cosine
	}
	if s.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: distance,
		}),
	})
}

func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

// UpsertDocument stores a chunk vector with its source/parent-source/session
// metadata.
func (s *Store) UpsertDocument(ctx context.Context, id string, vector []float32, doc ragtypes.Document, sessionID string) error {
	payload := map[string]any{
		payloadContentField:      doc.Content,
		payloadSourceField:       doc.Source,
		payloadParentSourceField: doc.ParentSource,
		payloadGlobalField:       boolString(sessionID == ""),
	}
	if sessionID != "" {
		payload[payloadSessionIDField] = sessionID
	}
	pid := pointID(id)
	if pid.GetUuid() != id {
		payload[payloadIDField] = id
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      pid,
			Vectors: qdrant.NewVectorsDense(vector),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

// SearchNearVector returns the k nearest chunks visible to sessionID: every
// global (session-less) chunk, plus chunks tagged with this exact
// sessionID, per spec.md §4.2's global_only ∨ session_only scope rule. If
// sessionID is empty only global chunks are visible. Any failure building
// the session branch of the filter degrades to a global-only search rather
// than failing the whole retrieval, per spec.md §4.4.
func (s *Store) SearchNearVector(ctx context.Context, vector []float32, k int, sessionID string) ([]ragtypes.Document, error) {
	if k <= 0 {
		k = 10
	}
	filter := s.scopeFilter(sessionID)
	limit := uint64(k)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, ragerr.New(ragerr.Transport, err)
	}
	return hitsToDocuments(hits, sessionID), nil
}

func (s *Store) scopeFilter(sessionID string) (filter *qdrant.Filter) {
	if sessionID == "" {
		return &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(payloadGlobalField, boolString(true))}}
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("docstore: session filter construction failed, degrading to global-only")
			filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(payloadGlobalField, boolString(true))}}
		}
	}()
	return &qdrant.Filter{
		Should: []*qdrant.Condition{
			qdrant.NewMatch(payloadGlobalField, boolString(true)),
			qdrant.NewMatch(payloadSessionIDField, sessionID),
		},
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func hitsToDocuments(hits []*qdrant.ScoredPoint, sessionID string) []ragtypes.Document {
	docs := make([]ragtypes.Document, 0, len(hits))
	for _, hit := range hits {
		var content, source, parentSource string
		var inSession string
		if hit.Payload != nil {
			content = hit.Payload[payloadContentField].GetStringValue()
			source = hit.Payload[payloadSourceField].GetStringValue()
			parentSource = hit.Payload[payloadParentSourceField].GetStringValue()
			if sid, ok := hit.Payload[payloadSessionIDField]; ok && sid.GetStringValue() == sessionID && sessionID != "" {
				inSession = sessionID
			}
		}
		dist := 1 - float64(hit.Score)
		docs = append(docs, ragtypes.Document{
			Content:      content,
			Source:       source,
			ParentSource: parentSource,
			InSession:    inSession,
			Metadata:     ragtypes.DocumentMetadata{Distance: &dist},
		})
	}
	return docs
}

// FetchByParentSources loads every chunk sharing any of the given
// parent_source values, up to limit total, implementing spec.md §4.4's
// parent-document expansion step.
func (s *Store) FetchByParentSources(ctx context.Context, parentSources []string, limit int) ([]ragtypes.Document, error) {
	if len(parentSources) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	matches := make([]*qdrant.Condition, 0, len(parentSources))
	for _, p := range parentSources {
		matches = append(matches, qdrant.NewMatch(payloadParentSourceField, p))
	}
	filter := &qdrant.Filter{Should: matches}
	lim := uint32(limit)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, ragerr.New(ragerr.Transport, err)
	}
	docs := make([]ragtypes.Document, 0, len(points))
	for _, p := range points {
		var content, source, parentSource string
		if p.Payload != nil {
			content = p.Payload[payloadContentField].GetStringValue()
			source = p.Payload[payloadSourceField].GetStringValue()
			parentSource = p.Payload[payloadParentSourceField].GetStringValue()
		}
		docs = append(docs, ragtypes.Document{Content: content, Source: source, ParentSource: parentSource})
	}
	return docs, nil
}

// InsertDebateLog persists a verification transcript to the log collection.
// Grounded on verified.py's _log_debate Weaviate persistence, reimplemented
// over the same Qdrant client since this module carries no Weaviate
// dependency (see DESIGN.md).
func (s *Store) InsertDebateLog(ctx context.Context, id string, vector []float32, rec ragtypes.DebateLogRecord) error {
	if s.logCollection == "" {
		return nil
	}
	rec = rec.Truncated()
	payload := map[string]any{
		"query":                 rec.Query,
		"draft_answer":          rec.DraftAnswer,
		"skeptic_critique":      rec.SkepticCritique,
		"hallucinations_found":  rec.HallucinationsFound,
		"final_answer":          rec.FinalAnswer,
		"was_refined":           rec.WasRefined,
		"is_verified":           rec.IsVerified,
		"attempt_count":         rec.AttemptCount,
		"session_id":            rec.SessionID,
		"trace_id":              rec.TraceID,
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.logCollection,
		Points: []*qdrant.PointStruct{{
			Id:      pointID(id),
			Vectors: qdrant.NewVectorsDense(vector),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return ragerr.New(ragerr.Transport, err)
	}
	return nil
}

func (s *Store) Dimension() int { return s.dimension }

func (s *Store) Close() error { return s.client.Close() }
