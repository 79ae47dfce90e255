package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const qdrantMaxErrorBody = 1024

// qdrantPointNamespace seeds deterministic point IDs so the same chunk
// always maps to the same Qdrant point, making upserts idempotent
// without a persisted ID table.
var qdrantPointNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// QdrantIndex implements VectorIndex against a remote Qdrant instance
// over its REST API. One collection holds one repository's vectors.
type QdrantIndex struct {
	mu         sync.RWMutex
	baseURL    string
	apiKey     string
	collection string
	config     VectorIndexConfig
	http       *http.Client
	closed     bool
}

var _ VectorIndex = (*QdrantIndex)(nil)

// qdrantEnvelope is the common response wrapper: {result, status, time}.
type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type qdrantSearchHit struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

type qdrantScrollResult struct {
	Points         []qdrantSearchHit `json:"points"`
	NextPageOffset json.RawMessage   `json:"next_page_offset"`
}

// NewQdrantIndex connects to Qdrant and ensures the collection exists
// with the expected vector size and distance.
func NewQdrantIndex(baseURL, apiKey, collection string, cfg VectorIndexConfig, timeout time.Duration) (*QdrantIndex, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("qdrant requires explicit dimensions, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cosine"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	q := &QdrantIndex{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		config:     cfg,
		http:       &http.Client{Timeout: timeout},
	}

	if err := q.ensureCollection(context.Background()); err != nil {
		return nil, err
	}

	slog.Debug("qdrant_index_ready",
		slog.String("url", q.baseURL),
		slog.String("collection", collection),
		slog.Int("dimensions", cfg.Dimensions),
		slog.String("metric", cfg.Metric))

	return q, nil
}

// ensureCollection creates the collection if missing, or verifies the
// vector size of an existing one.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}

	err := q.doJSON(ctx, http.MethodGet, q.collectionPath(""), nil, &info)
	if err == nil {
		size := info.Config.Params.Vectors.Size
		if size != 0 && size != q.config.Dimensions {
			return ErrDimensionMismatch{Expected: q.config.Dimensions, Got: size}
		}
		return nil
	}
	if !isQdrantNotFound(err) {
		return fmt.Errorf("failed to inspect collection %q: %w", q.collection, err)
	}

	create := map[string]any{
		"vectors": map[string]any{
			"size":     q.config.Dimensions,
			"distance": qdrantDistanceName(q.config.Metric),
		},
	}
	if err := q.doJSON(ctx, http.MethodPut, q.collectionPath(""), create, nil); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", q.collection, err)
	}
	return nil
}

// Add upserts vectors with their chunk IDs. Point IDs are deterministic
// UUIDs derived from the chunk ID, so re-adding a chunk replaces it.
func (q *QdrantIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("index is closed")
	}

	points := make([]map[string]any, 0, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != q.config.Dimensions {
			return ErrDimensionMismatch{Expected: q.config.Dimensions, Got: len(vectors[i])}
		}
		points = append(points, map[string]any{
			"id":      q.pointID(id),
			"vector":  vectors[i],
			"payload": map[string]any{"chunk_id": id},
		})
	}

	req := map[string]any{"points": points}
	if err := q.doJSON(ctx, http.MethodPut, q.collectionPath("/points?wait=true"), req, nil); err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search finds the k nearest neighbours of the query vector.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if len(query) != q.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: q.config.Dimensions, Got: len(query)}
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}

	req := map[string]any{
		"vector":       query,
		"limit":        k,
		"with_payload": true,
		"with_vector":  false,
	}
	var hits []qdrantSearchHit
	if err := q.doJSON(ctx, http.MethodPost, q.collectionPath("/points/search"), req, &hits); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*VectorResult, 0, len(hits))
	for _, hit := range hits {
		id := chunkIDFromPayload(hit.Payload)
		if id == "" {
			continue
		}
		distance := qdrantScoreToDistance(hit.Score, q.config.Metric)
		results = append(results, &VectorResult{
			ChunkID:  id,
			Distance: distance,
			Score:    distanceToScore(distance, q.config.Metric),
		})
	}
	return results, nil
}

// Delete removes vectors by chunk ID.
func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("index is closed")
	}

	pointIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		pointIDs = append(pointIDs, q.pointID(id))
	}
	if len(pointIDs) == 0 {
		return nil
	}

	req := map[string]any{"points": pointIDs}
	if err := q.doJSON(ctx, http.MethodPost, q.collectionPath("/points/delete?wait=true"), req, nil); err != nil {
		return fmt.Errorf("failed to delete %d points: %w", len(pointIDs), err)
	}
	return nil
}

// AllIDs pages through the collection with the scroll API and returns
// every chunk ID.
func (q *QdrantIndex) AllIDs() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.http.Timeout*2)
	defer cancel()

	var ids []string
	var offset json.RawMessage
	for {
		req := map[string]any{
			"limit":        1024,
			"with_payload": true,
			"with_vector":  false,
		}
		if len(offset) > 0 && string(offset) != "null" {
			req["offset"] = offset
		}

		var page qdrantScrollResult
		if err := q.doJSON(ctx, http.MethodPost, q.collectionPath("/points/scroll"), req, &page); err != nil {
			slog.Warn("qdrant_scroll_failed",
				slog.String("collection", q.collection),
				slog.String("error", err.Error()))
			return ids
		}

		for _, p := range page.Points {
			if id := chunkIDFromPayload(p.Payload); id != "" {
				ids = append(ids, id)
			}
		}

		if len(page.NextPageOffset) == 0 || string(page.NextPageOffset) == "null" {
			return ids
		}
		offset = page.NextPageOffset
	}
}

// Contains checks if a chunk ID exists in the collection.
func (q *QdrantIndex) Contains(id string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.http.Timeout)
	defer cancel()

	req := map[string]any{
		"ids":          []string{q.pointID(id)},
		"with_payload": false,
		"with_vector":  false,
	}
	var points []qdrantSearchHit
	if err := q.doJSON(ctx, http.MethodPost, q.collectionPath("/points"), req, &points); err != nil {
		return false
	}
	return len(points) > 0
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.http.Timeout)
	defer cancel()

	var result struct {
		Count int `json:"count"`
	}
	req := map[string]any{"exact": true}
	if err := q.doJSON(ctx, http.MethodPost, q.collectionPath("/points/count"), req, &result); err != nil {
		return 0
	}
	return result.Count
}

// Save is a no-op: Qdrant persists server-side.
func (q *QdrantIndex) Save(path string) error { return nil }

// Load is a no-op: Qdrant persists server-side.
func (q *QdrantIndex) Load(path string) error { return nil }

// DropCollection removes the whole collection. Used when a repository is
// deleted.
func (q *QdrantIndex) DropCollection(ctx context.Context) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("index is closed")
	}
	if err := q.doJSON(ctx, http.MethodDelete, q.collectionPath(""), nil, nil); err != nil {
		return fmt.Errorf("failed to drop collection %q: %w", q.collection, err)
	}
	return nil
}

// Close releases the HTTP client's idle connections.
func (q *QdrantIndex) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.http.CloseIdleConnections()
	return nil
}

func (q *QdrantIndex) pointID(chunkID string) string {
	return uuid.NewSHA1(qdrantPointNamespace, []byte(q.collection+"|"+chunkID)).String()
}

func (q *QdrantIndex) collectionPath(suffix string) string {
	return "/collections/" + q.collection + suffix
}

// doJSON sends one REST call and decodes the {result, status} envelope.
func (q *QdrantIndex) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*qdrantMaxErrorBody))
	if readErr != nil {
		return fmt.Errorf("read response: %w", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &qdrantHTTPError{StatusCode: resp.StatusCode, Body: truncateQdrantBody(raw)}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode qdrant envelope: %w", err)
	}
	if statusErr := parseQdrantStatus(envelope.Status); statusErr != "" {
		return fmt.Errorf("qdrant error: %s", statusErr)
	}

	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode qdrant result: %w", err)
	}
	return nil
}

// qdrantHTTPError carries the status code so callers can distinguish a
// missing collection from a failed call.
type qdrantHTTPError struct {
	StatusCode int
	Body       string
}

func (e *qdrantHTTPError) Error() string {
	return fmt.Sprintf("qdrant http status=%d body=%q", e.StatusCode, e.Body)
}

func isQdrantNotFound(err error) bool {
	var httpErr *qdrantHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusNotFound
	}
	return false
}

func parseQdrantStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return statusString
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}

	return status
}

func truncateQdrantBody(raw []byte) string {
	if len(raw) <= qdrantMaxErrorBody {
		return string(raw)
	}
	return string(raw[:qdrantMaxErrorBody]) + "..."
}

func chunkIDFromPayload(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if id, ok := payload["chunk_id"].(string); ok {
		return strings.TrimSpace(id)
	}
	return ""
}

// qdrantDistanceName maps our metric names to Qdrant's.
func qdrantDistanceName(metric string) string {
	switch metric {
	case "l2":
		return "Euclid"
	default:
		return "Cosine"
	}
}

// qdrantScoreToDistance converts Qdrant's score back to a distance so
// both vector backends report comparable Distance and Score fields.
// For Cosine, Qdrant returns similarity in [-1,1]; for Euclid it returns
// the distance itself.
func qdrantScoreToDistance(score float64, metric string) float32 {
	switch metric {
	case "l2":
		if score < 0 {
			score = -score
		}
		return float32(score)
	default:
		return float32(1.0 - score)
	}
}
