package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fleetserve/gateway/pkg/logging"
	"github.com/fleetserve/gateway/pkg/store"
)

// recentRecordsPerModel bounds the in-memory audit window per model.
const recentRecordsPerModel = 10

// RequestResponsePair is one audited inference exchange.
type RequestResponsePair struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	RunnerID   string    `json:"runner_id"`
	Request    string    `json:"request"`
	Response   string    `json:"response"`
	Timestamp  time.Time `json:"timestamp"`
	StatusCode int       `json:"status_code"`
}

// Recorder keeps a short in-memory window of request/response pairs per model
// and appends every pair to the audit store when one is configured.
type Recorder struct {
	log     logging.Logger
	store   store.Store
	records map[string][]*RequestResponsePair
	m       sync.RWMutex
}

// NewRecorder creates a Recorder. st may be nil to disable persistence.
func NewRecorder(log logging.Logger, st store.Store) *Recorder {
	return &Recorder{
		log:     log,
		store:   st,
		records: make(map[string][]*RequestResponsePair),
	}
}

// Record captures one completed exchange. Streaming (SSE) response bodies are
// collapsed into a single chat.completion object before storage.
func (r *Recorder) Record(ctx context.Context, pair RequestResponsePair) {
	if pair.ID == "" {
		pair.ID = fmt.Sprintf("%s_%d", pair.Model, time.Now().UnixNano())
	}
	if pair.Timestamp.IsZero() {
		pair.Timestamp = time.Now()
	}
	if strings.Contains(pair.Response, "data: ") {
		pair.Response = collapseStreamingResponse(pair.Response)
	}

	r.m.Lock()
	if r.records[pair.Model] == nil {
		r.records[pair.Model] = make([]*RequestResponsePair, 0, recentRecordsPerModel)
	}
	r.records[pair.Model] = append(r.records[pair.Model], &pair)
	if len(r.records[pair.Model]) > recentRecordsPerModel {
		r.records[pair.Model] = r.records[pair.Model][1:]
	}
	r.m.Unlock()

	if r.store == nil {
		return
	}
	err := r.store.RecordRequest(ctx, store.RequestRecord{
		ID:         pair.ID,
		Model:      pair.Model,
		RunnerID:   pair.RunnerID,
		Request:    pair.Request,
		Response:   pair.Response,
		StatusCode: pair.StatusCode,
		CreatedAt:  pair.Timestamp,
	})
	if err != nil {
		r.log.Errorf("Failed to persist audit record %s: %v", pair.ID, err)
	}
}

// RecordsByModel returns the in-memory window for a model, oldest first.
func (r *Recorder) RecordsByModel(model string) []*RequestResponsePair {
	r.m.RLock()
	defer r.m.RUnlock()

	if modelRecords, exists := r.records[model]; exists {
		result := make([]*RequestResponsePair, len(modelRecords))
		copy(result, modelRecords)
		return result
	}
	return nil
}

// RecentRecordsHandler serves the in-memory window for ?model=<name>.
func (r *Recorder) RecentRecordsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		model := req.URL.Query().Get("model")
		if model == "" {
			http.Error(w, "A 'model' query parameter is required", http.StatusBadRequest)
			return
		}

		records := r.RecordsByModel(model)
		if records == nil {
			http.Error(w, fmt.Sprintf("No records found for model '%s'", model), http.StatusNotFound)
			return
		}

		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"model":   model,
			"records": records,
			"count":   len(records),
		}); err != nil {
			http.Error(w, fmt.Sprintf("Failed to encode records for model '%s': %v", model, err),
				http.StatusInternalServerError)
		}
	}
}

// collapseStreamingResponse rebuilds a non-streaming chat.completion body
// from an SSE stream so the audit log stores one readable object.
func collapseStreamingResponse(streamingBody string) string {
	lines := strings.Split(streamingBody, "\n")
	var contentBuilder strings.Builder
	var lastChunk map[string]interface{}

	for _, line := range lines {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk map[string]interface{}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		lastChunk = chunk

		if choices, ok := chunk["choices"].([]interface{}); ok && len(choices) > 0 {
			if choice, ok := choices[0].(map[string]interface{}); ok {
				if delta, ok := choice["delta"].(map[string]interface{}); ok {
					if content, ok := delta["content"].(string); ok {
						contentBuilder.WriteString(content)
					}
				}
			}
		}
	}

	if lastChunk == nil {
		return streamingBody
	}

	finalResponse := make(map[string]interface{}, len(lastChunk))
	for key, value := range lastChunk {
		finalResponse[key] = value
	}

	if choices, ok := finalResponse["choices"].([]interface{}); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]interface{}); ok {
			choice["message"] = map[string]interface{}{
				"role":    "assistant",
				"content": contentBuilder.String(),
			}
			delete(choice, "delta")

			if _, ok := choice["finish_reason"]; !ok {
				choice["finish_reason"] = "stop"
			}
		}
	}

	finalResponse["object"] = "chat.completion"

	jsonResult, err := json.Marshal(finalResponse)
	if err != nil {
		return streamingBody
	}
	return string(jsonResult)
}
