package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxTasks = "taskflow_tasks"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the task index. An
// unreachable server is reported unhealthy and retried in the background.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", "url", url, "error", err)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop(10 * time.Second)
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxTasks, PrimaryKey: "id"}); err != nil {
		m.logger.Debug("create index (may already exist)", "index", idxTasks, "error", err)
	}

	index := m.client.Index(idxTasks)
	filterable := []interface{}{"projectId", "status", "priority", "assignedTo", "createdBy"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", "index", idxTasks, "error", err)
	}
	searchable := []string{"title", "description"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", "index", idxTasks, "error", err)
	}
}

func (m *Meili) healthLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errors.New("meilisearch unhealthy")
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxTasks,
			Query:                 q.Text,
			Limit:                 int64(q.limit()),
			Offset:                int64(q.offset()),
			Filter:                meiliFilter(q),
			AttributesToHighlight: []string{"title", "description"},
			AttributesToCrop:      []string{"description"},
			CropLength:            30,
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

// meiliFilter builds the visibility clause plus optional equality filters.
// Every element of the outer slice is ANDed.
func meiliFilter(q Query) []string {
	visible := make([]string, 0, 3)
	if len(q.ProjectIDs) > 0 {
		quoted := make([]string, len(q.ProjectIDs))
		for i, id := range q.ProjectIDs {
			quoted[i] = strconv.Quote(id)
		}
		visible = append(visible, "projectId IN ["+strings.Join(quoted, ", ")+"]")
	}
	if q.UserID != "" {
		visible = append(visible, "createdBy = "+strconv.Quote(q.UserID), "assignedTo = "+strconv.Quote(q.UserID))
	}
	if len(visible) == 0 {
		// Nothing is visible.
		visible = append(visible, `id = ""`)
	}

	filters := []string{"(" + strings.Join(visible, " OR ") + ")"}
	if q.Status != "" {
		filters = append(filters, "status = "+strconv.Quote(q.Status))
	}
	if q.Priority != "" {
		filters = append(filters, "priority = "+strconv.Quote(q.Priority))
	}
	return filters
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:         decodeString(hit, "id"),
		ProjectID:  decodeString(hit, "projectId"),
		Title:      firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:    firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description")),
		Status:     decodeString(hit, "status"),
		Priority:   decodeString(hit, "priority"),
		AssignedTo: decodeString(hit, "assignedTo"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexTask(task TaskRecord) error {
	_, err := m.client.Index(idxTasks).AddDocuments([]TaskRecord{task}, nil)
	return err
}

func (m *Meili) IndexTasks(tasks []TaskRecord) error {
	if len(tasks) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTasks).AddDocuments(tasks, nil)
	return err
}

func (m *Meili) DeleteTask(id string) error {
	_, err := m.client.Index(idxTasks).DeleteDocument(id, nil)
	return err
}
