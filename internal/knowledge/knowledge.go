// Package knowledge defines the boundary to the external knowledge/memory
// collaborator. The core only needs to durably record critical events and
// search prior records; embeddings and ranking live on the other side.
package knowledge

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RecordType classifies a durable record
type RecordType string

const (
	RecordTypeMail       RecordType = "mail"
	RecordTypeEscalation RecordType = "escalation"
	RecordTypeDecision   RecordType = "decision"
	RecordTypeNote       RecordType = "note"
)

// Result is one ranked search hit
type Result struct {
	ID      string     `json:"id"`
	Content string     `json:"content"`
	Type    RecordType `json:"type"`
	Score   float64    `json:"score"`
}

// Store is the interface the core consumes. Implementations wrap the
// external knowledge service; InMemory serves tests and offline runs.
type Store interface {
	Search(ctx context.Context, query, project string, recordType RecordType, limit int) ([]Result, error)
	CreateRecord(ctx context.Context, content string, recordType RecordType, project string, tags []string) (string, error)
}

// InMemory is a process-local Store for tests and offline operation
type InMemory struct {
	mu      sync.RWMutex
	records []record
	nextID  int
}

type record struct {
	id      string
	content string
	typ     RecordType
	project string
	tags    []string
	created time.Time
}

// NewInMemory creates an empty in-memory knowledge store
func NewInMemory() *InMemory {
	return &InMemory{}
}

// CreateRecord appends a record and returns its id
func (m *InMemory) CreateRecord(ctx context.Context, content string, recordType RecordType, project string, tags []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := "rec-" + time.Now().UTC().Format("20060102T150405") + "-" + strconv.Itoa(m.nextID)
	m.records = append(m.records, record{
		id:      id,
		content: content,
		typ:     recordType,
		project: project,
		tags:    tags,
		created: time.Now(),
	})
	return id, nil
}

// Search ranks records by naive term overlap. Good enough for tests; the
// real collaborator does hybrid search.
func (m *InMemory) Search(ctx context.Context, query, project string, recordType RecordType, limit int) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	var results []Result
	for _, r := range m.records {
		if project != "" && r.project != project {
			continue
		}
		if recordType != "" && r.typ != recordType {
			continue
		}
		content := strings.ToLower(r.content)
		score := 0.0
		for _, term := range terms {
			if strings.Contains(content, term) {
				score++
			}
		}
		if score > 0 {
			results = append(results, Result{ID: r.id, Content: r.content, Type: r.typ, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
