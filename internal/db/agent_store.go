package db

import (
	"fmt"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// AgentStatus is the last known state of one worker agent
type AgentStatus struct {
	Agent     string     `json:"agent"`
	Role      types.Role `json:"role"`
	Status    string     `json:"status"`
	TaskID    string     `json:"task_id,omitempty"`
	UpdatedAt int64      `json:"updated_at"`
}

const (
	AgentStatusWorking = "working"
	AgentStatusIdle    = "idle"
)

// UpsertAgentStatus records an agent's current state, replacing any
// prior row for the same agent name
func (s *Store) UpsertAgentStatus(agent string, role types.Role, status, taskID string) error {
	_, err := s.DB.Exec(`
		INSERT INTO agent_status (agent, role, status, task_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(agent) DO UPDATE SET
			role = excluded.role,
			status = excluded.status,
			task_id = excluded.task_id,
			updated_at = excluded.updated_at`,
		agent, role, status, taskID, now())
	if err != nil {
		return fmt.Errorf("updating agent status: %w", err)
	}
	return nil
}

// ListAgentStatuses returns every known agent's last state, most
// recently updated first
func (s *Store) ListAgentStatuses() ([]*AgentStatus, error) {
	rows, err := s.DB.Query(`
		SELECT agent, role, status, task_id, updated_at
		FROM agent_status ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing agent statuses: %w", err)
	}
	defer rows.Close()

	var statuses []*AgentStatus
	for rows.Next() {
		var a AgentStatus
		var taskID *string
		if err := rows.Scan(&a.Agent, &a.Role, &a.Status, &taskID, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent status: %w", err)
		}
		if taskID != nil {
			a.TaskID = *taskID
		}
		statuses = append(statuses, &a)
	}
	return statuses, rows.Err()
}
