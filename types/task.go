package types

import "time"

// TaskStatus represents the lifecycle state of a work item.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskClaimed   TaskStatus = "claimed"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task represents one unit of work in a checklist or a shared task pool.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	ClaimantID  string     `json:"claimant_id,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
}

// NewTask creates a pending task.
func NewTask(id, title, description string) Task {
	return Task{
		ID:          id,
		Title:       title,
		Description: description,
		Status:      TaskPending,
		UpdatedAt:   time.Now(),
	}
}

// IsTerminal reports whether the task reached a final state.
func (t Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// Clone returns a copy of the task.
func (t Task) Clone() Task {
	return t
}

// CloneTasks returns a copy of a task slice.
func CloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}
