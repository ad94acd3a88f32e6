// Package memory provides an in-memory persistence implementation used by
// tests and local development.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence"
)

// Persistence implements persistence.Persistence with process-local maps. All
// values are copied through a JSON round-trip on the way in and out, which
// both prevents aliasing across goroutines and normalizes variable bags to
// the same scalar representation a JSONB column would produce.
type Persistence struct {
	mu        sync.RWMutex
	playbooks map[string]*models.Playbook
	instances map[string]*models.Instance
	tasks     map[string][]*models.Task // keyed by instance id, append order
	schedules map[string]*models.Schedule
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{
		playbooks: make(map[string]*models.Playbook),
		instances: make(map[string]*models.Instance),
		tasks:     make(map[string][]*models.Task),
		schedules: make(map[string]*models.Schedule),
	}
}

func clone[T any](in *T) *T {
	raw, err := json.Marshal(in)
	if err != nil {
		panic(err)
	}

	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		panic(err)
	}

	return out
}

func (p *Persistence) SavePlaybook(_ context.Context, playbook *models.Playbook) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.playbooks[playbook.ID] = clone(playbook)

	return nil
}

func (p *Persistence) PlaybookByID(_ context.Context, id string) (*models.Playbook, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	playbook, ok := p.playbooks[id]
	if !ok {
		return nil, persistence.ErrPlaybookNotFound
	}

	return clone(playbook), nil
}

func (p *Persistence) Playbooks(_ context.Context) ([]*models.Playbook, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Playbook, 0, len(p.playbooks))
	for _, playbook := range p.playbooks {
		out = append(out, clone(playbook))
	}

	sortByCreation(out, func(pb *models.Playbook) time.Time { return pb.CreatedAt })

	return out, nil
}

func (p *Persistence) ActivePlaybooks(ctx context.Context) ([]*models.Playbook, error) {
	all, err := p.Playbooks(ctx)
	if err != nil {
		return nil, err
	}

	out := all[:0]

	for _, playbook := range all {
		if playbook.IsActive() {
			out = append(out, playbook)
		}
	}

	return out, nil
}

func (p *Persistence) CreateInstance(_ context.Context, instance *models.Instance) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.instances {
		if existing.PlaybookID == instance.PlaybookID &&
			existing.TargetID == instance.TargetID &&
			!existing.IsTerminal() {
			return persistence.ErrDuplicateActiveInstance
		}
	}

	p.instances[instance.ID] = clone(instance)

	return nil
}

func (p *Persistence) InstanceByID(_ context.Context, id string) (*models.Instance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	instance, ok := p.instances[id]
	if !ok {
		return nil, persistence.ErrInstanceNotFound
	}

	return clone(instance), nil
}

func (p *Persistence) UpdateInstance(_ context.Context, id string, mutate func(*models.Instance) error) (*models.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	instance, ok := p.instances[id]
	if !ok {
		return nil, persistence.ErrInstanceNotFound
	}

	updated := clone(instance)
	if err := mutate(updated); err != nil {
		return nil, err
	}

	updated.UpdatedAt = time.Now().UTC()
	p.instances[id] = updated

	return clone(updated), nil
}

func (p *Persistence) ListInstances(_ context.Context, opts persistence.ListInstancesOptions) ([]*models.Instance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	matched := make([]*models.Instance, 0)

	for _, instance := range p.instances {
		if opts.PlaybookID != "" && instance.PlaybookID != opts.PlaybookID {
			continue
		}

		if opts.TargetID != "" && instance.TargetID != opts.TargetID {
			continue
		}

		if opts.Status != nil && instance.Status != *opts.Status {
			continue
		}

		matched = append(matched, clone(instance))
	}

	sortByCreation(matched, func(i *models.Instance) time.Time { return i.CreatedAt })

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return []*models.Instance{}, nil
		}

		matched = matched[opts.Offset:]
	}

	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	return matched, nil
}

func (p *Persistence) ResumableInstances(_ context.Context, now time.Time) ([]*models.Instance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Instance, 0)

	for _, instance := range p.instances {
		if instance.IsTerminal() || instance.Status == models.InstanceStatusPending {
			continue
		}

		if instance.ResumeAt != nil && !instance.ResumeAt.After(now) {
			out = append(out, clone(instance))
		}
	}

	return out, nil
}

func (p *Persistence) WaitingInstances(_ context.Context, targetID string) ([]*models.Instance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Instance, 0)

	for _, instance := range p.instances {
		if instance.IsTerminal() || instance.TargetID != targetID {
			continue
		}

		if waiting, _ := instance.Variables["waiting_for_reply"].(bool); waiting {
			out = append(out, clone(instance))
		}
	}

	return out, nil
}

func (p *Persistence) StuckInstances(_ context.Context, cutoff time.Time) ([]*models.Instance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Instance, 0)

	for _, instance := range p.instances {
		if instance.Status != models.InstanceStatusExecuting {
			continue
		}

		if instance.UpdatedAt.Before(cutoff) {
			out = append(out, clone(instance))
		}
	}

	return out, nil
}

func (p *Persistence) OrphanedInstances(_ context.Context) ([]*models.Instance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Instance, 0)

	for _, instance := range p.instances {
		if instance.Status == models.InstanceStatusExecuting {
			out = append(out, clone(instance))
		}
	}

	return out, nil
}

func (p *Persistence) SaveTask(_ context.Context, task *models.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tasks := p.tasks[task.InstanceID]

	for i, existing := range tasks {
		if existing.ID == task.ID {
			tasks[i] = clone(task)

			return nil
		}
	}

	p.tasks[task.InstanceID] = append(tasks, clone(task))

	return nil
}

func (p *Persistence) TasksByInstance(_ context.Context, instanceID string) ([]*models.Task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tasks := p.tasks[instanceID]
	out := make([]*models.Task, 0, len(tasks))

	for _, task := range tasks {
		out = append(out, clone(task))
	}

	return out, nil
}

func (p *Persistence) CountFailedAttempts(_ context.Context, instanceID, stepID string) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0

	for _, task := range p.tasks[instanceID] {
		if task.StepID == stepID && task.Status == models.TaskStatusFailed {
			count++
		}
	}

	return count, nil
}

func (p *Persistence) SaveSchedule(_ context.Context, schedule *models.Schedule) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.schedules[schedule.ID] = clone(schedule)

	return nil
}

func (p *Persistence) ScheduleByID(_ context.Context, id string) (*models.Schedule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	schedule, ok := p.schedules[id]
	if !ok {
		return nil, persistence.ErrScheduleNotFound
	}

	return clone(schedule), nil
}

func (p *Persistence) Schedules(_ context.Context) ([]*models.Schedule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Schedule, 0, len(p.schedules))
	for _, schedule := range p.schedules {
		out = append(out, clone(schedule))
	}

	sortByCreation(out, func(s *models.Schedule) time.Time { return s.CreatedAt })

	return out, nil
}

func (p *Persistence) DueSchedules(_ context.Context, now time.Time) ([]*models.Schedule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Schedule, 0)

	for _, schedule := range p.schedules {
		if schedule.IsDue(now) {
			out = append(out, clone(schedule))
		}
	}

	return out, nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func sortByCreation[T any](items []T, createdAt func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return createdAt(items[i]).Before(createdAt(items[j]))
	})
}
