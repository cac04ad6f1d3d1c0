package tools

import (
	"context"
	"fmt"

	"github.com/vinayprograms/devsupport/errors"
	"github.com/vinayprograms/devsupport/tasks"
)

// TaskResult is the result of add_task and complete_task.
type TaskResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Task    *tasks.Task `json:"task,omitempty"`
}

// TaskList is the result of list_tasks.
type TaskList struct {
	Tasks []tasks.Task `json:"tasks"`
}

// RegisterTaskTools registers add_task, list_tasks and complete_task.
func RegisterTaskTools(r *Registry, svc *tasks.Service) {
	r.Register(&addTaskTool{svc: svc})
	r.Register(&listTasksTool{svc: svc})
	r.Register(&completeTaskTool{svc: svc})
}

// isDomainFailure reports whether err is an expected outcome reported to the
// caller as success:false rather than as a tool error.
func isDomainFailure(err error) bool {
	switch errors.Code(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeNotFound, errors.ErrCodeAlreadyCompleted:
		return true
	}
	return false
}

func failure(err error, task *tasks.Task) *TaskResult {
	msg := err.Error()
	if coded := errors.As(err); coded != nil {
		msg = coded.Message()
	}
	return &TaskResult{Success: false, Message: msg, Task: task}
}

// addTaskTool implements add_task.
type addTaskTool struct {
	svc *tasks.Service
}

func (t *addTaskTool) Name() string { return "add_task" }

func (t *addTaskTool) Description() string {
	return "Add a new pending task with the given title."
}

func (t *addTaskTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"title": map[string]interface{}{
			"type":        "string",
			"description": "Title of the task",
		},
	}, "title")
}

func (t *addTaskTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	title, err := args.String("title")
	if err != nil {
		return failure(err, nil), nil
	}

	task, err := t.svc.Add(ctx, title)
	if err != nil {
		if isDomainFailure(err) {
			return failure(err, nil), nil
		}
		return nil, err
	}

	return &TaskResult{
		Success: true,
		Message: fmt.Sprintf("Task '%s' added successfully", task.Title),
		Task:    &task,
	}, nil
}

// listTasksTool implements list_tasks.
type listTasksTool struct {
	svc *tasks.Service
}

func (t *listTasksTool) Name() string { return "list_tasks" }

func (t *listTasksTool) Description() string {
	return "List all tasks in the order they were added."
}

func (t *listTasksTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}

func (t *listTasksTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	list, err := t.svc.List(ctx)
	if err != nil {
		return nil, err
	}
	return &TaskList{Tasks: list}, nil
}

// completeTaskTool implements complete_task.
type completeTaskTool struct {
	svc *tasks.Service
}

func (t *completeTaskTool) Name() string { return "complete_task" }

func (t *completeTaskTool) Description() string {
	return "Mark the task with the given id as completed."
}

func (t *completeTaskTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"task_id": map[string]interface{}{
			"type":        "integer",
			"description": "ID of the task to complete",
			"minimum":     1,
		},
	}, "task_id")
}

func (t *completeTaskTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	id, err := args.Int64("task_id")
	if err != nil {
		return failure(err, nil), nil
	}

	task, err := t.svc.Complete(ctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrCodeAlreadyCompleted) {
			return failure(err, &task), nil
		}
		if isDomainFailure(err) {
			return failure(err, nil), nil
		}
		return nil, err
	}

	return &TaskResult{
		Success: true,
		Message: fmt.Sprintf("Task %d marked as completed", task.ID),
		Task:    &task,
	}, nil
}
