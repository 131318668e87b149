package tools

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// batchConcurrency bounds parallel dispatches per batch call.
const batchConcurrency = 5

// batchDelimiter is a stable wire format the UI parses into per-task
// cards. Reproduce it byte-for-byte.
const batchDelimiter = "--- 任务 %d 结果 ---"

// DispatchBatchTool fans N independent tasks out to peers in parallel
// and joins the reports in task order.
type DispatchBatchTool struct {
	dispatch *DispatchTool
}

func NewDispatchBatchTool(dispatch *DispatchTool) *DispatchBatchTool {
	return &DispatchBatchTool{dispatch: dispatch}
}

func (t *DispatchBatchTool) Name() string { return "dispatch_batch_tasks" }

func (t *DispatchBatchTool) Description() string {
	return "Dispatch several independent sub-tasks to peers in parallel and collect all reports. Use for tasks with no ordering dependency between them."
}

func (t *DispatchBatchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tasks": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Independent task instructions, one per worker",
			},
			"common_context": map[string]interface{}{
				"type":        "string",
				"description": "Background shared by every task",
			},
			"priority": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"NORMAL", "URGENT"},
				"description": "Priority applied to every dispatched task",
			},
		},
		"required": []string{"tasks"},
	}
}

func (t *DispatchBatchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawTasks, _ := args["tasks"].([]interface{})
	var taskList []string
	for _, raw := range rawTasks {
		if s, ok := raw.(string); ok && s != "" {
			taskList = append(taskList, s)
		}
	}
	if len(taskList) == 0 {
		return ErrorResult("tasks must be a non-empty array of strings")
	}
	commonContext, _ := args["common_context"].(string)
	priority, _ := args["priority"].(string)

	// Completion order is unordered; the join below restores task order.
	reports := make([]string, len(taskList))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, task := range taskList {
		g.Go(func() error {
			callArgs := map[string]interface{}{
				"task_instruction": task,
			}
			if commonContext != "" {
				callArgs["context_info"] = commonContext
			}
			if priority != "" {
				callArgs["priority"] = priority
			}
			// Each entry gets a fresh sub-session and free peer choice.
			res := t.dispatch.Execute(gctx, callArgs)
			reports[i] = res.ForLLM
			// A failed task becomes that task's report; the batch
			// itself never fails wholesale.
			return nil
		})
	}
	_ = g.Wait()

	var b strings.Builder
	for i, report := range reports {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, batchDelimiter, i+1)
		b.WriteString("\n")
		b.WriteString(report)
	}
	return NewResult(b.String())
}
