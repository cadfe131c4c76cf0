package proxmox

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type taskStatusResponse struct {
	Status     string   `json:"status"`
	ExitStatus string   `json:"exitstatus"`
	Progress   *float64 `json:"progress"`
}

type taskLogLine struct {
	N int    `json:"n"`
	T string `json:"t"`
}

// ParseUPID returns the node encoded in a task id
// ("UPID:<node>:<pid>:<pstart>:<starttime>:<type>:<id>:<user>:").
func ParseUPID(upid string) (node string, err error) {
	parts := strings.Split(upid, ":")
	if len(parts) < 3 || parts[0] != "UPID" || parts[1] == "" {
		return "", fmt.Errorf("invalid UPID %q", upid)
	}
	return parts[1], nil
}

func handleFromUPID(upid, fallbackNode string) (TaskHandle, error) {
	if upid == "" {
		return TaskHandle{}, fmt.Errorf("API returned no task id")
	}
	node, err := ParseUPID(upid)
	if err != nil {
		node = fallbackNode
	}
	return TaskHandle{Node: node, UPID: upid}, nil
}

// PollTask returns the current state of a task. The task log is included
// while the task runs and when it failed.
func (c *RealClient) PollTask(ctx context.Context, task TaskHandle) (*TaskStatus, error) {
	base := fmt.Sprintf("/nodes/%s/tasks/%s", task.Node, url.PathEscape(task.UPID))

	var resp taskStatusResponse
	if err := c.get(ctx, base+"/status", nil, &resp); err != nil {
		return nil, fmt.Errorf("get task status %s: %w", task.UPID, err)
	}

	status := &TaskStatus{
		Running:    resp.Status == "running",
		ExitStatus: resp.ExitStatus,
	}
	if resp.Progress != nil {
		p := *resp.Progress
		// Some task types report a 0..1 fraction; 1 itself is read as 1%.
		if p < 1 {
			p *= 100
		}
		status.Percent = &p
	}

	if status.Running || !status.Succeeded() {
		lines, err := c.taskLog(ctx, base)
		if err != nil {
			// Logs are informational; the status above is what matters.
			return status, nil
		}
		status.LogLines = lines
	}
	return status, nil
}

func (c *RealClient) taskLog(ctx context.Context, base string) ([]string, error) {
	query := url.Values{"start": {"0"}, "limit": {strconv.Itoa(c.logLimit)}}

	var entries []taskLogLine
	if err := c.get(ctx, base+"/log", query, &entries); err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.T)
	}
	return lines, nil
}
