package toolbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/toolbox/internal/settings"
)

var ErrUnknownOperation = errors.New("toolbox: unknown operation")

const (
	OpInstall   = "install"
	OpStart     = "start"
	OpStop      = "stop"
	OpRestart   = "restart"
	OpUninstall = "uninstall"
	OpDelete    = "delete"
	OpStatus    = "status"
)

// Status is the observable lifecycle state of one tool.
type Status struct {
	Installed bool `json:"installed"`
	Running   bool `json:"running"`
}

// ToolStatus is Status plus the tool's identity and switches.
type ToolStatus struct {
	ID        settings.ToolID `json:"id"`
	Name      string          `json:"name"`
	Status    Status          `json:"status"`
	Enabled   bool            `json:"enabled"`
	AutoStart bool            `json:"auto_start"`
}

// OperationSpec describes one lifecycle operation.
type OperationSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Idempotent  bool   `json:"idempotent"`
}

// Operations lists the lifecycle operations accepted by Do.
func Operations() []OperationSpec {
	return []OperationSpec{
		{Name: OpInstall, Description: "Download and unpack the tool binary."},
		{Name: OpStart, Description: "Install if needed, render config, and spawn.", Idempotent: true},
		{Name: OpStop, Description: "Terminate and schedule file cleanup.", Idempotent: true},
		{Name: OpRestart, Description: "Stop, wait, and start again."},
		{Name: OpUninstall, Description: "Stop and remove the binary.", Idempotent: true},
		{Name: OpDelete, Description: "Stop, forget file names, and reset configuration.", Idempotent: true},
		{Name: OpStatus, Description: "Report installed and running state.", Idempotent: true},
	}
}

// Do dispatches op for id. Only status returns a non-nil result.
func (c *Controller) Do(ctx context.Context, id settings.ToolID, op string) (*Status, error) {
	switch op {
	case OpInstall:
		return nil, c.Install(ctx, id)
	case OpStart:
		return nil, c.Start(ctx, id)
	case OpStop:
		return nil, c.Stop(id)
	case OpRestart:
		return nil, c.Restart(ctx, id)
	case OpUninstall:
		return nil, c.Uninstall(id)
	case OpDelete:
		return nil, c.Delete(id)
	case OpStatus:
		st, err := c.Status(id)
		if err != nil {
			return nil, err
		}
		return &st, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
}

// Tool is a handle for one managed tool.
type Tool struct {
	id settings.ToolID
	c  *Controller
}

func (t *Tool) ID() settings.ToolID               { return t.id }
func (t *Tool) Install(ctx context.Context) error { return t.c.Install(ctx, t.id) }
func (t *Tool) Start(ctx context.Context) error   { return t.c.Start(ctx, t.id) }
func (t *Tool) Stop() error                       { return t.c.Stop(t.id) }
func (t *Tool) Restart(ctx context.Context) error { return t.c.Restart(ctx, t.id) }
func (t *Tool) Uninstall() error                  { return t.c.Uninstall(t.id) }
func (t *Tool) Delete() error                     { return t.c.Delete(t.id) }
func (t *Tool) Status() (Status, error)           { return t.c.Status(t.id) }
