package maintenance

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ignite/alertflow/internal/domain"
	"github.com/ignite/alertflow/internal/store"
)

// Checker decides whether alerts for a machine should be suppressed
// because the machine, or a parent it depends on, is in an ongoing
// maintenance window.
type Checker struct {
	windows *store.MaintenanceRepo
	now     func() time.Time
}

// New builds a maintenance checker over the store.
func New(windows *store.MaintenanceRepo) *Checker {
	return &Checker{windows: windows, now: time.Now}
}

// Result explains a suppression decision.
type Result struct {
	Suppressed bool
	Window     *domain.MaintenanceWindow
	Server     string // the set member the window matched, machine or parent
}

// Check reports whether the machine is covered by an ongoing window.
// The check set is the machine plus its parents from the topology
// graph; effective window state is computed against the clock.
func (c *Checker) Check(ctx context.Context, machine string) (Result, error) {
	if machine == "" {
		return Result{}, nil
	}

	parents, err := c.windows.ParentsOf(ctx, machine)
	if err != nil {
		return Result{}, fmt.Errorf("maintenance parents: %w", err)
	}
	checkSet := append([]string{machine}, parents...)

	windows, err := c.windows.WindowsForServers(ctx, checkSet)
	if err != nil {
		return Result{}, fmt.Errorf("maintenance windows: %w", err)
	}

	now := c.now()
	for i := range windows {
		w := &windows[i]
		if w.StatusAt(now) != domain.MaintenanceOngoing {
			continue
		}
		log.Printf("[Maintenance] %s suppressed: window %d on %s (%s - %s)",
			machine, w.ID, w.ServerName,
			w.StartAt.Format(time.RFC3339), w.EndAt.Format(time.RFC3339))
		return Result{Suppressed: true, Window: w, Server: w.ServerName}, nil
	}
	return Result{}, nil
}
