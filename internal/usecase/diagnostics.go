package usecase

import (
	"log/slog"
	"sync"

	"github.com/forPelevin/sessionscribe/internal/types"
)

// diagnostics collects degraded collaborator calls from concurrent stages.
type diagnostics struct {
	mu   sync.Mutex
	list []types.Diagnostic
}

func (d *diagnostics) add(log *slog.Logger, stage, subject string, err error) {
	log.Warn("collaborator degraded", "stage", stage, "subject", subject, "err", err)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.list = append(d.list, types.Diagnostic{Stage: stage, Subject: subject, Message: err.Error()})
}
