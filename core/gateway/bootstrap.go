package gateway

import (
	"context"
	"fmt"

	care "github.com/villagehq/village-core/core"
	"github.com/villagehq/village-core/core/archive"
	"github.com/villagehq/village-core/core/escalation"
	"github.com/villagehq/village-core/core/session"
	"github.com/villagehq/village-core/core/village"
)

// Build assembles an orchestrator from configuration: roster from the
// configured YAML file, village notifications to the configured endpoint,
// and terminal-session archival to SQLite when a path is set. The returned
// cleanup releases everything Build opened.
func Build(cfg Config) (*care.Orchestrator, func(), error) {
	roster, err := village.LoadRoster(cfg.RosterPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load roster: %w", err)
	}

	var notifier escalation.Notifier
	if cfg.NotifierURL != "" {
		notifier = &escalation.HTTPNotifier{
			BaseURL: cfg.NotifierURL,
			Token:   cfg.NotifierToken,
		}
	} else {
		notifier = escalation.NotifierFunc(func(_ context.Context, member village.Member, concern session.Concern) error {
			logger.Info("village notification (no notifier configured)",
				"member_id", member.ID, "concern_id", concern.ID)
			return nil
		})
	}

	opts := []care.OrchestratorOption{
		care.WithEscalationWindow(cfg.EscalationWindow),
		care.WithSubscriberQueueSize(cfg.QueueSize),
		care.WithRetention(cfg.Retention),
		care.WithTimerInterval(cfg.TimerInterval),
	}

	var store *archive.SQLiteStore
	if cfg.ArchivePath != "" {
		store, err = archive.NewSQLiteStore(cfg.ArchivePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open archive: %w", err)
		}
		opts = append(opts, care.WithArchiver(store))
	}

	orchestrator := care.NewOrchestrator(roster, notifier, opts...)
	cleanup := func() {
		orchestrator.Close()
		if store != nil {
			store.Close()
		}
	}
	return orchestrator, cleanup, nil
}
