package scheduler

const (
	// JobHealthCycle runs one monitoring cycle
	JobHealthCycle = "health-cycle"
	// JobHistoryPrune deletes alert history past its retention
	JobHistoryPrune = "history-prune"
	// JobSettingsReload re-reads the monitoring settings
	JobSettingsReload = "settings-reload"

	// PruneSchedule runs the history prune daily at 03:30
	PruneSchedule = "0 30 3 * * *"
)
