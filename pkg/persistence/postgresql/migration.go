package postgresql

// migrations returns the versioned schema for the playbook execution engine.
// The partial unique index on instances enforces the one-active-instance-per-
// (playbook, target) invariant at the database level.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS playbooks (
				id TEXT PRIMARY KEY,
				organization_id TEXT NOT NULL DEFAULT '',
				owner TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				type TEXT NOT NULL,
				status TEXT NOT NULL,
				steps JSONB NOT NULL DEFAULT '[]',
				trigger_config JSONB NOT NULL DEFAULT '{}',
				total_instances INTEGER NOT NULL DEFAULT 0,
				active_instances INTEGER NOT NULL DEFAULT 0,
				last_used_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_playbooks_status ON playbooks (status);
			CREATE INDEX IF NOT EXISTS idx_playbooks_organization ON playbooks (organization_id);

			CREATE TABLE IF NOT EXISTS instances (
				id TEXT PRIMARY KEY,
				playbook_id TEXT NOT NULL REFERENCES playbooks (id),
				organization_id TEXT NOT NULL DEFAULT '',
				channel_id TEXT NOT NULL DEFAULT '',
				target_id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				current_step_id TEXT NOT NULL DEFAULT '',
				current_step_index INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				progress INTEGER NOT NULL DEFAULT 0,
				variables JSONB NOT NULL DEFAULT '{}',
				result JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				retry_count INTEGER NOT NULL DEFAULT 0,
				resume_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_instances_active_target
				ON instances (playbook_id, target_id)
				WHERE status IN ('pending', 'scheduled', 'executing');
			CREATE INDEX IF NOT EXISTS idx_instances_resume_at
				ON instances (resume_at)
				WHERE resume_at IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_instances_target_status
				ON instances (target_id, status);
			CREATE INDEX IF NOT EXISTS idx_instances_status_updated
				ON instances (status, updated_at);

			CREATE TABLE IF NOT EXISTS tasks (
				id TEXT PRIMARY KEY,
				instance_id TEXT NOT NULL REFERENCES instances (id),
				step_id TEXT NOT NULL,
				step_name TEXT NOT NULL DEFAULT '',
				action TEXT NOT NULL,
				status TEXT NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 3,
				input JSONB,
				output JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				scheduled_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_tasks_instance ON tasks (instance_id, scheduled_at);
			CREATE INDEX IF NOT EXISTS idx_tasks_instance_step_status ON tasks (instance_id, step_id, status);

			CREATE TABLE IF NOT EXISTS schedules (
				id TEXT PRIMARY KEY,
				playbook_id TEXT NOT NULL REFERENCES playbooks (id),
				organization_id TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				cron_expression TEXT NOT NULL,
				target_filter JSONB NOT NULL DEFAULT '{}',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				execution_count INTEGER NOT NULL DEFAULT 0,
				success_count INTEGER NOT NULL DEFAULT 0,
				last_execution_at TIMESTAMP WITH TIME ZONE,
				next_execution_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_schedules_next_execution
				ON schedules (next_execution_at)
				WHERE active;
		`,
	}
}
