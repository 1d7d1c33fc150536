package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				site_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				trigger_type VARCHAR(50) NOT NULL,
				trigger_filter JSONB,
				schedule VARCHAR(255) NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_site_trigger ON workflows(site_id, trigger_type) WHERE active;
			CREATE INDEX idx_workflows_trigger ON workflows(trigger_type) WHERE active;

			CREATE TABLE workflow_steps (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				action_type VARCHAR(50) NOT NULL,
				config JSONB NOT NULL DEFAULT '{}',
				order_index INT NOT NULL,
				continue_on_error BOOLEAN NOT NULL DEFAULT false,
				PRIMARY KEY (workflow_id, id),
				UNIQUE (workflow_id, order_index),
				UNIQUE (workflow_id, name)
			);
		`,
		2: `
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				trigger_type VARCHAR(50) NOT NULL,
				trigger_payload JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				failure JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_workflow_created ON executions(workflow_id, created_at DESC);
			CREATE INDEX idx_executions_status_created ON executions(status, created_at);

			CREATE TABLE execution_steps (
				execution_id VARCHAR(255) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				position INT NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				step_name VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL,
				output JSONB,
				error JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				PRIMARY KEY (execution_id, position)
			);
		`,
		3: `
			CREATE TABLE trigger_claims (
				key TEXT PRIMARY KEY,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_trigger_claims_expires_at ON trigger_claims(expires_at);

			CREATE TABLE records (
				site_id VARCHAR(255) NOT NULL,
				collection VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				fields JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (site_id, collection, id)
			);
		`,
	}
}
