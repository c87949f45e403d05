package postgresql

// migrations returns the ordered schema migrations for the harvester tables.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS sources (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				url TEXT NOT NULL,
				collector_type TEXT NOT NULL,
				collector_config JSONB NOT NULL DEFAULT '{}',
				template_id TEXT,
				schedule_mode TEXT NOT NULL DEFAULT 'auto',
				schedule_enabled BOOLEAN NOT NULL DEFAULT TRUE,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				base_interval_seconds BIGINT NOT NULL DEFAULT 0,
				override_interval_seconds BIGINT NOT NULL DEFAULT 0,
				cron_expression TEXT NOT NULL DEFAULT '',
				min_interval_seconds BIGINT NOT NULL DEFAULT 0,
				max_interval_seconds BIGINT NOT NULL DEFAULT 0,
				periodicity_interval_seconds BIGINT NOT NULL DEFAULT 0,
				hotspot_level TEXT NOT NULL DEFAULT 'none',
				hotspot_until TIMESTAMP WITH TIME ZONE,
				consecutive_failures INTEGER NOT NULL DEFAULT 0,
				next_collection_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				calculated_interval_seconds BIGINT NOT NULL DEFAULT 0,
				last_collected_at TIMESTAMP WITH TIME ZONE,
				last_error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_sources_next_collection
				ON sources (next_collection_at)
				WHERE active AND schedule_enabled;
		`,
		2: `
			CREATE TABLE IF NOT EXISTS content_items (
				id TEXT PRIMARY KEY,
				source_id TEXT NOT NULL,
				external_id TEXT NOT NULL,
				url TEXT NOT NULL DEFAULT '',
				title TEXT NOT NULL DEFAULT '',
				raw_payload JSONB,
				extracted_text TEXT NOT NULL DEFAULT '',
				analysis_result JSONB,
				status TEXT NOT NULL DEFAULT 'pending',
				published_at TIMESTAMP WITH TIME ZONE,
				collected_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (source_id, external_id)
			);

			CREATE INDEX IF NOT EXISTS idx_content_items_source
				ON content_items (source_id, collected_at DESC);
			CREATE INDEX IF NOT EXISTS idx_content_items_status
				ON content_items (status);
		`,
		3: `
			CREATE TABLE IF NOT EXISTS pipeline_templates (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				steps JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
		4: `
			CREATE TABLE IF NOT EXISTS pipeline_executions (
				id TEXT PRIMARY KEY,
				content_id TEXT NOT NULL,
				template_id TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				current_step INTEGER NOT NULL DEFAULT 0,
				total_steps INTEGER NOT NULL DEFAULT 0,
				trigger_reason TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_pipeline_executions_content
				ON pipeline_executions (content_id, created_at DESC);

			CREATE TABLE IF NOT EXISTS pipeline_steps (
				id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL REFERENCES pipeline_executions (id) ON DELETE CASCADE,
				idx INTEGER NOT NULL,
				step_type TEXT NOT NULL,
				critical BOOLEAN NOT NULL DEFAULT FALSE,
				config JSONB,
				status TEXT NOT NULL DEFAULT 'pending',
				retry_count INTEGER NOT NULL DEFAULT 0,
				input_data JSONB,
				output_data JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (execution_id, idx)
			);
		`,
	}
}
