package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_records (
				workflow_id VARCHAR(64) PRIMARY KEY,
				claim_id VARCHAR(128) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('PENDING', 'IN_PROGRESS', 'COMPLETED', 'FAILED')),
				strategy VARCHAR(20) NOT NULL,
				record JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_records_claim_created ON workflow_records(claim_id, created_at DESC);
			CREATE INDEX idx_workflow_records_status ON workflow_records(status);
		`,
		2: `
			ALTER TABLE workflow_records ADD COLUMN reprocess BOOLEAN NOT NULL DEFAULT false;
			CREATE INDEX idx_workflow_records_strategy ON workflow_records(strategy);
		`,
	}
}
