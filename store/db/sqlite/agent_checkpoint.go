package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/bankdesk/store"
)

const checkpointColumns = "session_id, namespace, version, turns, credential_ref, created_ts, updated_ts"

func (d *DB) GetAgentCheckpoint(ctx context.Context, find *store.FindAgentCheckpoint) (*store.AgentCheckpoint, error) {
	query := `SELECT ` + checkpointColumns + ` FROM agent_checkpoint WHERE session_id = ? AND namespace = ?`

	var cp store.AgentCheckpoint
	var turns string
	err := d.db.QueryRowContext(ctx, query, find.SessionID, find.Namespace).Scan(
		&cp.SessionID,
		&cp.Namespace,
		&cp.Version,
		&turns,
		&cp.CredentialRef,
		&cp.CreatedTs,
		&cp.UpdatedTs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get agent checkpoint")
	}
	cp.Turns = []byte(turns)
	return &cp, nil
}

func (d *DB) UpsertAgentCheckpoint(ctx context.Context, upsert *store.AgentCheckpoint) (*store.AgentCheckpoint, error) {
	stmt := `
		INSERT INTO agent_checkpoint (session_id, namespace, version, turns, credential_ref, created_ts, updated_ts)
		VALUES (?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT (session_id, namespace)
		DO UPDATE SET
			version = agent_checkpoint.version + 1,
			turns = excluded.turns,
			credential_ref = excluded.credential_ref,
			updated_ts = excluded.updated_ts
		RETURNING version, created_ts, updated_ts
	`

	cp := *upsert
	err := d.db.QueryRowContext(ctx, stmt,
		cp.SessionID,
		cp.Namespace,
		string(cp.Turns),
		cp.CredentialRef,
		cp.CreatedTs,
		cp.UpdatedTs,
	).Scan(&cp.Version, &cp.CreatedTs, &cp.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert agent checkpoint")
	}
	return &cp, nil
}

func (d *DB) UpdateAgentCheckpoint(ctx context.Context, update *store.UpdateAgentCheckpoint) (*store.AgentCheckpoint, error) {
	stmt := `
		UPDATE agent_checkpoint
		SET
			version = version + 1,
			turns = ?,
			credential_ref = COALESCE(?, credential_ref),
			updated_ts = ?
		WHERE session_id = ? AND namespace = ? AND version = ?
		RETURNING ` + checkpointColumns

	var cp store.AgentCheckpoint
	var turns string
	err := d.db.QueryRowContext(ctx, stmt,
		string(update.Turns),
		update.CredentialRef,
		update.UpdatedTs,
		update.SessionID,
		update.Namespace,
		update.ExpectedVersion,
	).Scan(
		&cp.SessionID,
		&cp.Namespace,
		&cp.Version,
		&turns,
		&cp.CredentialRef,
		&cp.CreatedTs,
		&cp.UpdatedTs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := d.GetAgentCheckpoint(ctx, &store.FindAgentCheckpoint{SessionID: update.SessionID, Namespace: update.Namespace})
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, errors.Wrapf(store.ErrCheckpointNotFound, "session %s", update.SessionID)
		}
		return nil, errors.Wrapf(store.ErrCheckpointConflict, "session %s: expected version %d, found %d", update.SessionID, update.ExpectedVersion, existing.Version)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to update agent checkpoint")
	}
	cp.Turns = []byte(turns)
	return &cp, nil
}

func (d *DB) DeleteAgentCheckpoints(ctx context.Context, delete *store.DeleteAgentCheckpoint) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM agent_checkpoint WHERE namespace = ? AND updated_ts < ?`, delete.Namespace, delete.UpdatedBefore)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete agent checkpoints")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count deleted agent checkpoints")
	}
	return rows, nil
}
