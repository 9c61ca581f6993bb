package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"atriumforms/internal/domain"
)

// ErrStaleRev signals that a compare-and-increment save lost the race: the
// persisted draft_rev no longer matches the caller's expected value.
var ErrStaleRev = errors.New("draft_rev mismatch")

func (r Repo) InsertFormInstance(ctx context.Context, tx *sql.Tx, fi domain.FormInstance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO form_instances(id,installation_code,form_code,status,draft_rev,answers_json,definition_json,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		fi.ID, fi.InstallationCode, fi.FormCode, fi.Status, fi.DraftRev, string(fi.Answers), string(fi.Definition), nullable(fi.CreatedBy), fi.CreatedAt, fi.UpdatedAt)
	return err
}

func scanInstance(scan func(dest ...any) error) (domain.FormInstance, error) {
	var fi domain.FormInstance
	var answers, definition string
	var createdBy sql.NullString
	err := scan(&fi.ID, &fi.InstallationCode, &fi.FormCode, &fi.Status, &fi.DraftRev, &answers, &definition, &createdBy, &fi.CreatedAt, &fi.UpdatedAt)
	if err == sql.ErrNoRows {
		return fi, ErrNotFound
	}
	if err != nil {
		return fi, err
	}
	fi.Answers = json.RawMessage(answers)
	fi.Definition = json.RawMessage(definition)
	if createdBy.Valid {
		fi.CreatedBy = createdBy.String
	}
	return fi, nil
}

const instanceColumns = `id,installation_code,form_code,status,draft_rev,answers_json,definition_json,created_by,created_at,updated_at`

func (r Repo) GetFormInstance(ctx context.Context, id string) (domain.FormInstance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM form_instances WHERE id=?`, id)
	return scanInstance(row.Scan)
}

func (r Repo) GetFormInstanceTx(ctx context.Context, tx *sql.Tx, id string) (domain.FormInstance, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM form_instances WHERE id=?`, id)
	return scanInstance(row.Scan)
}

func (r Repo) ListFormInstances(ctx context.Context, installationCode, formCode string) ([]domain.FormInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM form_instances WHERE installation_code=?`
	args := []any{installationCode}
	if formCode != "" {
		query += ` AND form_code=?`
		args = append(args, formCode)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FormInstance
	for rows.Next() {
		fi, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, fi)
	}
	return res, rows.Err()
}

// SaveAnswers performs the compare-and-increment write. The WHERE clause is the
// only race guard: zero affected rows means either the instance is gone or the
// stored draft_rev moved past expectedRev.
func (r Repo) SaveAnswers(ctx context.Context, tx *sql.Tx, id string, answers json.RawMessage, expectedRev int64, updatedAt string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE form_instances SET answers_json=?, draft_rev=draft_rev+1, updated_at=?
WHERE id=? AND draft_rev=?`, string(answers), updatedAt, id, expectedRev)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		if _, err := r.GetFormInstanceTx(ctx, tx, id); err != nil {
			return 0, err
		}
		return 0, ErrStaleRev
	}
	return expectedRev + 1, nil
}

func (r Repo) UpdateInstanceStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE form_instances SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
