package engine

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"atriumforms/internal/config"
	"atriumforms/internal/domain"
	"atriumforms/internal/events"
	"atriumforms/internal/lifecycle"
	"atriumforms/internal/prefill"
	"atriumforms/internal/repo"
	"atriumforms/internal/risk"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Resolver  prefill.Resolver
	Lifecycle lifecycle.Controller
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Resolver:  prefill.Resolver{Repo: r},
		Lifecycle: lifecycle.New(cfg.ActionTable()),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ConflictError signals a stale expected_draft_rev on save. The stored answers
// are untouched; the caller must reload authoritative state before retrying.
type ConflictError struct {
	InstanceID  string
	ExpectedRev int64
	StoredRev   int64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("instance %s: expected draft_rev %d but stored draft_rev is %d", e.InstanceID, e.ExpectedRev, e.StoredRev)
}

// Resolve runs the prefill resolver for an installation and form.
func (e Engine) Resolve(ctx context.Context, code, formCode string, keys []string) ([]domain.ResolvedItem, error) {
	return e.Resolver.Resolve(ctx, code, formCode, keys)
}

// StartForm creates a CONCEPT instance at draft_rev 0 with a snapshot of the
// active form definition.
func (e Engine) StartForm(ctx context.Context, code, formCode, actorID string) (domain.FormInstance, error) {
	ins, err := e.Repo.GetInstallation(ctx, code)
	if err != nil {
		return domain.FormInstance{}, fmt.Errorf("installation %s: %w", code, err)
	}
	def, err := e.Repo.GetFormDefinition(ctx, formCode)
	if err != nil {
		return domain.FormInstance{}, fmt.Errorf("form %s: %w", formCode, err)
	}
	if !def.Active {
		return domain.FormInstance{}, fmt.Errorf("form %s is not active", formCode)
	}
	now := e.now().UTC().Format(time.RFC3339)
	fi := domain.FormInstance{
		ID:               uuid.New().String(),
		InstallationCode: ins.Code,
		FormCode:         def.Code,
		Status:           domain.StatusConcept,
		DraftRev:         0,
		Answers:          json.RawMessage(`{}`),
		Definition:       def.Definition,
		CreatedBy:        actorID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.FormInstance{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertFormInstance(ctx, tx, fi); err != nil {
		return domain.FormInstance{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeFormCreated, fi.InstallationCode, "form_instance", fi.ID, actorID, events.EventPayload{
		"form_code": fi.FormCode,
		"status":    fi.Status,
	}); err != nil {
		return domain.FormInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.FormInstance{}, err
	}
	return fi, nil
}

// SaveOptions are parameters for saving instance answers.
type SaveOptions struct {
	InstanceID  string
	Answers     json.RawMessage
	ExpectedRev int64
	ActorID     string
}

// SaveAnswers persists new answers under the compare-and-increment guard.
// Permitted only in CONCEPT; a stale ExpectedRev yields ConflictError and
// leaves the stored answers unchanged.
func (e Engine) SaveAnswers(ctx context.Context, opts SaveOptions) (domain.FormInstance, error) {
	if err := validateJSONObject(opts.Answers); err != nil {
		return domain.FormInstance{}, fmt.Errorf("answers: %w", err)
	}
	fi, err := e.Repo.GetFormInstance(ctx, opts.InstanceID)
	if err != nil {
		return domain.FormInstance{}, err
	}
	if err := e.Lifecycle.Guard(fi.Status, lifecycle.ActionSave); err != nil {
		return fi, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fi, err
	}
	defer tx.Rollback()
	if err := e.saveAnswersTx(ctx, tx, &fi, opts); err != nil {
		return fi, err
	}
	if err := tx.Commit(); err != nil {
		return fi, err
	}
	return fi, nil
}

func (e Engine) saveAnswersTx(ctx context.Context, tx *sql.Tx, fi *domain.FormInstance, opts SaveOptions) error {
	now := e.now().UTC().Format(time.RFC3339)
	newRev, err := e.Repo.SaveAnswers(ctx, tx, fi.ID, opts.Answers, opts.ExpectedRev, now)
	if err != nil {
		if errors.Is(err, repo.ErrStaleRev) {
			stored, gerr := e.Repo.GetFormInstanceTx(ctx, tx, fi.ID)
			if gerr != nil {
				return gerr
			}
			return ConflictError{InstanceID: fi.ID, ExpectedRev: opts.ExpectedRev, StoredRev: stored.DraftRev}
		}
		return err
	}
	fi.Answers = opts.Answers
	fi.DraftRev = newRev
	fi.UpdatedAt = now
	return e.Events.Append(ctx, tx, events.TypeFormSaved, fi.InstallationCode, "form_instance", fi.ID, opts.ActorID, events.EventPayload{
		"draft_rev": newRev,
	})
}

// SubmitOptions are parameters for submitting an instance. Answers, when set,
// are unsaved local edits that must be saved first under the same concurrency
// check.
type SubmitOptions struct {
	InstanceID  string
	ActorID     string
	Answers     json.RawMessage
	ExpectedRev int64
}

func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (domain.FormInstance, error) {
	fi, err := e.Repo.GetFormInstance(ctx, opts.InstanceID)
	if err != nil {
		return domain.FormInstance{}, err
	}
	if err := e.Lifecycle.Guard(fi.Status, lifecycle.ActionSubmit); err != nil {
		return fi, err
	}
	if len(opts.Answers) > 0 {
		if err := validateJSONObject(opts.Answers); err != nil {
			return fi, fmt.Errorf("answers: %w", err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fi, err
	}
	defer tx.Rollback()
	if len(opts.Answers) > 0 {
		save := SaveOptions{
			InstanceID:  opts.InstanceID,
			Answers:     opts.Answers,
			ExpectedRev: opts.ExpectedRev,
			ActorID:     opts.ActorID,
		}
		if err := e.saveAnswersTx(ctx, tx, &fi, save); err != nil {
			return fi, err
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateInstanceStatus(ctx, tx, fi.ID, domain.StatusIngediend, now); err != nil {
		return fi, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeFormSubmitted, fi.InstallationCode, "form_instance", fi.ID, opts.ActorID, events.EventPayload{
		"from_status": fi.Status,
	}); err != nil {
		return fi, err
	}
	if err := tx.Commit(); err != nil {
		return fi, err
	}
	fi.Status = domain.StatusIngediend
	fi.UpdatedAt = now
	return fi, nil
}

// Withdraw moves an instance to INGETROKKEN.
func (e Engine) Withdraw(ctx context.Context, instanceID, actorID string) (domain.FormInstance, error) {
	return e.transition(ctx, instanceID, actorID, lifecycle.ActionWithdraw, events.TypeFormWithdrawn)
}

// Reopen moves INGETROKKEN back to CONCEPT. draft_rev is left untouched.
func (e Engine) Reopen(ctx context.Context, instanceID, actorID string) (domain.FormInstance, error) {
	return e.transition(ctx, instanceID, actorID, lifecycle.ActionReopen, events.TypeFormReopened)
}

// SetHandling marks a submitted instance as being processed.
func (e Engine) SetHandling(ctx context.Context, instanceID, actorID string) (domain.FormInstance, error) {
	return e.transition(ctx, instanceID, actorID, lifecycle.ActionBehandel, events.TypeFormInHandling)
}

// Finish marks an instance as handled.
func (e Engine) Finish(ctx context.Context, instanceID, actorID string) (domain.FormInstance, error) {
	return e.transition(ctx, instanceID, actorID, lifecycle.ActionAfhandel, events.TypeFormFinished)
}

func (e Engine) transition(ctx context.Context, instanceID, actorID string, action lifecycle.Action, evtType string) (domain.FormInstance, error) {
	fi, err := e.Repo.GetFormInstance(ctx, instanceID)
	if err != nil {
		return domain.FormInstance{}, err
	}
	if err := e.Lifecycle.Guard(fi.Status, action); err != nil {
		return fi, err
	}
	target, ok := lifecycle.Target(action)
	if !ok {
		return fi, fmt.Errorf("action %s has no target status", action)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fi, err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateInstanceStatus(ctx, tx, fi.ID, target, now); err != nil {
		return fi, err
	}
	if err := e.Events.Append(ctx, tx, evtType, fi.InstallationCode, "form_instance", fi.ID, actorID, events.EventPayload{
		"from_status": fi.Status,
		"to_status":   target,
	}); err != nil {
		return fi, err
	}
	if err := tx.Commit(); err != nil {
		return fi, err
	}
	fi.Status = target
	fi.UpdatedAt = now
	return fi, nil
}

// ComputeRisk loads the classification matrix for the normering and runs the
// risk computation over the supplied rows.
func (e Engine) ComputeRisk(ctx context.Context, normeringKey string, rows []domain.PerformanceRow) (risk.Result, error) {
	matrix, err := e.Repo.ListRiskClasses(ctx, normeringKey)
	if err != nil {
		return risk.Result{}, err
	}
	return risk.Compute(normeringKey, rows, matrix)
}

// ComputeRiskForInstallation computes compliance numbers from the stored
// performance requirement header and rows.
func (e Engine) ComputeRiskForInstallation(ctx context.Context, code string) (risk.Result, error) {
	header, err := e.Repo.GetPerformanceHeader(ctx, code)
	if err != nil {
		return risk.Result{}, fmt.Errorf("performance header for %s: %w", code, err)
	}
	rows, err := e.Repo.ListPerformanceRows(ctx, header.ID)
	if err != nil {
		return risk.Result{}, err
	}
	return e.ComputeRisk(ctx, header.NormeringKey, rows)
}

func validateJSONObject(in json.RawMessage) error {
	trimmed := bytes.TrimSpace(in)
	if len(trimmed) == 0 {
		return errors.New("must not be empty")
	}
	// json.Unmarshal into a map accepts the literal null, which would persist
	// answers as null rather than an object.
	if trimmed[0] != '{' {
		return errors.New("must be a JSON object")
	}
	var tmp map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &tmp); err != nil {
		return fmt.Errorf("must be a JSON object: %w", err)
	}
	return nil
}
