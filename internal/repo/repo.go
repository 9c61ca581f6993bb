package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"atriumforms/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertInstallation(ctx context.Context, tx *sql.Tx, ins domain.Installation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO installations(code,name,place,installation_type,created_at) VALUES (?,?,?,?,?)`,
		ins.Code, ins.Name, nullable(ins.Place), nullable(ins.InstallationType), ins.CreatedAt)
	return err
}

func (r Repo) GetInstallation(ctx context.Context, code string) (domain.Installation, error) {
	var ins domain.Installation
	var place, typ sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT code,name,place,installation_type,created_at FROM installations WHERE code=?`, code).
		Scan(&ins.Code, &ins.Name, &place, &typ, &ins.CreatedAt)
	if err == sql.ErrNoRows {
		return ins, ErrNotFound
	}
	if err != nil {
		return ins, err
	}
	if place.Valid {
		ins.Place = place.String
	}
	if typ.Valid {
		ins.InstallationType = typ.String
	}
	return ins, nil
}

func (r Repo) ListInstallations(ctx context.Context) ([]domain.Installation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT code,name,COALESCE(place,''),COALESCE(installation_type,''),created_at FROM installations ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Installation
	for rows.Next() {
		var ins domain.Installation
		if err := rows.Scan(&ins.Code, &ins.Name, &ins.Place, &ins.InstallationType, &ins.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, ins)
	}
	return res, rows.Err()
}

// GetAtriumRecord returns the synced external record for an installation.
// A missing row maps to ErrNotFound; the resolver turns that into null values.
func (r Repo) GetAtriumRecord(ctx context.Context, code string) (domain.AtriumRecord, error) {
	var rec domain.AtriumRecord
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT installation_code,record_json,synced_at FROM atrium_records WHERE installation_code=?`, code).
		Scan(&rec.InstallationCode, &payload, &rec.SyncedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.Record = json.RawMessage(payload)
	return rec, nil
}

func (r Repo) UpsertAtriumRecord(ctx context.Context, tx *sql.Tx, rec domain.AtriumRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO atrium_records(installation_code,record_json,synced_at) VALUES (?,?,?)
ON CONFLICT(installation_code) DO UPDATE SET record_json=excluded.record_json, synced_at=excluded.synced_at`,
		rec.InstallationCode, string(rec.Record), rec.SyncedAt)
	return err
}

// ListActiveFieldDefinitions returns active definitions ordered by sort order.
func (r Repo) ListActiveFieldDefinitions(ctx context.Context) ([]domain.FieldDefinition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,field_key,label,source,external_column,installation_type,active,sort_order,created_at
FROM field_definitions WHERE active=1 ORDER BY sort_order, field_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FieldDefinition
	for rows.Next() {
		var fd domain.FieldDefinition
		var extCol, insType sql.NullString
		if err := rows.Scan(&fd.ID, &fd.FieldKey, &fd.Label, &fd.Source, &extCol, &insType, &fd.Active, &fd.SortOrder, &fd.CreatedAt); err != nil {
			return nil, err
		}
		if extCol.Valid {
			fd.ExternalColumn = &extCol.String
		}
		if insType.Valid {
			fd.InstallationType = &insType.String
		}
		res = append(res, fd)
	}
	return res, rows.Err()
}

func (r Repo) InsertFieldDefinition(ctx context.Context, tx *sql.Tx, fd domain.FieldDefinition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO field_definitions(id,field_key,label,source,external_column,installation_type,active,sort_order,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		fd.ID, fd.FieldKey, fd.Label, fd.Source, nullableStringPtr(fd.ExternalColumn), nullableStringPtr(fd.InstallationType), fd.Active, fd.SortOrder, fd.CreatedAt)
	return err
}

// ListFieldOptions returns active options for a definition sorted by explicit
// sort order then label.
func (r Repo) ListFieldOptions(ctx context.Context, fieldDefinitionID string) ([]domain.FieldOption, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,field_definition_id,value,label,sort_order,active
FROM field_options WHERE field_definition_id=? AND active=1 ORDER BY sort_order, label`, fieldDefinitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FieldOption
	for rows.Next() {
		var o domain.FieldOption
		if err := rows.Scan(&o.ID, &o.FieldDefinitionID, &o.Value, &o.Label, &o.SortOrder, &o.Active); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) InsertFieldOption(ctx context.Context, tx *sql.Tx, o domain.FieldOption) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO field_options(id,field_definition_id,value,label,sort_order,active) VALUES (?,?,?,?,?,?)`,
		o.ID, o.FieldDefinitionID, o.Value, o.Label, o.SortOrder, o.Active)
	return err
}

// GetFieldValue returns the stored value row for (installation, definition).
func (r Repo) GetFieldValue(ctx context.Context, installationCode, fieldDefinitionID string) (domain.FieldValue, error) {
	var fv domain.FieldValue
	var payload sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,installation_code,field_definition_id,value_json,updated_at
FROM field_values WHERE installation_code=? AND field_definition_id=?`, installationCode, fieldDefinitionID).
		Scan(&fv.ID, &fv.InstallationCode, &fv.FieldDefinitionID, &payload, &fv.UpdatedAt)
	if err == sql.ErrNoRows {
		return fv, ErrNotFound
	}
	if err != nil {
		return fv, err
	}
	if payload.Valid {
		fv.Value = json.RawMessage(payload.String)
	}
	return fv, nil
}

func (r Repo) UpsertFieldValue(ctx context.Context, tx *sql.Tx, fv domain.FieldValue) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO field_values(id,installation_code,field_definition_id,value_json,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(installation_code,field_definition_id) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`,
		fv.ID, fv.InstallationCode, fv.FieldDefinitionID, nullableRaw(fv.Value), fv.UpdatedAt)
	return err
}

// ListEnergySupplies returns supply rows by explicit sort order then creation time.
func (r Repo) ListEnergySupplies(ctx context.Context, installationCode string) ([]domain.EnergySupply, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,installation_code,soort,capaciteit,autonomie_uren,COALESCE(opmerking,''),sort_order,created_at
FROM energy_supplies WHERE installation_code=? ORDER BY sort_order, created_at`, installationCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EnergySupply
	for rows.Next() {
		var es domain.EnergySupply
		var cap sql.NullString
		var autonomie sql.NullInt64
		if err := rows.Scan(&es.ID, &es.InstallationCode, &es.Soort, &cap, &autonomie, &es.Opmerking, &es.SortOrder, &es.CreatedAt); err != nil {
			return nil, err
		}
		if cap.Valid {
			es.Capaciteit = &cap.String
		}
		if autonomie.Valid {
			v := int(autonomie.Int64)
			es.AutonomieUren = &v
		}
		res = append(res, es)
	}
	return res, rows.Err()
}

func (r Repo) InsertEnergySupply(ctx context.Context, tx *sql.Tx, es domain.EnergySupply) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO energy_supplies(id,installation_code,soort,capaciteit,autonomie_uren,opmerking,sort_order,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		es.ID, es.InstallationCode, es.Soort, nullableStringPtr(es.Capaciteit), nullableIntPtr(es.AutonomieUren), nullable(es.Opmerking), es.SortOrder, es.CreatedAt)
	return err
}

// ListDocuments returns document rows newest first.
func (r Repo) ListDocuments(ctx context.Context, installationCode string) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,installation_code,document_type_key,title,COALESCE(file_name,''),COALESCE(uploaded_by,''),created_at
FROM documents WHERE installation_code=? ORDER BY created_at DESC, id DESC`, installationCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.InstallationCode, &d.DocumentTypeKey, &d.Title, &d.FileName, &d.UploadedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(id,installation_code,document_type_key,title,file_name,uploaded_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.InstallationCode, d.DocumentTypeKey, d.Title, nullable(d.FileName), nullable(d.UploadedBy), d.CreatedAt)
	return err
}

func (r Repo) GetPerformanceHeader(ctx context.Context, installationCode string) (domain.PerformanceHeader, error) {
	var h domain.PerformanceHeader
	var opm sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,installation_code,normering_key,opmerking,created_at,updated_at
FROM pve_headers WHERE installation_code=?`, installationCode).
		Scan(&h.ID, &h.InstallationCode, &h.NormeringKey, &opm, &h.CreatedAt, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return h, ErrNotFound
	}
	if err != nil {
		return h, err
	}
	if opm.Valid {
		h.Opmerking = opm.String
	}
	return h, nil
}

func (r Repo) UpsertPerformanceHeader(ctx context.Context, tx *sql.Tx, h domain.PerformanceHeader) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pve_headers(id,installation_code,normering_key,opmerking,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(installation_code) DO UPDATE SET normering_key=excluded.normering_key, opmerking=excluded.opmerking, updated_at=excluded.updated_at`,
		h.ID, h.InstallationCode, h.NormeringKey, nullable(h.Opmerking), h.CreatedAt, h.UpdatedAt)
	return err
}

// ListPerformanceRows returns requirement rows by explicit sort order then creation time.
func (r Repo) ListPerformanceRows(ctx context.Context, headerID string) ([]domain.PerformanceRow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,header_id,gebruikersfunctie_key,COALESCE(row_label,''),doormelding,
automatische_melders,handbrandmelders,vlamdetectie,lijnvormige_rookmelders,aspiratie_openingen,sort_order,created_at
FROM pve_rows WHERE header_id=? ORDER BY sort_order, created_at`, headerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PerformanceRow
	for rows.Next() {
		var p domain.PerformanceRow
		if err := rows.Scan(&p.ID, &p.HeaderID, &p.GebruikersfunctieKey, &p.RowLabel, &p.Doormelding,
			&p.AutomatischeMelders, &p.Handbrandmelders, &p.Vlamdetectie, &p.LijnvormigeRookmelders, &p.AspiratieOpeningen, &p.SortOrder, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertPerformanceRow(ctx context.Context, tx *sql.Tx, p domain.PerformanceRow) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pve_rows(id,header_id,gebruikersfunctie_key,row_label,doormelding,
automatische_melders,handbrandmelders,vlamdetectie,lijnvormige_rookmelders,aspiratie_openingen,sort_order,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.HeaderID, p.GebruikersfunctieKey, nullable(p.RowLabel), p.Doormelding,
		p.AutomatischeMelders, p.Handbrandmelders, p.Vlamdetectie, p.LijnvormigeRookmelders, p.AspiratieOpeningen, p.SortOrder, p.CreatedAt)
	return err
}

var catalogTables = map[string]string{
	"document_types":     "document_types",
	"normeringen":        "normeringen",
	"gebruikersfuncties": "gebruikersfuncties",
	"brandmeld_types":    "brandmeld_types",
}

// ListCatalog returns active catalog rows sorted by explicit sort order then label.
func (r Repo) ListCatalog(ctx context.Context, name string) ([]domain.CatalogEntry, error) {
	table, ok := catalogTables[name]
	if !ok {
		return nil, ErrNotFound
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT key,label,active,sort_order FROM `+table+` WHERE active=1 ORDER BY sort_order, label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CatalogEntry
	for rows.Next() {
		var c domain.CatalogEntry
		if err := rows.Scan(&c.Key, &c.Label, &c.Active, &c.SortOrder); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertCatalogEntry(ctx context.Context, tx *sql.Tx, name string, c domain.CatalogEntry) error {
	table, ok := catalogTables[name]
	if !ok {
		return ErrNotFound
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO `+table+`(key,label,active,sort_order) VALUES (?,?,?,?)
ON CONFLICT(key) DO UPDATE SET label=excluded.label, active=excluded.active, sort_order=excluded.sort_order`,
		c.Key, c.Label, c.Active, c.SortOrder)
	return err
}

// ListRiskClasses returns the classification matrix for a normering, keyed by
// gebruikersfunctie.
func (r Repo) ListRiskClasses(ctx context.Context, normeringKey string) (map[string]domain.RiskClass, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT normering_key,gebruikersfunctie_key,risk_intern,risk_extern FROM risk_classes WHERE normering_key=?`, normeringKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]domain.RiskClass{}
	for rows.Next() {
		var rc domain.RiskClass
		var intern, extern sql.NullString
		if err := rows.Scan(&rc.NormeringKey, &rc.GebruikersfunctieKey, &intern, &extern); err != nil {
			return nil, err
		}
		if intern.Valid {
			rc.RiskIntern = &intern.String
		}
		if extern.Valid {
			rc.RiskExtern = &extern.String
		}
		res[rc.GebruikersfunctieKey] = rc
	}
	return res, rows.Err()
}

func (r Repo) UpsertRiskClass(ctx context.Context, tx *sql.Tx, rc domain.RiskClass) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO risk_classes(normering_key,gebruikersfunctie_key,risk_intern,risk_extern) VALUES (?,?,?,?)
ON CONFLICT(normering_key,gebruikersfunctie_key) DO UPDATE SET risk_intern=excluded.risk_intern, risk_extern=excluded.risk_extern`,
		rc.NormeringKey, rc.GebruikersfunctieKey, nullableStringPtr(rc.RiskIntern), nullableStringPtr(rc.RiskExtern))
	return err
}

func (r Repo) GetFormDefinition(ctx context.Context, code string) (domain.FormDefinition, error) {
	var fd domain.FormDefinition
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT code,title,definition_json,active,created_at FROM form_definitions WHERE code=?`, code).
		Scan(&fd.Code, &fd.Title, &payload, &fd.Active, &fd.CreatedAt)
	if err == sql.ErrNoRows {
		return fd, ErrNotFound
	}
	if err != nil {
		return fd, err
	}
	fd.Definition = json.RawMessage(payload)
	return fd, nil
}

func (r Repo) UpsertFormDefinition(ctx context.Context, tx *sql.Tx, fd domain.FormDefinition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO form_definitions(code,title,definition_json,active,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(code) DO UPDATE SET title=excluded.title, definition_json=excluded.definition_json, active=excluded.active`,
		fd.Code, fd.Title, string(fd.Definition), fd.Active, fd.CreatedAt)
	return err
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableRaw(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}
