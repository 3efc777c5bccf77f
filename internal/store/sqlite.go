package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/brand-radar/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serialises writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	target          TEXT NOT NULL,
	category        TEXT NOT NULL DEFAULT '',
	competitors     TEXT NOT NULL DEFAULT '[]',
	owned_domains   TEXT NOT NULL DEFAULT '[]',
	status          TEXT NOT NULL DEFAULT 'processing',
	progress        INTEGER NOT NULL DEFAULT 0,
	total_questions INTEGER NOT NULL DEFAULT 0,
	processed       INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS job_markets (
	job_id     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	code       TEXT NOT NULL,
	country    TEXT NOT NULL DEFAULT '',
	language   TEXT NOT NULL DEFAULT '',
	is_primary INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (job_id, code)
);

CREATE TABLE IF NOT EXISTS category_families (
	job_id      TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	id          TEXT NOT NULL,
	names       TEXT NOT NULL DEFAULT '{}',
	competitors TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (job_id, id)
);

CREATE TABLE IF NOT EXISTS raw_responses (
	job_id        TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	question_id   TEXT NOT NULL,
	kind          TEXT NOT NULL,
	question_text TEXT NOT NULL,
	answers       TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (job_id, question_id, kind)
);

CREATE TABLE IF NOT EXISTS sources (
	job_id         TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	url            TEXT NOT NULL,
	domain         TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	providers      TEXT NOT NULL DEFAULT '[]',
	citation_count INTEGER NOT NULL DEFAULT 0,
	question_ids   TEXT NOT NULL DEFAULT '[]',
	category       TEXT NOT NULL,
	confidence     TEXT NOT NULL,
	reasoning      TEXT NOT NULL DEFAULT '',
	competitor     TEXT NOT NULL DEFAULT '',
	authority      REAL NOT NULL DEFAULT 0,
	channel        TEXT,
	PRIMARY KEY (job_id, url)
);

CREATE TABLE IF NOT EXISTS analysis_results (
	job_id     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	kind       TEXT NOT NULL,
	market     TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL DEFAULT '',
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (job_id, kind, market, category)
);

CREATE TABLE IF NOT EXISTS opportunities (
	job_id         TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	id             TEXT NOT NULL,
	type           TEXT NOT NULL,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	target         TEXT NOT NULL,
	market         TEXT NOT NULL DEFAULT '',
	impact         REAL NOT NULL,
	effort         REAL NOT NULL,
	tier           TEXT NOT NULL,
	evidence       TEXT NOT NULL DEFAULT '[]',
	sources        TEXT NOT NULL DEFAULT '[]',
	status         TEXT NOT NULL DEFAULT 'open',
	implemented_at DATETIME,
	notes          TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (job_id, id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_target ON jobs(target);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, spec model.JobSpec) (*model.Job, error) {
	job := newJob(spec)

	competitors, err := json.Marshal(job.Competitors)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal competitors")
	}
	owned, err := json.Marshal(job.OwnedDomains)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal owned domains")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin create job")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (id, target, category, competitors, owned_domains, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Target, job.Category, string(competitors), string(owned), string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	for _, m := range spec.Markets {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO job_markets (job_id, code, country, language, is_primary) VALUES (?, ?, ?, ?, ?)`,
			job.ID, m.Code, m.Country, m.Language, m.IsPrimary,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert market %s", m.Code)
		}
	}

	for _, f := range spec.Families {
		names, err := json.Marshal(f.Names)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal family names")
		}
		comps, err := json.Marshal(f.Competitors)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal family competitors")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO category_families (job_id, id, names, competitors) VALUES (?, ?, ?, ?)`,
			job.ID, f.ID, string(names), string(comps),
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert family %s", f.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit create job")
	}
	return job, nil
}

const sqliteJobColumns = `id, target, category, competitors, owned_domains, status, progress, total_questions, processed, error, created_at, updated_at`

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Target != "" {
		query += ` AND target = ?`
		args = append(args, filter.Target)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// UpdateJobStatus moves a processing job to a new status. Terminal jobs are
// never modified.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error {
	query := `UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = 'processing'`
	if status == model.JobStatusCompleted {
		query = `UPDATE jobs SET status = ?, error = ?, updated_at = ?, progress = 100 WHERE id = ? AND status = 'processing'`
	}
	res, err := s.db.ExecContext(ctx, query, string(status), errMsg, time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	return checkRowsAffected(res, "processing job", jobID)
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, jobID string, processed, progress int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET processed = ?, progress = ?, updated_at = ? WHERE id = ?`,
		processed, progress, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job progress %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) SetJobTotal(ctx context.Context, jobID string, total int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET total_questions = ?, updated_at = ? WHERE id = ?`,
		total, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job total %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

// DeleteJob removes a job and every row it owns.
func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete job")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"opportunities", "analysis_results", "sources", "raw_responses", "category_families", "job_markets"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE job_id = ?`, jobID); err != nil {
			return eris.Wrapf(err, "sqlite: delete %s for %s", table, jobID)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete job %s", jobID)
	}
	if err := checkRowsAffected(res, "job", jobID); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit delete job")
}

// --- Scope ---

func (s *SQLiteStore) ListMarkets(ctx context.Context, jobID string) ([]model.Market, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, country, language, is_primary FROM job_markets WHERE job_id = ? ORDER BY code`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list markets")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Market
	for rows.Next() {
		m := model.Market{JobID: jobID}
		if err := rows.Scan(&m.Code, &m.Country, &m.Language, &m.IsPrimary); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan market")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list markets iterate")
}

func (s *SQLiteStore) ListCategoryFamilies(ctx context.Context, jobID string) ([]model.CategoryFamily, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, names, competitors FROM category_families WHERE job_id = ? ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list families")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CategoryFamily
	for rows.Next() {
		f := model.CategoryFamily{JobID: jobID}
		var names, comps string
		if err := rows.Scan(&f.ID, &names, &comps); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan family")
		}
		if err := json.Unmarshal([]byte(names), &f.Names); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal family names")
		}
		if err := json.Unmarshal([]byte(comps), &f.Competitors); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal family competitors")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list families iterate")
}

// --- Raw responses ---

// InsertRawResponse writes a RawResponse once. It reports false when a row
// for the same (job, question, kind) already exists.
func (s *SQLiteStore) InsertRawResponse(ctx context.Context, r model.RawResponse) (bool, error) {
	answers, err := json.Marshal(nonNil(r.Answers))
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal answers")
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_responses (job_id, question_id, kind, question_text, answers, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id, question_id, kind) DO NOTHING`,
		r.JobID, r.QuestionID, string(r.Kind), r.QuestionText, string(answers), createdAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert raw response %s", r.QuestionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListRawResponses(ctx context.Context, jobID string) ([]model.RawResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, kind, question_text, answers, created_at FROM raw_responses
		 WHERE job_id = ? ORDER BY question_id, kind`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list raw responses")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RawResponse
	for rows.Next() {
		r := model.RawResponse{JobID: jobID}
		var answers string
		if err := rows.Scan(&r.QuestionID, &r.Kind, &r.QuestionText, &answers, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw response")
		}
		if err := json.Unmarshal([]byte(answers), &r.Answers); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal answers")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list raw responses iterate")
}

func (s *SQLiteStore) RawResponseKeys(ctx context.Context, jobID string) (map[model.RawKey]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT question_id, kind FROM raw_responses WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list raw keys")
	}
	defer rows.Close() //nolint:errcheck

	keys := make(map[model.RawKey]bool)
	for rows.Next() {
		var k model.RawKey
		if err := rows.Scan(&k.QuestionID, &k.Kind); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw key")
		}
		keys[k] = true
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: list raw keys iterate")
}

// --- Sources ---

// UpsertSources replaces each source by (job, url).
func (s *SQLiteStore) UpsertSources(ctx context.Context, jobID string, sources []model.Source) error {
	if len(sources) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert sources")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sources (job_id, url, domain, title, providers, citation_count, question_ids,
		                      category, confidence, reasoning, competitor, authority, channel)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id, url) DO UPDATE SET
		   domain = excluded.domain, title = excluded.title, providers = excluded.providers,
		   citation_count = excluded.citation_count, question_ids = excluded.question_ids,
		   category = excluded.category, confidence = excluded.confidence, reasoning = excluded.reasoning,
		   competitor = excluded.competitor, authority = excluded.authority, channel = excluded.channel`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert source")
	}
	defer stmt.Close() //nolint:errcheck

	for _, src := range sources {
		providers, err := json.Marshal(nonNil(src.Providers))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal source providers")
		}
		qids, err := json.Marshal(nonNil(src.QuestionIDs))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal source question ids")
		}
		var channel sql.NullString
		if src.Channel != nil {
			b, err := json.Marshal(src.Channel)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal source channel")
			}
			channel = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			jobID, src.URL, src.Domain, src.Title, string(providers), src.CitationCount, string(qids),
			string(src.Category), string(src.Confidence), src.Reasoning, src.Competitor, src.Authority, channel,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert source %s", src.URL)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert sources")
}

func (s *SQLiteStore) ListSources(ctx context.Context, jobID string) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, domain, title, providers, citation_count, question_ids, category, confidence,
		        reasoning, competitor, authority, channel
		 FROM sources WHERE job_id = ? ORDER BY url`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Source
	for rows.Next() {
		src := model.Source{JobID: jobID}
		var providers, qids string
		var channel sql.NullString
		if err := rows.Scan(&src.URL, &src.Domain, &src.Title, &providers, &src.CitationCount, &qids,
			&src.Category, &src.Confidence, &src.Reasoning, &src.Competitor, &src.Authority, &channel); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		if err := decodeSourceJSON(&src, []byte(providers), []byte(qids), []byte(channel.String)); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

// --- Analysis results ---

func (s *SQLiteStore) UpsertAnalysisResult(ctx context.Context, r model.AnalysisResult) error {
	return sqliteUpsertResult(ctx, s.db, r)
}

type sqliteExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func sqliteUpsertResult(ctx context.Context, db sqliteExecer, r model.AnalysisResult) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO analysis_results (job_id, kind, market, category, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id, kind, market, category) DO UPDATE SET data = excluded.data, created_at = excluded.created_at`,
		r.JobID, string(r.Kind), r.Market, r.Category, string(r.Data), createdAt,
	)
	return eris.Wrapf(err, "sqlite: upsert %s result for %s", r.Kind, r.JobID)
}

// SaveAnalysis commits a whole analysis pass at once.
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, jobID string, a Analysis) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save analysis")
	}
	defer tx.Rollback() //nolint:errcheck

	if a.Scored {
		if err := sqliteReplaceOpportunities(ctx, tx, jobID, a.Opportunities); err != nil {
			return err
		}
	}
	for _, r := range a.Results {
		r.JobID = jobID
		if err := sqliteUpsertResult(ctx, tx, r); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save analysis")
}

func (s *SQLiteStore) ListAnalysisResults(ctx context.Context, jobID string) ([]model.AnalysisResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, market, category, data, created_at FROM analysis_results
		 WHERE job_id = ? ORDER BY kind, market, category`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list analysis results")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AnalysisResult
	for rows.Next() {
		r := model.AnalysisResult{JobID: jobID}
		var data string
		if err := rows.Scan(&r.Kind, &r.Market, &r.Category, &data, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analysis result")
		}
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list analysis results iterate")
}

// --- Opportunities ---

// ReplaceOpportunities swaps the job's opportunity set in one transaction.
// User-owned fields carry over to opportunities with the same type, market
// and target.
func (s *SQLiteStore) ReplaceOpportunities(ctx context.Context, jobID string, opps []model.Opportunity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace opportunities")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := sqliteReplaceOpportunities(ctx, tx, jobID, opps); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace opportunities")
}

func sqliteReplaceOpportunities(ctx context.Context, tx *sql.Tx, jobID string, opps []model.Opportunity) error {
	prev, err := sqliteLoadAux(ctx, tx, jobID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM opportunities WHERE job_id = ?`, jobID); err != nil {
		return eris.Wrapf(err, "sqlite: delete opportunities for %s", jobID)
	}

	for _, o := range carryAux(opps, prev) {
		evidence, err := json.Marshal(nonNil(o.Evidence))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal evidence")
		}
		sources, err := json.Marshal(nonNil(o.Sources))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal opportunity sources")
		}
		notes, err := json.Marshal(nonNil(o.Notes))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal notes")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO opportunities (job_id, id, type, title, description, target, market, impact, effort, tier,
			                            evidence, sources, status, implemented_at, notes)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			jobID, o.ID, string(o.Type), o.Title, o.Description, o.Target, o.Market, o.Impact, o.Effort,
			string(o.Tier), string(evidence), string(sources), string(o.Status), nullTime(o.ImplementedAt), string(notes),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert opportunity %s", o.ID)
		}
	}
	return nil
}

func sqliteLoadAux(ctx context.Context, tx *sql.Tx, jobID string) (map[string]opportunityAux, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT type, market, target, status, implemented_at, notes FROM opportunities WHERE job_id = ?`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load opportunity status")
	}
	defer rows.Close() //nolint:errcheck

	prev := make(map[string]opportunityAux)
	for rows.Next() {
		var o model.Opportunity
		var aux opportunityAux
		var implementedAt sql.NullTime
		var notes string
		if err := rows.Scan(&o.Type, &o.Market, &o.Target, &aux.status, &implementedAt, &notes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan opportunity status")
		}
		aux.implementedAt = timePtr(implementedAt)
		if err := json.Unmarshal([]byte(notes), &aux.notes); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal notes")
		}
		prev[opportunityKey(o)] = aux
	}
	return prev, eris.Wrap(rows.Err(), "sqlite: load opportunity status iterate")
}

func (s *SQLiteStore) ListOpportunities(ctx context.Context, jobID string) ([]model.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, title, description, target, market, impact, effort, tier, evidence, sources,
		        status, implemented_at, notes
		 FROM opportunities WHERE job_id = ?`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list opportunities")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Opportunity
	for rows.Next() {
		o := model.Opportunity{JobID: jobID}
		var evidence, sources, notes string
		var implementedAt sql.NullTime
		if err := rows.Scan(&o.ID, &o.Type, &o.Title, &o.Description, &o.Target, &o.Market, &o.Impact,
			&o.Effort, &o.Tier, &evidence, &sources, &o.Status, &implementedAt, &notes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan opportunity")
		}
		o.ImplementedAt = timePtr(implementedAt)
		if err := decodeOpportunityJSON(&o, []byte(evidence), []byte(sources), []byte(notes)); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode opportunity")
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list opportunities iterate")
	}
	sortOpportunities(out)
	return out, nil
}

func (s *SQLiteStore) UpdateOpportunity(ctx context.Context, jobID, oppID string, upd OpportunityUpdate) error {
	var aux opportunityAux
	var implementedAt sql.NullTime
	var notes string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, implemented_at, notes FROM opportunities WHERE job_id = ? AND id = ?`,
		jobID, oppID,
	).Scan(&aux.status, &implementedAt, &notes)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "opportunity %s/%s", jobID, oppID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: get opportunity %s", oppID)
	}
	aux.implementedAt = timePtr(implementedAt)
	if err := json.Unmarshal([]byte(notes), &aux.notes); err != nil {
		return eris.Wrap(err, "sqlite: unmarshal notes")
	}

	aux, err = applyUpdate(aux, upd)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(nonNil(aux.notes))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal notes")
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE opportunities SET status = ?, implemented_at = ?, notes = ? WHERE job_id = ? AND id = ?`,
		string(aux.status), nullTime(aux.implementedAt), string(encoded), jobID, oppID,
	)
	return eris.Wrapf(err, "sqlite: update opportunity %s", oppID)
}

// --- Recovery ---

func (s *SQLiteStore) ListResumeCandidates(ctx context.Context) ([]model.ResumeCandidate, error) {
	rows, err := s.db.QueryContext(ctx, resumeCandidatesQuery)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list resume candidates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ResumeCandidate
	for rows.Next() {
		var c model.ResumeCandidate
		if err := rows.Scan(&c.JobID, &c.RawCount, &c.KindsAttempted, &c.ResultCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan resume candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list resume candidates iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var competitors, owned string
	if err := row.Scan(&j.ID, &j.Target, &j.Category, &competitors, &owned, &j.Status, &j.Progress,
		&j.TotalQuestions, &j.Processed, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeJobJSON(&j, []byte(competitors), []byte(owned)); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode job")
	}
	return &j, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
