package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-radar/internal/db"
	"github.com/sells-group/brand-radar/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	target          TEXT NOT NULL,
	category        TEXT NOT NULL DEFAULT '',
	competitors     JSONB NOT NULL DEFAULT '[]',
	owned_domains   JSONB NOT NULL DEFAULT '[]',
	status          TEXT NOT NULL DEFAULT 'processing',
	progress        INTEGER NOT NULL DEFAULT 0,
	total_questions INTEGER NOT NULL DEFAULT 0,
	processed       INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_markets (
	job_id     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	code       TEXT NOT NULL,
	country    TEXT NOT NULL DEFAULT '',
	language   TEXT NOT NULL DEFAULT '',
	is_primary BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (job_id, code)
);

CREATE TABLE IF NOT EXISTS category_families (
	job_id      TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	id          TEXT NOT NULL,
	names       JSONB NOT NULL DEFAULT '{}',
	competitors JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (job_id, id)
);

CREATE TABLE IF NOT EXISTS raw_responses (
	job_id        TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	question_id   TEXT NOT NULL,
	kind          TEXT NOT NULL,
	question_text TEXT NOT NULL,
	answers       JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, question_id, kind)
);

CREATE TABLE IF NOT EXISTS sources (
	job_id         TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	url            TEXT NOT NULL,
	domain         TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	providers      JSONB NOT NULL DEFAULT '[]',
	citation_count INTEGER NOT NULL DEFAULT 0,
	question_ids   JSONB NOT NULL DEFAULT '[]',
	category       TEXT NOT NULL,
	confidence     TEXT NOT NULL,
	reasoning      TEXT NOT NULL DEFAULT '',
	competitor     TEXT NOT NULL DEFAULT '',
	authority      DOUBLE PRECISION NOT NULL DEFAULT 0,
	channel        JSONB,
	PRIMARY KEY (job_id, url)
);

CREATE TABLE IF NOT EXISTS analysis_results (
	job_id     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	kind       TEXT NOT NULL,
	market     TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL DEFAULT '',
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	impact         DOUBLE PRECISION NOT NULL,
	effort         DOUBLE PRECISION NOT NULL,
	tier           TEXT NOT NULL,
	evidence       JSONB NOT NULL DEFAULT '[]',
	sources        JSONB NOT NULL DEFAULT '[]',
	status         TEXT NOT NULL DEFAULT 'open',
	implemented_at TIMESTAMPTZ,
	notes          JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (job_id, id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_target ON jobs(target);
CREATE INDEX IF NOT EXISTS idx_sources_domain ON sources(job_id, domain);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, spec model.JobSpec) (*model.Job, error) {
	job := newJob(spec)

	competitors, err := json.Marshal(job.Competitors)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal competitors")
	}
	owned, err := json.Marshal(job.OwnedDomains)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal owned domains")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create job")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO jobs (id, target, category, competitors, owned_domains, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.Target, job.Category, competitors, owned, string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	for _, m := range spec.Markets {
		_, err = tx.Exec(ctx,
			`INSERT INTO job_markets (job_id, code, country, language, is_primary) VALUES ($1, $2, $3, $4, $5)`,
			job.ID, m.Code, m.Country, m.Language, m.IsPrimary,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: insert market %s", m.Code)
		}
	}

	for _, f := range spec.Families {
		names, err := json.Marshal(f.Names)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal family names")
		}
		comps, err := json.Marshal(f.Competitors)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal family competitors")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO category_families (job_id, id, names, competitors) VALUES ($1, $2, $3, $4)`,
			job.ID, f.ID, names, comps,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: insert family %s", f.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create job")
	}
	return job, nil
}

const pgJobColumns = `id, target, category, competitors, owned_domains, status, progress, total_questions, processed, error, created_at, updated_at`

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanPgJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	query := `SELECT ` + pgJobColumns + ` FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Target != "" {
		query += fmt.Sprintf(` AND target = $%d`, argIdx)
		args = append(args, filter.Target)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// UpdateJobStatus moves a processing job to a new status. Terminal jobs are
// never modified.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error {
	query := `UPDATE jobs SET status = $1, error = $2, updated_at = $3 WHERE id = $4 AND status = 'processing'`
	args := []any{string(status), errMsg, time.Now().UTC(), jobID}
	if status == model.JobStatusCompleted {
		query = `UPDATE jobs SET status = $1, error = $2, updated_at = $3, progress = 100 WHERE id = $4 AND status = 'processing'`
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "processing job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, jobID string, processed, progress int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET processed = $1, progress = $2, updated_at = $3 WHERE id = $4`,
		processed, progress, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job progress %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) SetJobTotal(ctx context.Context, jobID string, total int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET total_questions = $1, updated_at = $2 WHERE id = $3`,
		total, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job total %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

// DeleteJob removes a job; child rows go with it through ON DELETE CASCADE.
func (s *PostgresStore) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

// --- Scope ---

func (s *PostgresStore) ListMarkets(ctx context.Context, jobID string) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code, country, language, is_primary FROM job_markets WHERE job_id = $1 ORDER BY code`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list markets")
	}
	defer rows.Close()

	var out []model.Market
	for rows.Next() {
		m := model.Market{JobID: jobID}
		if err := rows.Scan(&m.Code, &m.Country, &m.Language, &m.IsPrimary); err != nil {
			return nil, eris.Wrap(err, "postgres: scan market")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list markets iterate")
}

func (s *PostgresStore) ListCategoryFamilies(ctx context.Context, jobID string) ([]model.CategoryFamily, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, names, competitors FROM category_families WHERE job_id = $1 ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list families")
	}
	defer rows.Close()

	var out []model.CategoryFamily
	for rows.Next() {
		f := model.CategoryFamily{JobID: jobID}
		var names, comps []byte
		if err := rows.Scan(&f.ID, &names, &comps); err != nil {
			return nil, eris.Wrap(err, "postgres: scan family")
		}
		if err := json.Unmarshal(names, &f.Names); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal family names")
		}
		if err := json.Unmarshal(comps, &f.Competitors); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal family competitors")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list families iterate")
}

// --- Raw responses ---

// InsertRawResponse writes a RawResponse once. It reports false when a row
// for the same (job, question, kind) already exists.
func (s *PostgresStore) InsertRawResponse(ctx context.Context, r model.RawResponse) (bool, error) {
	answers, err := json.Marshal(nonNil(r.Answers))
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal answers")
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO raw_responses (job_id, question_id, kind, question_text, answers, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (job_id, question_id, kind) DO NOTHING`,
		r.JobID, r.QuestionID, string(r.Kind), r.QuestionText, answers, createdAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert raw response %s", r.QuestionID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListRawResponses(ctx context.Context, jobID string) ([]model.RawResponse, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT question_id, kind, question_text, answers, created_at FROM raw_responses
		 WHERE job_id = $1 ORDER BY question_id, kind`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list raw responses")
	}
	defer rows.Close()

	var out []model.RawResponse
	for rows.Next() {
		r := model.RawResponse{JobID: jobID}
		var answers []byte
		if err := rows.Scan(&r.QuestionID, &r.Kind, &r.QuestionText, &answers, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw response")
		}
		if err := json.Unmarshal(answers, &r.Answers); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal answers")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list raw responses iterate")
}

func (s *PostgresStore) RawResponseKeys(ctx context.Context, jobID string) (map[model.RawKey]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT question_id, kind FROM raw_responses WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list raw keys")
	}
	defer rows.Close()

	keys := make(map[model.RawKey]bool)
	for rows.Next() {
		var k model.RawKey
		if err := rows.Scan(&k.QuestionID, &k.Kind); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw key")
		}
		keys[k] = true
	}
	return keys, eris.Wrap(rows.Err(), "postgres: list raw keys iterate")
}

// --- Sources ---

var sourceColumns = []string{
	"job_id", "url", "domain", "title", "providers", "citation_count", "question_ids",
	"category", "confidence", "reasoning", "competitor", "authority", "channel",
}

// UpsertSources replaces each source by (job, url).
func (s *PostgresStore) UpsertSources(ctx context.Context, jobID string, sources []model.Source) error {
	rows := make([][]any, 0, len(sources))
	for _, src := range sources {
		providers, err := json.Marshal(nonNil(src.Providers))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal source providers")
		}
		qids, err := json.Marshal(nonNil(src.QuestionIDs))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal source question ids")
		}
		var channel []byte
		if src.Channel != nil {
			if channel, err = json.Marshal(src.Channel); err != nil {
				return eris.Wrap(err, "postgres: marshal source channel")
			}
		}
		rows = append(rows, []any{
			jobID, src.URL, src.Domain, src.Title, providers, src.CitationCount, qids,
			string(src.Category), string(src.Confidence), src.Reasoning, src.Competitor, src.Authority, channel,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "sources",
		Columns:      sourceColumns,
		ConflictKeys: []string{"job_id", "url"},
	}, rows)
	return eris.Wrapf(err, "postgres: upsert sources for %s", jobID)
}

func (s *PostgresStore) ListSources(ctx context.Context, jobID string) ([]model.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT url, domain, title, providers, citation_count, question_ids, category, confidence,
		        reasoning, competitor, authority, channel
		 FROM sources WHERE job_id = $1 ORDER BY url`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		src := model.Source{JobID: jobID}
		var providers, qids, channel []byte
		if err := rows.Scan(&src.URL, &src.Domain, &src.Title, &providers, &src.CitationCount, &qids,
			&src.Category, &src.Confidence, &src.Reasoning, &src.Competitor, &src.Authority, &channel); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		if err := decodeSourceJSON(&src, providers, qids, channel); err != nil {
			return nil, eris.Wrap(err, "postgres: decode source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

// --- Analysis results ---

func (s *PostgresStore) UpsertAnalysisResult(ctx context.Context, r model.AnalysisResult) error {
	return pgUpsertResult(ctx, s.pool, r)
}

func pgUpsertResult(ctx context.Context, ex db.Execer, r model.AnalysisResult) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := ex.Exec(ctx,
		`INSERT INTO analysis_results (job_id, kind, market, category, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (job_id, kind, market, category) DO UPDATE SET data = $5, created_at = $6`,
		r.JobID, string(r.Kind), r.Market, r.Category, []byte(r.Data), createdAt,
	)
	return eris.Wrapf(err, "postgres: upsert %s result for %s", r.Kind, r.JobID)
}

// SaveAnalysis commits a whole analysis pass at once.
func (s *PostgresStore) SaveAnalysis(ctx context.Context, jobID string, a Analysis) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save analysis")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if a.Scored {
		if err := pgReplaceOpportunities(ctx, tx, jobID, a.Opportunities); err != nil {
			return err
		}
	}
	for _, r := range a.Results {
		r.JobID = jobID
		if err := pgUpsertResult(ctx, tx, r); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save analysis")
}

func (s *PostgresStore) ListAnalysisResults(ctx context.Context, jobID string) ([]model.AnalysisResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, market, category, data, created_at FROM analysis_results
		 WHERE job_id = $1 ORDER BY kind, market, category`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list analysis results")
	}
	defer rows.Close()

	var out []model.AnalysisResult
	for rows.Next() {
		r := model.AnalysisResult{JobID: jobID}
		var data []byte
		if err := rows.Scan(&r.Kind, &r.Market, &r.Category, &data, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis result")
		}
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list analysis results iterate")
}

// --- Opportunities ---

var opportunityColumns = []string{
	"job_id", "id", "type", "title", "description", "target", "market", "impact", "effort", "tier",
	"evidence", "sources", "status", "implemented_at", "notes",
}

// ReplaceOpportunities swaps the job's opportunity set in one transaction.
// User-owned fields carry over to opportunities with the same type, market
// and target.
func (s *PostgresStore) ReplaceOpportunities(ctx context.Context, jobID string, opps []model.Opportunity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace opportunities")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := pgReplaceOpportunities(ctx, tx, jobID, opps); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace opportunities")
}

func pgReplaceOpportunities(ctx context.Context, tx pgx.Tx, jobID string, opps []model.Opportunity) error {
	prev, err := pgLoadAux(ctx, tx, jobID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM opportunities WHERE job_id = $1`, jobID); err != nil {
		return eris.Wrapf(err, "postgres: delete opportunities for %s", jobID)
	}

	rows := make([][]any, 0, len(opps))
	for _, o := range carryAux(opps, prev) {
		evidence, err := json.Marshal(nonNil(o.Evidence))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal evidence")
		}
		sources, err := json.Marshal(nonNil(o.Sources))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal opportunity sources")
		}
		notes, err := json.Marshal(nonNil(o.Notes))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal notes")
		}
		rows = append(rows, []any{
			jobID, o.ID, string(o.Type), o.Title, o.Description, o.Target, o.Market, o.Impact, o.Effort,
			string(o.Tier), evidence, sources, string(o.Status), o.ImplementedAt, notes,
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "opportunities", opportunityColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: insert opportunities for %s", jobID)
	}
	return nil
}

func pgLoadAux(ctx context.Context, tx pgx.Tx, jobID string) (map[string]opportunityAux, error) {
	rows, err := tx.Query(ctx,
		`SELECT type, market, target, status, implemented_at, notes FROM opportunities WHERE job_id = $1`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load opportunity status")
	}
	defer rows.Close()

	prev := make(map[string]opportunityAux)
	for rows.Next() {
		var o model.Opportunity
		var aux opportunityAux
		var notes []byte
		if err := rows.Scan(&o.Type, &o.Market, &o.Target, &aux.status, &aux.implementedAt, &notes); err != nil {
			return nil, eris.Wrap(err, "postgres: scan opportunity status")
		}
		if err := json.Unmarshal(notes, &aux.notes); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal notes")
		}
		prev[opportunityKey(o)] = aux
	}
	return prev, eris.Wrap(rows.Err(), "postgres: load opportunity status iterate")
}

func (s *PostgresStore) ListOpportunities(ctx context.Context, jobID string) ([]model.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, title, description, target, market, impact, effort, tier, evidence, sources,
		        status, implemented_at, notes
		 FROM opportunities WHERE job_id = $1`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list opportunities")
	}
	defer rows.Close()

	var out []model.Opportunity
	for rows.Next() {
		o := model.Opportunity{JobID: jobID}
		var evidence, sources, notes []byte
		if err := rows.Scan(&o.ID, &o.Type, &o.Title, &o.Description, &o.Target, &o.Market, &o.Impact,
			&o.Effort, &o.Tier, &evidence, &sources, &o.Status, &o.ImplementedAt, &notes); err != nil {
			return nil, eris.Wrap(err, "postgres: scan opportunity")
		}
		if err := decodeOpportunityJSON(&o, evidence, sources, notes); err != nil {
			return nil, eris.Wrap(err, "postgres: decode opportunity")
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list opportunities iterate")
	}
	sortOpportunities(out)
	return out, nil
}

func (s *PostgresStore) UpdateOpportunity(ctx context.Context, jobID, oppID string, upd OpportunityUpdate) error {
	var aux opportunityAux
	var notes []byte
	err := s.pool.QueryRow(ctx,
		`SELECT status, implemented_at, notes FROM opportunities WHERE job_id = $1 AND id = $2`,
		jobID, oppID,
	).Scan(&aux.status, &aux.implementedAt, &notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "opportunity %s/%s", jobID, oppID)
		}
		return eris.Wrapf(err, "postgres: get opportunity %s", oppID)
	}
	if err := json.Unmarshal(notes, &aux.notes); err != nil {
		return eris.Wrap(err, "postgres: unmarshal notes")
	}

	aux, err = applyUpdate(aux, upd)
	if err != nil {
		return err
	}
	notes, err = json.Marshal(nonNil(aux.notes))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal notes")
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE opportunities SET status = $1, implemented_at = $2, notes = $3 WHERE job_id = $4 AND id = $5`,
		string(aux.status), aux.implementedAt, notes, jobID, oppID,
	)
	return eris.Wrapf(err, "postgres: update opportunity %s", oppID)
}

// --- Recovery ---

const resumeCandidatesQuery = `
SELECT j.id,
       (SELECT count(*) FROM raw_responses r WHERE r.job_id = j.id),
       (SELECT count(DISTINCT r.kind) FROM raw_responses r WHERE r.job_id = j.id),
       (SELECT count(DISTINCT a.kind) FROM analysis_results a WHERE a.job_id = j.id)
FROM jobs j
WHERE j.status = 'processing'
ORDER BY j.created_at, j.id`

func (s *PostgresStore) ListResumeCandidates(ctx context.Context) ([]model.ResumeCandidate, error) {
	rows, err := s.pool.Query(ctx, resumeCandidatesQuery)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list resume candidates")
	}
	defer rows.Close()

	var out []model.ResumeCandidate
	for rows.Next() {
		var c model.ResumeCandidate
		if err := rows.Scan(&c.JobID, &c.RawCount, &c.KindsAttempted, &c.ResultCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan resume candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list resume candidates iterate")
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var competitors, owned []byte
	if err := row.Scan(&j.ID, &j.Target, &j.Category, &competitors, &owned, &j.Status, &j.Progress,
		&j.TotalQuestions, &j.Processed, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeJobJSON(&j, competitors, owned); err != nil {
		return nil, eris.Wrap(err, "postgres: decode job")
	}
	return &j, nil
}

func newJob(spec model.JobSpec) *model.Job {
	now := time.Now().UTC()
	return &model.Job{
		ID:           uuid.New().String(),
		Target:       spec.Target,
		Category:     spec.Category,
		Competitors:  nonNil(spec.Competitors),
		OwnedDomains: nonNil(spec.OwnedDomains),
		Status:       model.JobStatusProcessing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
