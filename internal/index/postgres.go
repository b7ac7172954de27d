package index

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"Provability/internal/address"
	"Provability/internal/escrow"
	"Provability/internal/logger"
	"Provability/internal/protocol"
)

//go:embed schema.sql
var schemaFile embed.FS

// PostgresConfig holds connection settings.
type PostgresConfig struct {
	URL            string
	MaxConnections int
	MaxIdle        int
	ConnMaxLife    time.Duration
}

// Postgres is an Indexer backed by PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects, checks the connection and applies the embedded schema.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database:\n%w", err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.ConnMaxLife > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLife)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database:\n%w", err)
	}

	p := &Postgres{db: db}

	if err := p.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("metadata index connected")

	return p, nil
}

// initSchema creates the tables if they do not exist.
func (p *Postgres) initSchema(ctx context.Context) error {
	schema, err := schemaFile.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema:\n%w", err)
	}

	if _, err := p.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("apply schema:\n%w", err)
	}

	return nil
}

// Apply upserts the event's records and appends it to the event log in one transaction.
func (p *Postgres) Apply(ctx context.Context, ev escrow.Event) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin:\n%w", err)
	}
	defer tx.Rollback()

	var bountyAddr, subAddr any

	if b := ev.Bounty; b != nil {
		bountyAddr = b.Address.String()
		if err := upsertBounty(ctx, tx, b); err != nil {
			return err
		}
	}

	if s := ev.Submission; s != nil {
		subAddr = s.Address.String()
		if err := upsertSubmission(ctx, tx, s); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO escrow_events (kind, bounty, submission, at) VALUES ($1, $2, $3, $4)",
		ev.Kind.String(), bountyAddr, subAddr, ev.At,
	)
	if err != nil {
		return fmt.Errorf("insert event:\n%w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit:\n%w", err)
	}

	return nil
}

func upsertBounty(ctx context.Context, tx *sql.Tx, b *protocol.Bounty) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bounties (address, creator, vault, amount, deadline_ts, created_ts, closed_ts, n, scale,
			threshold_t2, eval_spec_hash, testset_commitment, allowed_measurement, allowed_attester, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
		ON CONFLICT (address) DO UPDATE SET
			amount = EXCLUDED.amount,
			closed_ts = EXCLUDED.closed_ts,
			state = EXCLUDED.state,
			updated_at = NOW()
	`, b.Address.String(), b.Creator.String(), b.Vault.String(), strconv.FormatUint(b.Amount, 10),
		b.DeadlineTs, b.CreatedTs, b.ClosedTs, b.N, b.Scale,
		b.ThresholdT2.String(), b.EvalSpecHash.String(), b.TestsetCommitment.String(),
		b.AllowedMeasurement.String(), b.AllowedAttester.String(), b.State.String())
	if err != nil {
		return fmt.Errorf("upsert bounty %s:\n%w", b.Address.Short(), err)
	}

	return nil
}

func upsertSubmission(ctx context.Context, tx *sql.Tx, s *protocol.Submission) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO submissions (address, bounty, solver, preds_hash, data_uri, created_ts, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (address) DO UPDATE SET
			preds_hash = EXCLUDED.preds_hash,
			data_uri = EXCLUDED.data_uri,
			created_ts = EXCLUDED.created_ts,
			state = EXCLUDED.state,
			updated_at = NOW()
	`, s.Address.String(), s.Bounty.String(), s.Solver.String(), s.PredsHash.String(),
		s.DataURI, s.CreatedTs, s.State.String())
	if err != nil {
		return fmt.Errorf("upsert submission %s:\n%w", s.Address.Short(), err)
	}

	return nil
}

// BountiesByCreator lists a creator's bounties, newest first.
func (p *Postgres) BountiesByCreator(ctx context.Context, creator address.Address) ([]*protocol.Bounty, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT address, creator, vault, amount, deadline_ts, created_ts, closed_ts, n, scale,
			threshold_t2, eval_spec_hash, testset_commitment, allowed_measurement, allowed_attester, state
		FROM bounties WHERE creator = $1 ORDER BY created_ts DESC, address
	`, creator.String())
	if err != nil {
		return nil, fmt.Errorf("query bounties:\n%w", err)
	}
	defer rows.Close()

	var out []*protocol.Bounty

	for rows.Next() {
		var (
			b                                        protocol.Bounty
			addr, creatorHex, vault, amount, t2      string
			spec, testset, measurement, attester, st string
		)

		err := rows.Scan(&addr, &creatorHex, &vault, &amount, &b.DeadlineTs, &b.CreatedTs, &b.ClosedTs,
			&b.N, &b.Scale, &t2, &spec, &testset, &measurement, &attester, &st)
		if err != nil {
			return nil, fmt.Errorf("scan bounty:\n%w", err)
		}

		b.Amount, err = strconv.ParseUint(amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse amount:\n%w", err)
		}

		err = decodeText(
			&b.Address, addr, &b.Creator, creatorHex, &b.Vault, vault, &b.ThresholdT2, t2,
			&b.EvalSpecHash, spec, &b.TestsetCommitment, testset, &b.AllowedMeasurement, measurement,
			&b.AllowedAttester, attester, &b.State, st,
		)
		if err != nil {
			return nil, err
		}

		out = append(out, &b)
	}

	return out, rows.Err()
}

// SubmissionsByBounty lists a bounty's submissions, oldest first.
func (p *Postgres) SubmissionsByBounty(ctx context.Context, bounty address.Address) ([]*protocol.Submission, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT address, bounty, solver, preds_hash, data_uri, created_ts, state
		FROM submissions WHERE bounty = $1 ORDER BY created_ts, address
	`, bounty.String())
	if err != nil {
		return nil, fmt.Errorf("query submissions:\n%w", err)
	}
	defer rows.Close()

	var out []*protocol.Submission

	for rows.Next() {
		var (
			s                                  protocol.Submission
			addr, bountyHex, solver, preds, st string
		)

		if err := rows.Scan(&addr, &bountyHex, &solver, &preds, &s.DataURI, &s.CreatedTs, &st); err != nil {
			return nil, fmt.Errorf("scan submission:\n%w", err)
		}

		err := decodeText(&s.Address, addr, &s.Bounty, bountyHex, &s.Solver, solver, &s.PredsHash, preds, &s.State, st)
		if err != nil {
			return nil, err
		}

		out = append(out, &s)
	}

	return out, rows.Err()
}

// textUnmarshaler is implemented by every record field stored as text.
type textUnmarshaler interface {
	UnmarshalText(text []byte) error
}

// decodeText takes (target, text) pairs and unmarshals each text into its target.
func decodeText(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		dst := pairs[i].(textUnmarshaler)
		if err := dst.UnmarshalText([]byte(pairs[i+1].(string))); err != nil {
			return fmt.Errorf("decode column:\n%w", err)
		}
	}

	return nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
