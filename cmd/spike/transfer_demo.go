// Ledger transfer walkthrough against a real PostgreSQL instance: moves
// funds between two accounts inside a transaction template, writes an
// audit record in a REQUIRES_NEW transaction, and shows that the audit
// record survives when the transfer itself rolls back.
//
// Requires DATABASE_URL; creates its own demo tables.
package main

import (
	"context"
	"fmt"
	"os"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/shopspring/decimal"

	"txflow/internal/core/txn"
	"txflow/internal/infrastructure/storage/postgres"
	"txflow/pkg/logger"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type account struct {
	ID      string          `db:"id"`
	Balance decimal.Decimal `db:"balance"`
}

type ledgerDemo struct {
	resources *postgres.ResourceManager
	transfers *txn.Template
	audits    *txn.Template
}

func main() {
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "debug"),
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	ctx := logger.WithLogger(context.Background(), log)

	dsn := getEnv("DATABASE_URL", "postgres://localhost:5432/txflow?sslmode=disable")
	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dsn))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	resources := postgres.NewResourceManager(pool)
	coordinator := txn.NewCoordinator(resources, txn.WithDefaultTimeout(30))

	demo := &ledgerDemo{
		resources: resources,
		transfers: txn.NewTemplate(coordinator, txn.WithDefinition(txn.NewDefinition(
			txn.WithName("ledger.transfer"),
			txn.WithIsolation(txn.IsolationReadCommitted),
		))),
		audits: txn.NewTemplate(coordinator, txn.WithDefinition(txn.NewDefinition(
			txn.WithPropagation(txn.PropagationRequiresNew),
			txn.WithName("ledger.audit"),
		))),
	}

	if err := demo.setup(ctx); err != nil {
		log.Fatalw("failed to set up demo tables", "error", err)
	}

	// A transfer that fits the balance commits normally.
	if err := demo.transfer(ctx, "alice", "bob", decimal.NewFromInt(40)); err != nil {
		log.Fatalw("transfer failed", "error", err)
	}

	// A transfer exceeding the balance rolls back, but its audit record
	// was written in a REQUIRES_NEW transaction and survives.
	err = demo.transfer(ctx, "alice", "bob", decimal.NewFromInt(1000))
	log.Infow("oversized transfer rejected as expected", "error", err)

	demo.report(ctx)
}

func (d *ledgerDemo) setup(ctx context.Context) error {
	statements := []string{
		`DROP TABLE IF EXISTS demo_accounts, demo_transfer_audit`,
		`CREATE TABLE demo_accounts (id text PRIMARY KEY, balance numeric NOT NULL)`,
		`CREATE TABLE demo_transfer_audit (
			id bigserial PRIMARY KEY,
			source text NOT NULL,
			destination text NOT NULL,
			amount numeric NOT NULL,
			requested_at timestamptz NOT NULL DEFAULT now()
		)`,
		`INSERT INTO demo_accounts (id, balance) VALUES ('alice', 100), ('bob', 0)`,
	}
	for _, stmt := range statements {
		if _, err := d.resources.QuerierFrom(ctx).Exec(ctx, stmt); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	return nil
}

func (d *ledgerDemo) transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	return d.transfers.ExecuteWithoutResult(ctx, func(ctx context.Context, _ *txn.Status) error {
		// Audit every attempt, committed independently of the outcome.
		if err := d.recordAudit(ctx, from, to, amount); err != nil {
			return err
		}

		q := d.resources.QuerierFrom(ctx)

		query, args, err := psql.Select("id", "balance").
			From("demo_accounts").
			Where(sq.Eq{"id": from}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return err
		}
		var src account
		if err := pgxscan.Get(ctx, q, &src, query, args...); err != nil {
			return fmt.Errorf("load source account: %w", err)
		}
		if src.Balance.LessThan(amount) {
			return fmt.Errorf("insufficient funds on %s: have %s, need %s",
				from, src.Balance, amount)
		}

		for id, delta := range map[string]decimal.Decimal{from: amount.Neg(), to: amount} {
			query, args, err := psql.Update("demo_accounts").
				Set("balance", sq.Expr("balance + ?", delta)).
				Where(sq.Eq{"id": id}).
				ToSql()
			if err != nil {
				return err
			}
			if _, err := q.Exec(ctx, query, args...); err != nil {
				return fmt.Errorf("apply delta to %s: %w", id, err)
			}
		}

		logger.Info(ctx, "transfer applied", "from", from, "to", to, "amount", amount)
		return nil
	})
}

func (d *ledgerDemo) recordAudit(ctx context.Context, from, to string, amount decimal.Decimal) error {
	return d.audits.ExecuteWithoutResult(ctx, func(ctx context.Context, _ *txn.Status) error {
		query, args, err := psql.Insert("demo_transfer_audit").
			Columns("source", "destination", "amount").
			Values(from, to, amount).
			ToSql()
		if err != nil {
			return err
		}
		_, err = d.resources.QuerierFrom(ctx).Exec(ctx, query, args...)
		return err
	})
}

func (d *ledgerDemo) report(ctx context.Context) {
	var accounts []account
	query, args, _ := psql.Select("id", "balance").
		From("demo_accounts").
		OrderBy("id").
		ToSql()
	if err := pgxscan.Select(ctx, d.resources.QuerierFrom(ctx), &accounts, query, args...); err != nil {
		logger.Error(ctx, "failed to read balances", "error", err)
		return
	}
	for _, acc := range accounts {
		logger.Info(ctx, "final balance", "account", acc.ID, "balance", acc.Balance)
	}

	var audits int
	row := d.resources.QuerierFrom(ctx).QueryRow(ctx, "SELECT count(*) FROM demo_transfer_audit")
	if err := row.Scan(&audits); err != nil {
		logger.Error(ctx, "failed to count audit records", "error", err)
		return
	}
	logger.Info(ctx, "audit records (one per attempt, rollbacks included)", "count", audits)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
