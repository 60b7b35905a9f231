package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/trail/position"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// SQL statements.
	createPositionTableSQL   = "CREATE TABLE IF NOT EXISTS position (id TEXT PRIMARY KEY, symbol TEXT, side INTEGER, quantity REAL, entryprice REAL, exitprice REAL, stoploss REAL, takeprofit REAL, pnlpercent REAL, status INTEGER, createdon INTEGER, closedon INTEGER)"
	createMetadataTableSQL   = "CREATE TABLE IF NOT EXISTS metadata (id TEXT PRIMARY KEY, total INTEGER, wins INTEGER, winpercent REAL, losses INTEGER, losspercent REAL, createdon INTEGER)"
	persistClosedPositionSQL = "INSERT INTO position(id, symbol, side, quantity, entryprice, exitprice, stoploss, takeprofit, pnlpercent, status, createdon, closedon) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)"
	upsertMetadataSQL        = "INSERT INTO metadata(id, total, wins, winpercent, losses, losspercent, createdon) VALUES(?,1,?,?,?,?,?) ON CONFLICT(id) DO UPDATE SET total = total + 1, wins = wins + excluded.wins, winpercent = winpercent + excluded.winpercent, losses = losses + excluded.losses, losspercent = losspercent + excluded.losspercent"

	// defaultTimeout is the database request timeout.
	defaultTimeout = time.Second * 5
)

// PositionStorer defines the requirements for storing positions.
type PositionStorer interface {
	// PersistClosedPosition stores the provided closed position to the database.
	PersistClosedPosition(ctx context.Context, pos *position.ClosedPosition) error
}

// DatabaseConfig is the configuration for the database.
type DatabaseConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Logger is the database logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *DatabaseConfig) Validate() error {
	var errs error

	if cfg.Endpoint == "" {
		errs = errors.Join(errs, fmt.Errorf("database endpoint cannot be an empty string"))
	}
	if cfg.User != "" && cfg.Pass == "" {
		errs = errors.Join(errs, fmt.Errorf("database pass cannot be empty when a user is set"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Database represents the database connection.
type Database struct {
	cfg    *DatabaseConfig
	client *rqlitehttp.Client
}

// Ensure the database implements the PositionStorer interface.
var _ PositionStorer = (*Database)(nil)

// NewDatabase initializes a new database connection.
func NewDatabase(ctx context.Context, cfg *DatabaseConfig) (*Database, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating database config: %w", err)
	}

	httpc := &http.Client{Timeout: defaultTimeout}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}

	if cfg.User != "" {
		client.SetBasicAuth(cfg.User, cfg.Pass)
	}

	db := &Database{
		cfg:    cfg,
		client: client,
	}

	err = db.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping database: %w", err)
	}

	return db, nil
}

// execute runs the provided statements in a single transaction.
func (db *Database) execute(ctx context.Context, stmts rqlitehttp.SQLStatements) error {
	resp, err := db.client.Execute(ctx, stmts, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	has, idx, errStr := resp.HasError()
	if has {
		return fmt.Errorf("statement %d failed: %s", idx, errStr)
	}

	return nil
}

// bootstrap initializes the database.
func (db *Database) bootstrap(ctx context.Context) error {
	return db.execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createMetadataTableSQL},
		{SQL: createPositionTableSQL},
	})
}

// generateMetadataID generates deterministic ids for metadata using the
// year, month, week of the month and symbol.
func generateMetadataID(tm time.Time, symbol string) string {
	week := (tm.Day()-1)/7 + 1

	return fmt.Sprintf("%d-%s-Week-%d-%s", tm.Year(), tm.Month().String(), week, symbol)
}

// outcome represents the metadata contribution of a closed position.
type outcome struct {
	wins        int
	winPercent  float64
	losses      int
	lossPercent float64
}

// classifyOutcome returns the metadata contribution of the provided closed position.
func classifyOutcome(pos *position.ClosedPosition) (outcome, bool) {
	var out outcome

	if pos.Status == position.Active || math.IsNaN(pos.PNLPercent) || math.IsInf(pos.PNLPercent, 0) {
		return out, false
	}

	switch {
	case pos.PNLPercent > 0:
		out.wins = 1
		out.winPercent = pos.PNLPercent
	case pos.PNLPercent < 0:
		out.losses = 1
		out.lossPercent = pos.PNLPercent
	}

	return out, true
}

// closedPositionStatements returns the statements recording the provided
// closed position and its metadata contribution.
func closedPositionStatements(pos *position.ClosedPosition, out outcome) rqlitehttp.SQLStatements {
	closedOn := pos.ClosedOn.UTC()

	return rqlitehttp.SQLStatements{
		{
			SQL: persistClosedPositionSQL,
			PositionalParams: []any{pos.ID, pos.Symbol, int(pos.Side), pos.Quantity, pos.EntryPrice,
				pos.ExitPrice, pos.StopLoss, pos.TakeProfit, pos.PNLPercent, int(pos.Status),
				pos.CreatedOn.Unix(), closedOn.Unix()},
		},
		{
			SQL: upsertMetadataSQL,
			PositionalParams: []any{generateMetadataID(closedOn, pos.Symbol), out.wins, out.winPercent,
				out.losses, out.lossPercent, closedOn.Unix()},
		},
	}
}

// PersistClosedPosition stores the provided closed position to the database.
func (db *Database) PersistClosedPosition(ctx context.Context, pos *position.ClosedPosition) error {
	out, ok := classifyOutcome(pos)
	if !ok {
		db.cfg.Logger.Error().Msgf("unexpected closed position state for metadata calculations: %s", spew.Sdump(pos))
		return fmt.Errorf("closed position %s has an unexpected state", pos.ID)
	}

	err := db.execute(ctx, closedPositionStatements(pos, out))
	if err != nil {
		return fmt.Errorf("persisting closed position %s: %w", pos.ID, err)
	}

	db.cfg.Logger.Info().Msgf("persisted closed %s position %s for %s", pos.Side.String(), pos.ID, pos.Symbol)

	return nil
}
