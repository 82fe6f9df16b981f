// Package pgengine runs tests on an engine hosted in Postgres.
//
// Runs are invoked with plain SQL statements. The engine appends the events of a
// run to an outbox table keyed by reporter id and signals new rows with NOTIFY on
// a per-run channel. The event source LISTENs first and then reads the outbox, so
// events written before it connected are not lost.
package pgengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethereum-optimism/infra/ut-runner/engine"
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

const (
	DefaultChannelPrefix   = "ut_events_"
	DefaultVersionQuery    = "SELECT ut_runner.version()"
	DefaultRunQuery        = "CALL ut_runner.run($1, $2)"
	DefaultCoverageRun     = "CALL ut_runner.run_with_coverage($1, $2, $3, $4, $5)"
	DefaultCoverageQuery   = "SELECT ut_runner.coverage_report($1)"
	DefaultEventsQuery     = "SELECT seq, payload FROM ut_runner.events WHERE reporter_id = $1 AND seq > $2 ORDER BY seq"
	maxChannelNameLength   = 63
	channelPrefixMaxLength = maxChannelNameLength - 32
)

// Config holds the connection and the statements used to drive the engine.
// Empty statements fall back to the defaults.
type Config struct {
	URL           string `toml:"url"`
	ChannelPrefix string `toml:"channel_prefix"`
	VersionQuery  string `toml:"version_query"`
	RunQuery      string `toml:"run_query"`
	CoverageRun   string `toml:"coverage_run_query"`
	CoverageQuery string `toml:"coverage_query"`
	EventsQuery   string `toml:"events_query"`
}

func (c Config) withDefaults() Config {
	if c.ChannelPrefix == "" {
		c.ChannelPrefix = DefaultChannelPrefix
	}
	if c.VersionQuery == "" {
		c.VersionQuery = DefaultVersionQuery
	}
	if c.RunQuery == "" {
		c.RunQuery = DefaultRunQuery
	}
	if c.CoverageRun == "" {
		c.CoverageRun = DefaultCoverageRun
	}
	if c.CoverageQuery == "" {
		c.CoverageQuery = DefaultCoverageQuery
	}
	if c.EventsQuery == "" {
		c.EventsQuery = DefaultEventsQuery
	}
	return c
}

// Validate checks the configuration before connecting
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("pgengine: url is required")
	}
	if len(c.ChannelPrefix) > channelPrefixMaxLength {
		return fmt.Errorf("pgengine: channel prefix longer than %d characters", channelPrefixMaxLength)
	}
	return nil
}

// Engine drives a Postgres hosted test engine through a connection pool
type Engine struct {
	pool *pgxpool.Pool
	cfg  Config
	log  log.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New connects a pool to the engine database. The connection is verified lazily
// by the first Version call.
func New(ctx context.Context, cfg Config, lgr log.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("pgengine: connect: %w", err)
	}
	return &Engine{pool: pool, cfg: cfg, log: lgr}, nil
}

func (e *Engine) Close() {
	e.pool.Close()
}

func (e *Engine) Version(ctx context.Context) (string, error) {
	var version string
	if err := e.pool.QueryRow(ctx, e.cfg.VersionQuery).Scan(&version); err != nil {
		return "", fmt.Errorf("pgengine: version: %w", err)
	}
	return version, nil
}

func (e *Engine) RunTests(ctx context.Context, reporterID string, paths []string) error {
	if _, err := e.pool.Exec(ctx, e.cfg.RunQuery, reporterID, paths); err != nil {
		return fmt.Errorf("pgengine: run %s: %w", reporterID, err)
	}
	return nil
}

func (e *Engine) RunTestsWithCoverage(ctx context.Context, reporterID string, paths []string, opts engine.CoverageOptions) error {
	_, err := e.pool.Exec(ctx, e.cfg.CoverageRun, reporterID, paths,
		nonNil(opts.Schemas), nonNil(opts.Includes), nonNil(opts.Excludes))
	if err != nil {
		return fmt.Errorf("pgengine: coverage run %s: %w", reporterID, err)
	}
	return nil
}

func (e *Engine) CoverageReport(ctx context.Context, reporterID string) (string, error) {
	var report string
	if err := e.pool.QueryRow(ctx, e.cfg.CoverageQuery, reporterID).Scan(&report); err != nil {
		return "", fmt.Errorf("pgengine: coverage report %s: %w", reporterID, err)
	}
	return report, nil
}

func (e *Engine) Events(reporterID string) engine.EventSource {
	return &notifySource{
		engine:     e,
		reporterID: reporterID,
		channel:    ChannelName(e.cfg.ChannelPrefix, reporterID),
	}
}

// ChannelName returns the NOTIFY channel of a run
func ChannelName(prefix string, reporterID string) string {
	name := prefix + strings.ToLower(reporterID)
	if len(name) > maxChannelNameLength {
		name = name[:maxChannelNameLength]
	}
	return name
}

// nonNil keeps empty lists from being sent as SQL NULL
func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

type notifySource struct {
	engine     *Engine
	reporterID string
	channel    string
}

func (s *notifySource) Consume(ctx context.Context, onEvent func(types.Event)) error {
	conn, err := s.engine.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("pgengine: acquire listen connection: %w", err)
	}
	defer conn.Release()

	listen := "LISTEN " + pgx.Identifier{s.channel}.Sanitize()
	if _, err := conn.Exec(ctx, listen); err != nil {
		return fmt.Errorf("pgengine: listen %s: %w", s.channel, err)
	}
	defer func() {
		// the connection goes back to the pool, so it must stop listening
		if _, err := conn.Exec(context.Background(), "UNLISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
			s.engine.log.Warn("Failed to unlisten", "channel", s.channel, "err", err)
			conn.Conn().Close(context.Background())
		}
	}()

	var lastSeq int64
	for {
		done, err := s.readOutbox(ctx, conn.Conn(), &lastSeq, onEvent)
		if err != nil || done {
			return err
		}
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("pgengine: wait for notification: %w", err)
		}
	}
}

// readOutbox delivers all outbox rows after lastSeq and reports whether post-run was among them
func (s *notifySource) readOutbox(ctx context.Context, conn *pgx.Conn, lastSeq *int64, onEvent func(types.Event)) (bool, error) {
	rows, err := conn.Query(ctx, s.engine.cfg.EventsQuery, s.reporterID, *lastSeq)
	if err != nil {
		return false, fmt.Errorf("pgengine: read events: %w", err)
	}
	type row struct {
		seq     int64
		payload string
	}
	var pending []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.seq, &r.payload); err != nil {
			rows.Close()
			return false, fmt.Errorf("pgengine: scan event: %w", err)
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("pgengine: read events: %w", err)
	}

	for _, r := range pending {
		*lastSeq = r.seq
		if engine.Dispatch(s.engine.log, []byte(r.payload), onEvent) {
			return true, nil
		}
	}
	return false, nil
}
