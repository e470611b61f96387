// Package sqlmodel loads the group model from a SQL database.
package sqlmodel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the sqlite driver

	"github.com/wrogo/wro/pkg/logger"
	"github.com/wrogo/wro/pkg/model"
	"github.com/wrogo/wro/pkg/resource"
)

var tracer = otel.Tracer("pkg/model/sqlmodel")

const (
	EngineSqlite   = "sqlite"
	EnginePostgres = "postgres"
	EngineMySQL    = "mysql"

	groupsTable  = "wro_groups"
	membersTable = "wro_group_members"
)

var ErrUnsupportedEngine = errors.New("unsupported datastore engine")

// Config describes the database holding the model.
type Config struct {
	Engine   string
	URI      string
	Username string
	Password string

	MaxOpenConns int
	// ConnectTimeout bounds the retries of the initial ping.
	ConnectTimeout time.Duration

	Logger logger.Logger
}

// Factory is a model.Factory reading the wro_groups and wro_group_members
// tables. Members are ordered by their position.
type Factory struct {
	db     *sql.DB
	stbl   sq.StatementBuilderType
	logger logger.Logger
}

var _ model.Factory = (*Factory)(nil)

// driverName returns the database/sql driver registered for engine.
func driverName(engine string) (string, error) {
	switch engine {
	case EngineSqlite:
		return "sqlite", nil
	case EnginePostgres:
		return "pgx", nil
	case EngineMySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("%w '%s'", ErrUnsupportedEngine, engine)
	}
}

// PrepareURI applies the credentials overrides and the engine specific
// connection settings to cfg.URI.
func PrepareURI(cfg Config) (string, error) {
	switch cfg.Engine {
	case EngineSqlite:
		return PrepareSqliteDSN(cfg.URI)
	case EngineMySQL:
		dsn, err := mysql.ParseDSN(cfg.URI)
		if err != nil {
			return "", fmt.Errorf("invalid mysql database uri: %v", err)
		}
		if cfg.Username != "" {
			dsn.User = cfg.Username
		}
		if cfg.Password != "" {
			dsn.Passwd = cfg.Password
		}
		dsn.ParseTime = true
		return dsn.FormatDSN(), nil
	case EnginePostgres:
		if cfg.Username == "" && cfg.Password == "" {
			return cfg.URI, nil
		}
		u, err := url.Parse(cfg.URI)
		if err != nil {
			return "", fmt.Errorf("invalid postgres database uri: %v", err)
		}
		username, password := cfg.Username, cfg.Password
		if u.User != nil {
			if username == "" {
				username = u.User.Username()
			}
			if p, ok := u.User.Password(); ok && password == "" {
				password = p
			}
		}
		u.User = url.UserPassword(username, password)
		return u.String(), nil
	default:
		return "", fmt.Errorf("%w '%s'", ErrUnsupportedEngine, cfg.Engine)
	}
}

// PrepareSqliteDSN enables WAL journaling and a busy timeout unless the
// uri already sets them.
func PrepareSqliteDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}
		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}
	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(100)")
	}

	return uri + "?" + query.Encode(), nil
}

func open(ctx context.Context, cfg Config) (*sql.DB, error) {
	driver, err := driverName(cfg.Engine)
	if err != nil {
		return nil, err
	}
	uri, err := PrepareURI(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Engine, err)
	}
	if cfg.MaxOpenConns != 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNoopLogger()
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.ConnectTimeout
	if policy.MaxElapsedTime == 0 {
		policy.MaxElapsedTime = 1 * time.Minute
	}
	attempt := 1
	err = backoff.Retry(func() error {
		err := db.PingContext(ctx)
		if err != nil {
			log.Info("waiting for "+cfg.Engine, zap.Int("attempt", attempt))
			attempt++
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize %s connection: %w", cfg.Engine, err)
	}
	return db, nil
}

// New connects to the database. The schema must have been created with Migrate.
func New(ctx context.Context, cfg Config) (*Factory, error) {
	db, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	stbl := sq.StatementBuilder
	if cfg.Engine == EnginePostgres {
		stbl = stbl.PlaceholderFormat(sq.Dollar)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &Factory{
		db:     db,
		stbl:   stbl.RunWith(db),
		logger: log,
	}, nil
}

// Close closes the database.
func (f *Factory) Close() error {
	return f.db.Close()
}

// Create reads every group and its members.
func (f *Factory) Create(ctx context.Context) (*resource.Model, error) {
	ctx, span := tracer.Start(ctx, "sqlmodel.Create")
	defer span.End()

	rows, err := f.stbl.
		Select("g.name", "m.uri", "m.type", "m.minimize", "m.ref_group").
		From(groupsTable+" g").
		LeftJoin(membersTable+" m ON m.group_name = g.name").
		OrderBy("g.name", "m.position").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []resource.Group
	for rows.Next() {
		var (
			name               string
			uri, typ, refGroup sql.NullString
			minimize           sql.NullBool
		)
		if err := rows.Scan(&name, &uri, &typ, &minimize, &refGroup); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}

		if len(groups) == 0 || groups[len(groups)-1].Name != name {
			groups = append(groups, resource.Group{Name: name})
		}
		g := &groups[len(groups)-1]

		switch {
		case refGroup.Valid && refGroup.String != "":
			g.Resources = append(g.Resources, resource.GroupRef(refGroup.String))
		case uri.Valid:
			t, err := resource.ParseType(typ.String)
			if err != nil {
				return nil, fmt.Errorf("group '%s' member '%s': %w", name, uri.String, err)
			}
			r := resource.NewResource(uri.String, t)
			if minimize.Valid {
				r.Minimize = minimize.Bool
			}
			g.Resources = append(g.Resources, r)
		}
		// a group without members yields one row of NULLs
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read groups: %w", err)
	}

	m, err := resource.NewModel(groups...)
	if err != nil {
		return nil, err
	}
	m.Version = model.Fingerprint(m)
	f.logger.DebugWithContext(ctx, "model read from database", zap.Int("groups", len(groups)))
	return m, nil
}

// Save replaces every stored group with groups, in one transaction.
func (f *Factory) Save(ctx context.Context, groups ...resource.Group) error {
	ctx, span := tracer.Start(ctx, "sqlmodel.Save")
	defer span.End()

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := f.stbl.Delete(membersTable).RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to delete group members: %w", err)
	}
	if _, err := f.stbl.Delete(groupsTable).RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to delete groups: %w", err)
	}

	for _, g := range groups {
		if _, err := f.stbl.Insert(groupsTable).Columns("name").Values(g.Name).RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to insert group '%s': %w", g.Name, err)
		}
		for pos, r := range g.Resources {
			var uri, typ, ref any
			if r.IsGroupRef() {
				ref = r.RefName()
			} else {
				uri, typ = r.URI, string(r.Type)
			}
			_, err := f.stbl.Insert(membersTable).
				Columns("group_name", "position", "uri", "type", "minimize", "ref_group").
				Values(g.Name, pos, uri, typ, r.Minimize, ref).
				RunWith(tx).
				ExecContext(ctx)
			if err != nil {
				return fmt.Errorf("failed to insert member %d of group '%s': %w", pos, g.Name, err)
			}
		}
	}
	return tx.Commit()
}
