package database

import (
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Driver names the gorm dialect for dsn: "postgres" for postgres URLs and
// libpq key/value strings, "sqlite" for file: URIs, :memory: and .db paths.
// Anything else is rejected so a typo never opens an empty local file.
func Driver(dsn string) (string, error) {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	switch {
	case d == "":
		return "", errors.New("empty database DSN")
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres", nil
	case isKeyValueDSN(lower):
		return "postgres", nil
	case strings.HasPrefix(lower, "file:"), lower == ":memory:":
		return "sqlite", nil
	case strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return "sqlite", nil
	}
	return "", errors.Errorf("unrecognised database DSN %q: use a postgres URL, libpq key=value pairs, file:, :memory: or a .db path", redact(d))
}

func isKeyValueDSN(dsn string) bool {
	for _, f := range strings.Fields(dsn) {
		k, _, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch k {
		case "host", "hostaddr", "dbname", "user", "port":
			return true
		}
	}
	return false
}

// redact drops anything after the first space so passwords stay out of logs.
func redact(dsn string) string {
	if i := strings.IndexByte(dsn, ' '); i >= 0 {
		return dsn[:i] + " ..."
	}
	return dsn
}

// Connect opens Postgres or sqlite according to Driver.
func Connect(dsn string, silent bool) (*gorm.DB, error) {
	cfg := &gorm.Config{TranslateError: true}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}

	driver, err := Driver(dsn)
	if err != nil {
		return nil, err
	}
	var dialector gorm.Dialector
	if driver == "postgres" {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}
	return db, nil
}

// Migrate creates or updates every table the portal uses.
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(models.All()...), "auto-migrate")
}

// IsUniqueViolation reports whether err is a unique-constraint failure,
// either translated by gorm or raw from the Postgres driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

// Close releases the underlying pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
