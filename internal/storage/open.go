package storage

import (
	"strings"

	"schedhub/internal/apperr"
	logx "schedhub/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, apperr.E(apperr.KindStorage, "unknown storage driver %q", cfg.Driver)
	}
}
