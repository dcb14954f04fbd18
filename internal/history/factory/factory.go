package factory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/appforge/runnerd/internal/history"
	ch "github.com/appforge/runnerd/internal/history/clickhouse"
	pg "github.com/appforge/runnerd/internal/history/postgres"
)

const defaultClickHouseTable = "dev_server_events"

// NewFromDSN selects a history sink implementation based on DSN.
// Supported:
//   - postgres:   "postgres://..." or "postgresql://..."
//   - clickhouse: "clickhouse://host:9000" (optional "?table=name")
func NewFromDSN(dsn string) (history.Sink, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "clickhouse://") {
		addr := strings.TrimPrefix(d, "clickhouse://")
		table := defaultClickHouseTable
		if i := strings.Index(addr, "?table="); i >= 0 {
			table = addr[i+len("?table="):]
			addr = addr[:i]
		}
		return ch.New(addr, table)
	}
	return nil, fmt.Errorf("unsupported history DSN: %s", d)
}
