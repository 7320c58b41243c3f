// Package banlist keeps banned addresses in SQLite and refuses their
// handshakes. A List implements conn.Admission.
package banlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	wserrors "github.com/vango-dev/worldsync/internal/errors"
	"github.com/vango-dev/worldsync/pkg/conn"
	"github.com/vango-dev/worldsync/pkg/protocol"
)

// ErrInvalidAddress is returned for a ban target that is not an IP address.
var ErrInvalidAddress = errors.New("banlist: invalid ip address format")

const initSQL = `CREATE TABLE IF NOT EXISTS ban (
	addr VARCHAR(39) NOT NULL PRIMARY KEY,
	reason VARCHAR(256) NOT NULL,
	created_at INTEGER NOT NULL
);`

// Ban is one ban list entry.
type Ban struct {
	Addr    string    `json:"addr"`
	Reason  string    `json:"reason"`
	Created time.Time `json:"created"`
}

// List is a ban list backed by a SQLite database. Admission checks are
// answered from an in-memory copy so the tick loop never waits on disk.
type List struct {
	db     *sql.DB
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]Ban
}

var _ conn.Admission = (*List)(nil)

// Open opens or creates the database at path and loads it.
func Open(ctx context.Context, path string, logger *slog.Logger) (*List, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, wserrors.New(wserrors.CodeBanlistOpen).WithDetail(path).Wrap(err)
	}
	if _, err := db.ExecContext(ctx, initSQL); err != nil {
		db.Close()
		return nil, wserrors.New(wserrors.CodeBanlistOpen).WithDetail(path).Wrap(err)
	}

	l := &List{
		db:     db,
		logger: logger.With("component", "banlist"),
		cache:  make(map[string]Ban),
	}
	if err := l.load(ctx); err != nil {
		db.Close()
		return nil, wserrors.New(wserrors.CodeBanlistOpen).WithDetail(path).Wrap(err)
	}
	l.logger.Debug("ban list loaded", "path", path, "entries", len(l.cache))
	return l, nil
}

func (l *List) load(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, `SELECT addr, reason, created_at FROM ban;`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			b       Ban
			created int64
		)
		if err := rows.Scan(&b.Addr, &b.Reason, &created); err != nil {
			return err
		}
		b.Created = time.Unix(created, 0)
		l.cache[b.Addr] = b
	}
	return rows.Err()
}

// Close closes the database.
func (l *List) Close() error {
	return l.db.Close()
}

// Ban adds addr with reason. addr may carry a port, which is ignored.
// Banning an address again replaces its reason.
func (l *List) Ban(ctx context.Context, addr, reason string) (Ban, error) {
	ip, err := normalize(addr)
	if err != nil {
		return Ban{}, err
	}
	b := Ban{Addr: ip, Reason: reason, Created: time.Now().Truncate(time.Second)}
	_, err = l.db.ExecContext(ctx, `INSERT INTO ban (
		addr,
		reason,
		created_at
	) VALUES (
		?,
		?,
		?
	) ON CONFLICT(addr) DO UPDATE SET reason = excluded.reason;`, b.Addr, b.Reason, b.Created.Unix())
	if err != nil {
		return Ban{}, err
	}

	l.mu.Lock()
	if old, ok := l.cache[ip]; ok {
		b.Created = old.Created
	}
	l.cache[ip] = b
	l.mu.Unlock()

	l.logger.Info("address banned", "addr", ip, "reason", reason)
	return b, nil
}

// Unban removes addr and reports whether it was banned.
func (l *List) Unban(ctx context.Context, addr string) (bool, error) {
	ip, err := normalize(addr)
	if err != nil {
		return false, err
	}
	res, err := l.db.ExecContext(ctx, `DELETE FROM ban WHERE addr = ?;`, ip)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	delete(l.cache, ip)
	l.mu.Unlock()

	if n > 0 {
		l.logger.Info("address unbanned", "addr", ip)
	}
	return n > 0, nil
}

// Lookup returns the ban of addr, if any.
func (l *List) Lookup(addr string) (Ban, bool) {
	ip, err := normalize(addr)
	if err != nil {
		return Ban{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.cache[ip]
	return b, ok
}

// Bans returns every ban ordered by address.
func (l *List) Bans() []Ban {
	l.mu.RLock()
	out := make([]Ban, 0, len(l.cache))
	for _, b := range l.cache {
		out = append(out, b)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Admit implements conn.Admission.
func (l *List) Admit(addr net.Addr) (protocol.RejectReason, string, bool) {
	b, ok := l.Lookup(addr.String())
	if !ok {
		return 0, "", true
	}
	msg := "banned"
	if b.Reason != "" {
		msg = "banned: " + b.Reason
	}
	return protocol.RejectBanned, msg, false
}

// normalize strips a port and checks that the rest is an IP address.
func normalize(addr string) (string, error) {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return ip.String(), nil
}
