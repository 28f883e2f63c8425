// Package smsdb is the persistent store backing multipart SMS reassembly,
// outbound reference-id allocation, and delivery-status tracking. It is
// backed by SQLite via database/sql and github.com/mattn/go-sqlite3, the
// same driver/pragma combination used for single-writer embedded storage
// elsewhere in the retrieved example pack.
package smsdb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB is a smsdb handle. All exported methods are safe for concurrent use;
// an internal mutex serializes access the way the original driver's
// AST_MUTEX_DEFINE_STATIC(dblock) does; sqlite itself is additionally
// pinned to a single connection since SQLite disallows concurrent writers
// to the same file.
type DB struct {
	mu sync.Mutex
	db *sql.DB

	insertIncomingPart *sql.Stmt
	listIncomingParts  *sql.Stmt
	deleteIncomingKey  *sql.Stmt
	deleteExpiredIn    *sql.Stmt

	nextOutgoingRef *sql.Stmt

	insertOutgoingMsg  *sql.Stmt
	getExpiredOutgoing *sql.Stmt
	deleteOutgoingMsg  *sql.Stmt

	insertOutgoingPart *sql.Stmt
	updatePartStatus   *sql.Stmt
	getPartsByUID      *sql.Stmt
	findUIDByRef       *sql.Stmt
}

// Open creates (if needed) and opens the SQLite database at path, in WAL
// mode with a short busy timeout, mirroring the pragma string used by the
// pack's own SQLite-backed daemon.
func Open(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("smsdb: open %q: %w", path, err)
	}
	sqldb.SetMaxOpenConns(1)

	d := &DB{db: sqldb}
	if err := d.migrate(); err != nil {
		sqldb.Close()
		return nil, err
	}
	if err := d.prepare(); err != nil {
		sqldb.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS incoming_part (
	imsi TEXT NOT NULL,
	sender_addr TEXT NOT NULL,
	csms_ref INTEGER NOT NULL,
	part_count INTEGER NOT NULL,
	seq_order INTEGER NOT NULL,
	message BLOB NOT NULL,
	expiration INTEGER NOT NULL,
	PRIMARY KEY (imsi, sender_addr, csms_ref, seq_order)
);
CREATE INDEX IF NOT EXISTS idx_incoming_part_expiration ON incoming_part(expiration);

CREATE TABLE IF NOT EXISTS outgoing_ref (
	dev TEXT PRIMARY KEY,
	next_ref INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS outgoing_msg (
	uid TEXT PRIMARY KEY,
	dev TEXT NOT NULL,
	dst TEXT NOT NULL,
	message TEXT NOT NULL,
	part_count INTEGER NOT NULL,
	expiration INTEGER NOT NULL,
	srr INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_outgoing_msg_expiration ON outgoing_msg(expiration);

CREATE TABLE IF NOT EXISTS outgoing_part (
	uid TEXT NOT NULL,
	msg_ref INTEGER NOT NULL,
	status INTEGER NOT NULL DEFAULT 255,
	PRIMARY KEY (uid, msg_ref)
);
`
	_, err := d.db.Exec(schema)
	return err
}

func (d *DB) prepare() error {
	stmts := []struct {
		dst  **sql.Stmt
		text string
	}{
		{&d.insertIncomingPart, `INSERT OR REPLACE INTO incoming_part
			(imsi, sender_addr, csms_ref, part_count, seq_order, message, expiration)
			VALUES (?, ?, ?, ?, ?, ?, ?)`},
		{&d.listIncomingParts, `SELECT seq_order, message FROM incoming_part
			WHERE imsi = ? AND sender_addr = ? AND csms_ref = ? ORDER BY seq_order`},
		{&d.deleteIncomingKey, `DELETE FROM incoming_part
			WHERE imsi = ? AND sender_addr = ? AND csms_ref = ?`},
		{&d.deleteExpiredIn, `DELETE FROM incoming_part WHERE expiration < ?`},

		{&d.nextOutgoingRef, `INSERT INTO outgoing_ref(dev, next_ref) VALUES (?, 1)
			ON CONFLICT(dev) DO UPDATE SET next_ref = (next_ref + 1) % 256
			RETURNING next_ref`},

		{&d.insertOutgoingMsg, `INSERT INTO outgoing_msg
			(uid, dev, dst, message, part_count, expiration, srr) VALUES (?, ?, ?, ?, ?, ?, ?)`},
		{&d.getExpiredOutgoing, `SELECT uid, dev, dst, message, part_count, expiration, srr
			FROM outgoing_msg WHERE expiration < ? LIMIT 1`},
		{&d.deleteOutgoingMsg, `DELETE FROM outgoing_msg WHERE uid = ?`},

		{&d.insertOutgoingPart, `INSERT OR REPLACE INTO outgoing_part (uid, msg_ref, status) VALUES (?, ?, 255)`},
		{&d.updatePartStatus, `UPDATE outgoing_part SET status = ? WHERE uid = ? AND msg_ref = ?`},
		{&d.getPartsByUID, `SELECT msg_ref, status FROM outgoing_part WHERE uid = ?`},
		{&d.findUIDByRef, `SELECT uid FROM outgoing_part WHERE msg_ref = ? ORDER BY rowid DESC LIMIT 1`},
	}
	for _, s := range stmts {
		stmt, err := d.db.Prepare(s.text)
		if err != nil {
			return fmt.Errorf("smsdb: prepare %q: %w", s.text, err)
		}
		*s.dst = stmt
	}
	return nil
}

// Close releases the underlying database handle.
func (d *DB) Close() error { return d.db.Close() }

// IncomingKey identifies one multipart SMS's reassembly bucket: the
// receiving SIM's IMSI, the sender's address, and the concatenation
// reference number the sender chose (which is only unique per sender and
// rolls over, hence the composite key).
type IncomingKey struct {
	IMSI       string
	SenderAddr string
	CSMSRef    int
}

// PutIncomingPart stores one segment of a multipart SMS. When every part
// from 1..partCount has now been seen, it returns the parts concatenated
// in order and complete=true, and the stored rows for this key are
// removed so a reused csms_ref can't resurrect a stale reassembly.
func (d *DB) PutIncomingPart(ctx context.Context, key IncomingKey, seqOrder, partCount int, data []byte, ttl time.Duration) (assembled []byte, complete bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	expiration := time.Now().Add(ttl).Unix()
	if _, err := d.insertIncomingPart.ExecContext(ctx, key.IMSI, key.SenderAddr, key.CSMSRef, partCount, seqOrder, data, expiration); err != nil {
		return nil, false, fmt.Errorf("smsdb: store part: %w", err)
	}

	rows, err := d.listIncomingParts.QueryContext(ctx, key.IMSI, key.SenderAddr, key.CSMSRef)
	if err != nil {
		return nil, false, fmt.Errorf("smsdb: list parts: %w", err)
	}
	defer rows.Close()

	parts := make(map[int][]byte)
	for rows.Next() {
		var seq int
		var msg []byte
		if err := rows.Scan(&seq, &msg); err != nil {
			return nil, false, err
		}
		parts[seq] = msg
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	if len(parts) < partCount {
		return nil, false, nil
	}

	var out []byte
	for i := 1; i <= partCount; i++ {
		p, ok := parts[i]
		if !ok {
			// Shouldn't happen given the count check above, but guards
			// against a concurrent writer racing the query.
			return nil, false, nil
		}
		out = append(out, p...)
	}
	if _, err := d.deleteIncomingKey.ExecContext(ctx, key.IMSI, key.SenderAddr, key.CSMSRef); err != nil {
		return nil, false, fmt.Errorf("smsdb: clear reassembled key: %w", err)
	}
	return out, true, nil
}

// ExpireIncoming deletes incoming parts whose TTL has elapsed as of now,
// so a sender that never completed a multipart message doesn't pin
// storage forever.
func (d *DB) ExpireIncoming(ctx context.Context, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.deleteExpiredIn.ExecContext(ctx, now.Unix())
	return err
}

// NextOutgoingRef allocates the next TP-Message-Reference / CSMS
// reference for dev, wrapping modulo 256 as TS 23.040 requires.
func (d *DB) NextOutgoingRef(ctx context.Context, dev string) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var next int
	if err := d.nextOutgoingRef.QueryRowContext(ctx, dev).Scan(&next); err != nil {
		return 0, fmt.Errorf("smsdb: allocate outgoing ref: %w", err)
	}
	return byte(next), nil
}

// OutgoingMsg is a tracked multipart outbound SMS awaiting delivery
// status reports for each of its parts.
type OutgoingMsg struct {
	UID        string
	Dev        string
	Dst        string
	Message    string
	PartCount  int
	Expiration time.Time
	SRR        bool
}

// PutOutgoingMsg records an outbound message's metadata before its parts
// are sent, so incoming status reports (correlated by dev+msg_ref, not by
// uid) can be matched back to it.
func (d *DB) PutOutgoingMsg(ctx context.Context, m OutgoingMsg, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	expiration := time.Now().Add(ttl).Unix()
	srr := 0
	if m.SRR {
		srr = 1
	}
	_, err := d.insertOutgoingMsg.ExecContext(ctx, m.UID, m.Dev, m.Dst, m.Message, m.PartCount, expiration, srr)
	return err
}

// PutOutgoingPart registers one part's message reference as pending
// status, status byte 0xff meaning "no report received yet" — matching
// the original driver's convention that a status byte's high bit pair
// being unset/clear signals a non-terminal or unknown outcome (see
// pdu.StatusIsFinal).
func (d *DB) PutOutgoingPart(ctx context.Context, uid string, msgRef byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.insertOutgoingPart.ExecContext(ctx, uid, msgRef)
	return err
}

// UpdatePartStatus records the TP-Status byte from a status report for
// one part of an outgoing message.
func (d *DB) UpdatePartStatus(ctx context.Context, uid string, msgRef, status byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.updatePartStatus.ExecContext(ctx, status, uid, msgRef)
	return err
}

// PartStatus is one tracked part's delivery outcome.
type PartStatus struct {
	MsgRef byte
	Status byte
}

// PartStatuses returns every tracked part and its current status for uid.
func (d *DB) PartStatuses(ctx context.Context, uid string) ([]PartStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rows, err := d.getPartsByUID.QueryContext(ctx, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PartStatus
	for rows.Next() {
		var ps PartStatus
		if err := rows.Scan(&ps.MsgRef, &ps.Status); err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// FindUIDByRef looks up the most recently registered outgoing message
// uid for a given TP-Message-Reference, so an incoming status report
// (which only carries the reference, not the uid) can be matched back
// to the message it reports on. Reference numbers wrap modulo 256, so
// this is a best-effort match against the most recent registration;
// it is sufficient for the TTLs this driver uses in practice.
func (d *DB) FindUIDByRef(ctx context.Context, msgRef byte) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var uid string
	err := d.findUIDByRef.QueryRowContext(ctx, msgRef).Scan(&uid)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return uid, true, nil
}

// GetExpiredOutgoing returns one outgoing message whose TTL has elapsed
// (status reports are assumed lost at that point), or ok=false if none
// are due. The original driver's LIMIT 1 shape is preserved deliberately:
// the supervisor loop calls this once per tick rather than bulk-loading
// every expired row, keeping each call cheap and bounded.
func (d *DB) GetExpiredOutgoing(ctx context.Context, now time.Time) (OutgoingMsg, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var m OutgoingMsg
	var expiration int64
	var srr int
	err := d.getExpiredOutgoing.QueryRowContext(ctx, now.Unix()).Scan(
		&m.UID, &m.Dev, &m.Dst, &m.Message, &m.PartCount, &expiration, &srr)
	if err == sql.ErrNoRows {
		return OutgoingMsg{}, false, nil
	}
	if err != nil {
		return OutgoingMsg{}, false, err
	}
	m.Expiration = time.Unix(expiration, 0)
	m.SRR = srr != 0
	return m, true, nil
}

// DeleteOutgoing removes an outgoing message's tracking row once it has
// either been fully delivered or given up on.
func (d *DB) DeleteOutgoing(ctx context.Context, uid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.deleteOutgoingMsg.ExecContext(ctx, uid)
	return err
}
