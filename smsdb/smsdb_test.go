package smsdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smsdb.sqlite")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutIncomingPartReassemblesInOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	key := IncomingKey{IMSI: "001010000000001", SenderAddr: "+15551234567", CSMSRef: 9}

	_, complete, err := db.PutIncomingPart(ctx, key, 2, 2, []byte("world"), time.Hour)
	require.NoError(t, err)
	assert.False(t, complete)

	assembled, complete, err := db.PutIncomingPart(ctx, key, 1, 2, []byte("hello "), time.Hour)
	require.NoError(t, err)
	require.True(t, complete)
	assert.Equal(t, "hello world", string(assembled))
}

func TestPutIncomingPartClearsKeyOnceComplete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	key := IncomingKey{IMSI: "imsi", SenderAddr: "+1", CSMSRef: 1}

	_, _, err := db.PutIncomingPart(ctx, key, 1, 1, []byte("only part"), time.Hour)
	require.NoError(t, err)

	rows, err := db.listIncomingParts.QueryContext(ctx, key.IMSI, key.SenderAddr, key.CSMSRef)
	require.NoError(t, err)
	defer rows.Close()
	assert.False(t, rows.Next(), "expected no rows left for a completed reassembly key")
}

func TestExpireIncomingRemovesStaleParts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	key := IncomingKey{IMSI: "imsi", SenderAddr: "+1", CSMSRef: 2}

	_, _, err := db.PutIncomingPart(ctx, key, 1, 2, []byte("stale"), -time.Hour)
	require.NoError(t, err)

	require.NoError(t, db.ExpireIncoming(ctx, time.Now()))

	_, complete, err := db.PutIncomingPart(ctx, key, 2, 2, []byte("rest"), time.Hour)
	require.NoError(t, err)
	assert.False(t, complete, "expired first part should not still be present")
}

func TestNextOutgoingRefIncrementsAndWraps(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, err := db.NextOutgoingRef(ctx, "ttyUSB0")
	require.NoError(t, err)
	assert.Equal(t, byte(1), first)

	second, err := db.NextOutgoingRef(ctx, "ttyUSB0")
	require.NoError(t, err)
	assert.Equal(t, byte(2), second)

	otherDev, err := db.NextOutgoingRef(ctx, "ttyUSB1")
	require.NoError(t, err)
	assert.Equal(t, byte(1), otherDev, "refs are allocated independently per device")
}

func TestOutgoingMessageLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	msg := OutgoingMsg{UID: "uid-1", Dev: "ttyUSB0", Dst: "+1", Message: "hi", PartCount: 1, SRR: true}
	require.NoError(t, db.PutOutgoingMsg(ctx, msg, -time.Hour))
	require.NoError(t, db.PutOutgoingPart(ctx, msg.UID, 3))

	got, ok, err := db.GetExpiredOutgoing(ctx, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, msg.UID, got.UID)
	assert.True(t, got.SRR)

	require.NoError(t, db.UpdatePartStatus(ctx, msg.UID, 3, 0x00))
	statuses, err := db.PartStatuses(ctx, msg.UID)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, byte(3), statuses[0].MsgRef)
	assert.Equal(t, byte(0), statuses[0].Status)

	require.NoError(t, db.DeleteOutgoing(ctx, msg.UID))
	_, ok, err = db.GetExpiredOutgoing(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindUIDByRefMatchesMostRecent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.PutOutgoingPart(ctx, "uid-a", 9))
	require.NoError(t, db.PutOutgoingPart(ctx, "uid-b", 9))

	uid, ok, err := db.FindUIDByRef(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "uid-b", uid)

	_, ok, err = db.FindUIDByRef(ctx, 200)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetExpiredOutgoingSkipsUnexpired(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	msg := OutgoingMsg{UID: "uid-fresh", Dev: "ttyUSB0", Dst: "+1", Message: "hi", PartCount: 1}
	require.NoError(t, db.PutOutgoingMsg(ctx, msg, time.Hour))

	_, ok, err := db.GetExpiredOutgoing(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}
