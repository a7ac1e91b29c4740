package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/mhoehle/loxodon/domain"
)

// Follow queries
const (
	sqlFollowColumns = `id, account_id, target_account_id, uri, status, created_at`

	sqlUpsertFollow = `INSERT INTO follows(id, account_id, target_account_id, uri, status, created_at) VALUES (?, ?, ?, ?, ?, ?)
                       ON CONFLICT(account_id, target_account_id) DO UPDATE SET uri = excluded.uri, status = excluded.status`

	sqlSelectFollowByURI  = `SELECT ` + sqlFollowColumns + ` FROM follows WHERE uri = ?`
	sqlSelectFollowByPair = `SELECT ` + sqlFollowColumns + ` FROM follows WHERE account_id = ? AND target_account_id = ?`

	sqlSelectFollowers = `SELECT a.id, a.uri, a.inbox_uri, a.shared_inbox_uri FROM actors a
                          INNER JOIN follows f ON f.account_id = a.id
                          WHERE f.target_account_id = ? AND f.status = 'accepted'
                          ORDER BY f.created_at ASC LIMIT ? OFFSET ?`

	sqlSelectFollowing = `SELECT a.id, a.uri, a.inbox_uri, a.shared_inbox_uri FROM actors a
                          INNER JOIN follows f ON f.target_account_id = a.id
                          WHERE f.account_id = ? AND f.status = 'accepted'
                          ORDER BY f.created_at ASC LIMIT ? OFFSET ?`

	sqlCountFollowers = `SELECT COUNT(*) FROM follows WHERE target_account_id = ? AND status = 'accepted'`
	sqlCountFollowing = `SELECT COUNT(*) FROM follows WHERE account_id = ? AND status = 'accepted'`
)

// UpsertFollow creates or replaces the single edge for the ordered pair
// and keeps the denormalized follower/following counters in step, inside
// one transaction.
func (db *DB) UpsertFollow(follow *domain.Follow) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		var prevStatus sql.NullString
		err := tx.QueryRow(`SELECT status FROM follows WHERE account_id = ? AND target_account_id = ?`,
			follow.AccountId.String(), follow.TargetAccountId.String()).Scan(&prevStatus)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if _, err := tx.Exec(sqlUpsertFollow,
			follow.Id.String(),
			follow.AccountId.String(),
			follow.TargetAccountId.String(),
			follow.URI,
			string(follow.Status),
			follow.CreatedAt,
		); err != nil {
			return err
		}
		wasAccepted := prevStatus.Valid && prevStatus.String == string(domain.FollowAccepted)
		if follow.Status == domain.FollowAccepted && !wasAccepted {
			return bumpFollowCounters(tx, follow.AccountId, follow.TargetAccountId, 1)
		}
		return nil
	})
}

func bumpFollowCounters(tx *sql.Tx, accountId, targetId uuid.UUID, delta int) error {
	if _, err := tx.Exec(`UPDATE actors SET following_count = MAX(0, following_count + ?) WHERE id = ?`, delta, accountId.String()); err != nil {
		return err
	}
	_, err := tx.Exec(`UPDATE actors SET follower_count = MAX(0, follower_count + ?) WHERE id = ?`, delta, targetId.String())
	return err
}

func (db *DB) scanFollow(row *sql.Row) (error, *domain.Follow) {
	var follow domain.Follow
	var idStr, accountIdStr, targetIdStr, statusStr string
	err := row.Scan(&idStr, &accountIdStr, &targetIdStr, &follow.URI, &statusStr, &follow.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return err, nil
	}
	follow.Id, _ = uuid.Parse(idStr)
	follow.AccountId, _ = uuid.Parse(accountIdStr)
	follow.TargetAccountId, _ = uuid.Parse(targetIdStr)
	follow.Status = domain.FollowStatus(statusStr)
	return nil, &follow
}

func (db *DB) ReadFollowByURI(uri string) (error, *domain.Follow) {
	return db.scanFollow(db.db.QueryRow(sqlSelectFollowByURI, uri))
}

func (db *DB) ReadFollowByPair(accountId, targetId uuid.UUID) (error, *domain.Follow) {
	return db.scanFollow(db.db.QueryRow(sqlSelectFollowByPair, accountId.String(), targetId.String()))
}

// AcceptFollowByURI flips a pending edge to accepted. Already-accepted or
// unknown edges are left alone.
func (db *DB) AcceptFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT account_id, target_account_id FROM follows WHERE uri = ? AND status = 'pending'`, uri)
		if err != nil {
			return err
		}
		pairs, err := collectPairs(rows)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE follows SET status = 'accepted' WHERE uri = ? AND status = 'pending'`, uri); err != nil {
			return err
		}
		return bumpPairs(tx, pairs)
	})
}

// AcceptPendingFollowsToward accepts every pending outbound follow whose
// target is the given actor. Fallback path for peers that send Accept
// without an embedded Follow.
func (db *DB) AcceptPendingFollowsToward(targetId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT account_id, target_account_id FROM follows WHERE target_account_id = ? AND status = 'pending'`, targetId.String())
		if err != nil {
			return err
		}
		pairs, err := collectPairs(rows)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE follows SET status = 'accepted' WHERE target_account_id = ? AND status = 'pending'`, targetId.String()); err != nil {
			return err
		}
		return bumpPairs(tx, pairs)
	})
}

type followPair struct {
	accountId uuid.UUID
	targetId  uuid.UUID
}

func collectPairs(rows *sql.Rows) ([]followPair, error) {
	defer rows.Close()
	var pairs []followPair
	for rows.Next() {
		var accStr, targetStr string
		if err := rows.Scan(&accStr, &targetStr); err != nil {
			return nil, err
		}
		var p followPair
		p.accountId, _ = uuid.Parse(accStr)
		p.targetId, _ = uuid.Parse(targetStr)
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func bumpPairs(tx *sql.Tx, pairs []followPair) error {
	for _, p := range pairs {
		if err := bumpFollowCounters(tx, p.accountId, p.targetId, 1); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) deleteFollow(where string, args ...interface{}) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT account_id, target_account_id FROM follows WHERE `+where+` AND status = 'accepted'`, args...)
		if err != nil {
			return err
		}
		pairs, err := collectPairs(rows)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM follows WHERE `+where, args...); err != nil {
			return err
		}
		for _, p := range pairs {
			if err := bumpFollowCounters(tx, p.accountId, p.targetId, -1); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) DeleteFollowByURI(uri string) error {
	return db.deleteFollow(`uri = ?`, uri)
}

func (db *DB) DeleteFollowByPair(accountId, targetId uuid.UUID) error {
	return db.deleteFollow(`account_id = ? AND target_account_id = ?`, accountId.String(), targetId.String())
}

func (db *DB) readActorRefs(query string, args ...interface{}) (error, *[]domain.ActorRef) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var refs []domain.ActorRef
	for rows.Next() {
		var ref domain.ActorRef
		var idStr string
		if err := rows.Scan(&idStr, &ref.URI, &ref.InboxURI, &ref.SharedInboxURI); err != nil {
			return err, &refs
		}
		ref.Id, _ = uuid.Parse(idStr)
		refs = append(refs, ref)
	}
	if err = rows.Err(); err != nil {
		return err, &refs
	}
	return nil, &refs
}

func (db *DB) ReadFollowers(actorId uuid.UUID, limit, offset int) (error, *[]domain.ActorRef) {
	return db.readActorRefs(sqlSelectFollowers, actorId.String(), limit, offset)
}

func (db *DB) ReadFollowing(actorId uuid.UUID, limit, offset int) (error, *[]domain.ActorRef) {
	return db.readActorRefs(sqlSelectFollowing, actorId.String(), limit, offset)
}

// DrainFollowers streams the complete follower set in bounded batches so
// very large peer lists are never materialized at once. fn is called once
// per batch; returning an error stops the drain.
func (db *DB) DrainFollowers(actorId uuid.UUID, batchSize int, fn func([]domain.ActorRef) error) error {
	offset := 0
	for {
		err, refs := db.ReadFollowers(actorId, batchSize, offset)
		if err != nil {
			return err
		}
		if refs == nil || len(*refs) == 0 {
			return nil
		}
		if err := fn(*refs); err != nil {
			return err
		}
		if len(*refs) < batchSize {
			return nil
		}
		offset += batchSize
	}
}

func (db *DB) CountFollowers(actorId uuid.UUID) (error, int) {
	return db.countOne(sqlCountFollowers, actorId.String())
}

func (db *DB) CountFollowing(actorId uuid.UUID) (error, int) {
	return db.countOne(sqlCountFollowing, actorId.String())
}

// Like / boost edges. Both are idempotent on (account, post); the bool
// reports whether an edge actually changed so callers skip duplicate side
// effects.

func (db *DB) createEdge(insert string, id uuid.UUID, accountId, postId uuid.UUID, uri string, createdAt time.Time) (error, bool) {
	changed := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(insert, id.String(), accountId.String(), postId.String(), uri, createdAt)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		changed = affected > 0
		return nil
	})
	return err, changed
}

func (db *DB) deleteEdge(del string, accountId, postId uuid.UUID) (error, bool) {
	changed := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(del, accountId.String(), postId.String())
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		changed = affected > 0
		return nil
	})
	return err, changed
}

func (db *DB) CreateLike(like *domain.Like) (error, bool) {
	return db.createEdge(`INSERT OR IGNORE INTO likes(id, account_id, post_id, uri, created_at) VALUES (?, ?, ?, ?, ?)`,
		like.Id, like.AccountId, like.PostId, like.URI, like.CreatedAt)
}

func (db *DB) DeleteLike(accountId, postId uuid.UUID) (error, bool) {
	return db.deleteEdge(`DELETE FROM likes WHERE account_id = ? AND post_id = ?`, accountId, postId)
}

func (db *DB) CreateBoost(boost *domain.Boost) (error, bool) {
	return db.createEdge(`INSERT OR IGNORE INTO boosts(id, account_id, post_id, uri, created_at) VALUES (?, ?, ?, ?, ?)`,
		boost.Id, boost.AccountId, boost.PostId, boost.URI, boost.CreatedAt)
}

func (db *DB) DeleteBoost(accountId, postId uuid.UUID) (error, bool) {
	return db.deleteEdge(`DELETE FROM boosts WHERE account_id = ? AND post_id = ?`, accountId, postId)
}

// Activity log queries
const (
	sqlActivityColumns = `id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, attempts, next_retry_at, created_at, local`

	sqlInsertActivity = `INSERT OR IGNORE INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, attempts, next_retry_at, created_at, local)
                         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectActivityByURI = `SELECT ` + sqlActivityColumns + ` FROM activities WHERE activity_uri = ?`

	sqlSelectUnprocessed = `SELECT ` + sqlActivityColumns + ` FROM activities
                            WHERE processed = 0 AND local = 0 AND next_retry_at <= ?
                            ORDER BY created_at ASC LIMIT ?`
)

func (db *DB) CreateActivity(activity *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Id.String(),
			activity.ActivityURI,
			activity.ActivityType,
			activity.ActorURI,
			activity.ObjectURI,
			activity.RawJSON,
			activity.Processed,
			activity.Attempts,
			activity.NextRetryAt,
			activity.CreatedAt,
			activity.Local,
		)
		return err
	})
}

func (db *DB) scanActivity(scan func(dest ...interface{}) error) (error, *domain.Activity) {
	var activity domain.Activity
	var idStr string
	err := scan(
		&idStr,
		&activity.ActivityURI,
		&activity.ActivityType,
		&activity.ActorURI,
		&activity.ObjectURI,
		&activity.RawJSON,
		&activity.Processed,
		&activity.Attempts,
		&activity.NextRetryAt,
		&activity.CreatedAt,
		&activity.Local,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return err, nil
	}
	activity.Id, _ = uuid.Parse(idStr)
	return nil, &activity
}

func (db *DB) ReadActivityByURI(uri string) (error, *domain.Activity) {
	return db.scanActivity(db.db.QueryRow(sqlSelectActivityByURI, uri).Scan)
}

func (db *DB) MarkActivityProcessed(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE activities SET processed = 1 WHERE id = ?`, id.String())
		return err
	})
}

func (db *DB) UpdateActivityAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE activities SET attempts = ?, next_retry_at = ? WHERE id = ?`, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteActivity(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM activities WHERE id = ?`, id.String())
		return err
	})
}

func (db *DB) ReadUnprocessedActivities(limit int) (error, *[]domain.Activity) {
	rows, err := db.db.Query(sqlSelectUnprocessed, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		err, activity := db.scanActivity(rows.Scan)
		if err != nil {
			return err, &activities
		}
		activities = append(activities, *activity)
	}
	if err = rows.Err(); err != nil {
		return err, &activities
	}
	return nil, &activities
}

// Delivery queue queries. UNIQUE(inbox_uri, activity_uri) is the per-inbox
// idempotency key; concurrent enqueues of the same delivery collapse.
const (
	sqlInsertDelivery = `INSERT OR IGNORE INTO delivery_queue(id, inbox_uri, activity_uri, activity_json, direction, attempts, next_retry_at, created_at)
                         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectPendingDeliveries = `SELECT id, inbox_uri, activity_uri, activity_json, direction, attempts, next_retry_at, created_at
                                  FROM delivery_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
)

func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDelivery,
			item.Id.String(),
			item.InboxURI,
			item.ActivityURI,
			item.ActivityJSON,
			string(item.Direction),
			item.Attempts,
			item.NextRetryAt,
			item.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr, directionStr string
		if err := rows.Scan(&idStr, &item.InboxURI, &item.ActivityURI, &item.ActivityJSON, &directionStr, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return err, &items
		}
		item.Id, _ = uuid.Parse(idStr)
		item.Direction = domain.DeliveryDirection(directionStr)
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}
	return nil, &items
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM delivery_queue WHERE id = ?`, id.String())
		return err
	})
}

// Notifications

func (db *DB) CreateNotification(n *domain.Notification) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		var postId interface{}
		if n.PostId != nil {
			postId = n.PostId.String()
		}
		_, err := tx.Exec(`INSERT INTO notifications(id, kind, from_actor_id, to_actor_id, post_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			n.Id.String(),
			string(n.Kind),
			n.FromActorId.String(),
			n.ToActorId.String(),
			postId,
			n.CreatedAt,
		)
		return err
	})
}

// DeleteNotificationFor removes the notification created by the action an
// Undo reverses. Keyed on both actors so retracting a Follow toward one
// local user leaves notifications toward others untouched.
func (db *DB) DeleteNotificationFor(kind domain.NotificationKind, fromActorId, toActorId uuid.UUID, postId *uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if postId != nil {
			_, err := tx.Exec(`DELETE FROM notifications WHERE kind = ? AND from_actor_id = ? AND to_actor_id = ? AND post_id = ?`,
				string(kind), fromActorId.String(), toActorId.String(), postId.String())
			return err
		}
		_, err := tx.Exec(`DELETE FROM notifications WHERE kind = ? AND from_actor_id = ? AND to_actor_id = ? AND post_id IS NULL`,
			string(kind), fromActorId.String(), toActorId.String())
		return err
	})
}
