package db

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mhoehle/loxodon/domain"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and prepares it for
// the concurrent federation workload.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Try to enable WAL2 mode, fall back to WAL if not supported
	var journalMode string
	err = sqlDB.QueryRow("PRAGMA journal_mode=WAL2").Scan(&journalMode)
	if err != nil || journalMode == "delete" {
		err = sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
		if err != nil {
			log.Printf("Warning: Failed to enable WAL mode: %v", err)
		} else {
			log.Printf("Database journal mode: %s (WAL2 not supported, using WAL)", journalMode)
		}
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	// PRAGMAs tuned for many concurrent inbox requests
	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")
	sqlDB.Exec("PRAGMA auto_vacuum = INCREMENTAL")

	database := &DB{db: sqlDB}
	if err := database.RunMigrations(); err != nil {
		return nil, err
	}

	return database, nil
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			log.Printf("error in transaction: %s", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

// Actor queries
const (
	sqlActorColumns = `id, uri, username, domain, display_name, summary, avatar_url, inbox_uri, shared_inbox_uri, profile_url, kind, local, owner_id, follower_count, following_count, public_key_pem, last_fetched_at, created_at`

	sqlInsertActor = `INSERT INTO actors(id, uri, username, domain, display_name, summary, avatar_url, inbox_uri, shared_inbox_uri, profile_url, kind, local, owner_id, follower_count, following_count, public_key_pem, last_fetched_at, created_at)
                      VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateActorByURI = `UPDATE actors SET display_name = ?, summary = ?, avatar_url = ?, inbox_uri = ?, shared_inbox_uri = ?, profile_url = ?, kind = ?, public_key_pem = ?, last_fetched_at = ? WHERE uri = ?`

	sqlSelectActorByURI      = `SELECT ` + sqlActorColumns + ` FROM actors WHERE uri = ?`
	sqlSelectActorById       = `SELECT ` + sqlActorColumns + ` FROM actors WHERE id = ?`
	sqlSelectLocalActor      = `SELECT ` + sqlActorColumns + ` FROM actors WHERE username = ? AND local = 1`
	sqlCountLocalActors      = `SELECT COUNT(*) FROM actors WHERE local = 1`
	sqlCountLocalGroupActors = `SELECT COUNT(*) FROM actors WHERE local = 1 AND kind = 'Group'`
)

func (db *DB) CreateActor(actor *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		return insertActor(tx, actor)
	})
}

func insertActor(tx *sql.Tx, actor *domain.Actor) error {
	var ownerId interface{}
	if actor.OwnerId != nil {
		ownerId = actor.OwnerId.String()
	}
	_, err := tx.Exec(sqlInsertActor,
		actor.Id.String(),
		actor.URI,
		actor.Username,
		actor.Domain,
		actor.DisplayName,
		actor.Summary,
		actor.AvatarURL,
		actor.InboxURI,
		actor.SharedInboxURI,
		actor.ProfileURL,
		string(actor.Kind),
		actor.Local,
		ownerId,
		actor.FollowerCount,
		actor.FollowingCount,
		actor.PublicKeyPem,
		actor.LastFetchedAt,
		actor.CreatedAt,
	)
	return err
}

// UpsertRemoteActor inserts a remote actor row or refreshes the mutable
// fields in place when the identity URI is already known. The URI itself is
// never rewritten.
func (db *DB) UpsertRemoteActor(actor *domain.Actor) (error, *domain.Actor) {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateActorByURI,
			actor.DisplayName,
			actor.Summary,
			actor.AvatarURL,
			actor.InboxURI,
			actor.SharedInboxURI,
			actor.ProfileURL,
			string(actor.Kind),
			actor.PublicKeyPem,
			actor.LastFetchedAt,
			actor.URI,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return insertActor(tx, actor)
		}
		return nil
	})
	if err != nil {
		return err, nil
	}
	return db.ReadActorByURI(actor.URI)
}

func (db *DB) scanActor(row *sql.Row) (error, *domain.Actor) {
	var actor domain.Actor
	var idStr, kindStr string
	var ownerIdStr sql.NullString
	err := row.Scan(
		&idStr,
		&actor.URI,
		&actor.Username,
		&actor.Domain,
		&actor.DisplayName,
		&actor.Summary,
		&actor.AvatarURL,
		&actor.InboxURI,
		&actor.SharedInboxURI,
		&actor.ProfileURL,
		&kindStr,
		&actor.Local,
		&ownerIdStr,
		&actor.FollowerCount,
		&actor.FollowingCount,
		&actor.PublicKeyPem,
		&actor.LastFetchedAt,
		&actor.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return err, nil
	}
	actor.Id, _ = uuid.Parse(idStr)
	actor.Kind = domain.ActorKind(kindStr)
	if ownerIdStr.Valid {
		ownerId, parseErr := uuid.Parse(ownerIdStr.String)
		if parseErr == nil {
			actor.OwnerId = &ownerId
		}
	}
	return nil, &actor
}

func (db *DB) ReadActorByURI(uri string) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorByURI, uri))
}

func (db *DB) ReadActorById(id uuid.UUID) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorById, id.String()))
}

func (db *DB) ReadLocalActorByUsername(username string) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectLocalActor, username))
}

// DeleteActorCascade removes an actor together with their posts, edges,
// keys and queue rows. Used for remote self-deletion only.
func (db *DB) DeleteActorCascade(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		idStr := id.String()
		if _, err := tx.Exec(`DELETE FROM media_attachments WHERE post_id IN (SELECT id FROM posts WHERE actor_id = ?)`, idStr); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM post_tags WHERE post_id IN (SELECT id FROM posts WHERE actor_id = ?)`, idStr); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM posts WHERE actor_id = ?`, idStr); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM follows WHERE account_id = ? OR target_account_id = ?`, idStr, idStr); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM likes WHERE account_id = ?`, idStr); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM boosts WHERE account_id = ?`, idStr); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM keypairs WHERE actor_id = ?`, idStr); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM actors WHERE id = ?`, idStr)
		return err
	})
}

func (db *DB) CountLocalActors() (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountLocalActors).Scan(&count)
	return err, count
}

// KeyPair queries
const (
	sqlInsertKeyPair  = `INSERT INTO keypairs(id, actor_id, algorithm, public_pem, private_pem, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectKeyPairs = `SELECT id, actor_id, algorithm, public_pem, private_pem, created_at FROM keypairs WHERE actor_id = ? ORDER BY CASE algorithm WHEN 'rsa' THEN 0 ELSE 1 END`
)

func (db *DB) CreateKeyPair(kp *domain.KeyPair) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertKeyPair,
			kp.Id.String(),
			kp.ActorId.String(),
			string(kp.Algorithm),
			kp.PublicPem,
			kp.PrivatePem,
			kp.CreatedAt,
		)
		return err
	})
}

// ReadKeyPairs returns all stored key variants for an actor, primary
// (rsa) first.
func (db *DB) ReadKeyPairs(actorId uuid.UUID) (error, *[]domain.KeyPair) {
	rows, err := db.db.Query(sqlSelectKeyPairs, actorId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var pairs []domain.KeyPair
	for rows.Next() {
		var kp domain.KeyPair
		var idStr, actorIdStr, algStr string
		if err := rows.Scan(&idStr, &actorIdStr, &algStr, &kp.PublicPem, &kp.PrivatePem, &kp.CreatedAt); err != nil {
			return err, &pairs
		}
		kp.Id, _ = uuid.Parse(idStr)
		kp.ActorId, _ = uuid.Parse(actorIdStr)
		kp.Algorithm = domain.KeyAlgorithm(algStr)
		pairs = append(pairs, kp)
	}
	if err = rows.Err(); err != nil {
		return err, &pairs
	}
	return nil, &pairs
}
