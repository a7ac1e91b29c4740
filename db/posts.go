package db

import (
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/mhoehle/loxodon/domain"
)

// Post queries
const (
	sqlPostColumns = `id, uri, actor_id, content, url, in_reply_to_id, sensitive, featured, recipients, score, reply_count, like_count, boost_count, published_at, created_at, edited_at`

	sqlInsertPostIgnore = `INSERT OR IGNORE INTO posts(id, uri, actor_id, content, url, in_reply_to_id, sensitive, featured, recipients, score, reply_count, like_count, boost_count, published_at, created_at, edited_at)
                           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdatePost = `UPDATE posts SET content = ?, url = ?, sensitive = ?, featured = ?, edited_at = ? WHERE id = ?`

	sqlSelectPostByURI = `SELECT ` + sqlPostColumns + ` FROM posts WHERE uri = ?`
	sqlSelectPostById  = `SELECT ` + sqlPostColumns + ` FROM posts WHERE id = ?`

	sqlSelectPostsByActor = `SELECT ` + sqlPostColumns + ` FROM posts WHERE actor_id = ? ORDER BY published_at DESC LIMIT ? OFFSET ?`

	sqlSelectFeaturedPostsByActor = `SELECT ` + sqlPostColumns + ` FROM posts WHERE actor_id = ? AND featured = 1 ORDER BY published_at DESC LIMIT ? OFFSET ?`

	sqlSelectLikedPostsByActor = `SELECT p.id, p.uri, p.actor_id, p.content, p.url, p.in_reply_to_id, p.sensitive, p.featured, p.recipients, p.score, p.reply_count, p.like_count, p.boost_count, p.published_at, p.created_at, p.edited_at
                                  FROM posts p INNER JOIN likes l ON l.post_id = p.id
                                  WHERE l.account_id = ? ORDER BY l.created_at DESC LIMIT ? OFFSET ?`

	sqlCountPostsByActor         = `SELECT COUNT(*) FROM posts WHERE actor_id = ?`
	sqlCountFeaturedPostsByActor = `SELECT COUNT(*) FROM posts WHERE actor_id = ? AND featured = 1`
	sqlCountLikesByActor         = `SELECT COUNT(*) FROM likes WHERE account_id = ?`
	sqlCountLocalPosts           = `SELECT COUNT(*) FROM posts p INNER JOIN actors a ON a.id = p.actor_id WHERE a.local = 1`
)

// CreateOrGetPostByURI stores the post unless a row with the same object
// URI already exists; concurrent duplicate inserts resolve to the existing
// row rather than erroring. The bool reports whether the post was created.
func (db *DB) CreateOrGetPostByURI(post *domain.Post) (error, *domain.Post, bool) {
	created := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		var replyTo interface{}
		if post.InReplyToId != nil {
			replyTo = post.InReplyToId.String()
		}
		var editedAt interface{}
		if post.EditedAt != nil {
			editedAt = *post.EditedAt
		}
		recipientsJSON, err := json.Marshal(post.Recipients)
		if err != nil {
			return err
		}
		res, err := tx.Exec(sqlInsertPostIgnore,
			post.Id.String(),
			post.URI,
			post.ActorId.String(),
			post.Content,
			post.URL,
			replyTo,
			post.Sensitive,
			post.Featured,
			string(recipientsJSON),
			post.Score,
			post.ReplyCount,
			post.LikeCount,
			post.BoostCount,
			post.PublishedAt,
			post.CreatedAt,
			editedAt,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = affected > 0
		return nil
	})
	if err != nil {
		return err, nil, false
	}
	err, stored := db.ReadPostByURI(post.URI)
	return err, stored, created
}

func (db *DB) UpdatePost(post *domain.Post) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		var editedAt interface{}
		if post.EditedAt != nil {
			editedAt = *post.EditedAt
		}
		_, err := tx.Exec(sqlUpdatePost,
			post.Content,
			post.URL,
			post.Sensitive,
			post.Featured,
			editedAt,
			post.Id.String(),
		)
		return err
	})
}

func (db *DB) scanPost(scan func(dest ...interface{}) error) (error, *domain.Post) {
	var post domain.Post
	var idStr, actorIdStr, recipientsJSON string
	var replyToStr sql.NullString
	var editedAt sql.NullTime
	err := scan(
		&idStr,
		&post.URI,
		&actorIdStr,
		&post.Content,
		&post.URL,
		&replyToStr,
		&post.Sensitive,
		&post.Featured,
		&recipientsJSON,
		&post.Score,
		&post.ReplyCount,
		&post.LikeCount,
		&post.BoostCount,
		&post.PublishedAt,
		&post.CreatedAt,
		&editedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return err, nil
	}
	post.Id, _ = uuid.Parse(idStr)
	post.ActorId, _ = uuid.Parse(actorIdStr)
	if replyToStr.Valid {
		replyTo, parseErr := uuid.Parse(replyToStr.String)
		if parseErr == nil {
			post.InReplyToId = &replyTo
		}
	}
	if editedAt.Valid {
		t := editedAt.Time
		post.EditedAt = &t
	}
	json.Unmarshal([]byte(recipientsJSON), &post.Recipients)
	return nil, &post
}

func (db *DB) ReadPostByURI(uri string) (error, *domain.Post) {
	return db.scanPost(db.db.QueryRow(sqlSelectPostByURI, uri).Scan)
}

func (db *DB) ReadPostById(id uuid.UUID) (error, *domain.Post) {
	return db.scanPost(db.db.QueryRow(sqlSelectPostById, id.String()).Scan)
}

func (db *DB) readPostRows(query string, args ...interface{}) (error, *[]domain.Post) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		err, post := db.scanPost(rows.Scan)
		if err != nil {
			return err, &posts
		}
		posts = append(posts, *post)
	}
	if err = rows.Err(); err != nil {
		return err, &posts
	}
	return nil, &posts
}

func (db *DB) ReadPostsByActor(actorId uuid.UUID, limit, offset int) (error, *[]domain.Post) {
	return db.readPostRows(sqlSelectPostsByActor, actorId.String(), limit, offset)
}

func (db *DB) ReadFeaturedPostsByActor(actorId uuid.UUID, limit, offset int) (error, *[]domain.Post) {
	return db.readPostRows(sqlSelectFeaturedPostsByActor, actorId.String(), limit, offset)
}

func (db *DB) ReadLikedPostsByActor(actorId uuid.UUID, limit, offset int) (error, *[]domain.Post) {
	return db.readPostRows(sqlSelectLikedPostsByActor, actorId.String(), limit, offset)
}

func (db *DB) countOne(query string, args ...interface{}) (error, int) {
	var count int
	err := db.db.QueryRow(query, args...).Scan(&count)
	return err, count
}

func (db *DB) CountPostsByActor(actorId uuid.UUID) (error, int) {
	return db.countOne(sqlCountPostsByActor, actorId.String())
}

func (db *DB) CountFeaturedPostsByActor(actorId uuid.UUID) (error, int) {
	return db.countOne(sqlCountFeaturedPostsByActor, actorId.String())
}

func (db *DB) CountLikesByActor(actorId uuid.UUID) (error, int) {
	return db.countOne(sqlCountLikesByActor, actorId.String())
}

func (db *DB) CountLocalPosts() (error, int) {
	return db.countOne(sqlCountLocalPosts)
}

// DeletePostCascade removes a post with its attachments, tags and edges.
func (db *DB) DeletePostCascade(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		idStr := id.String()
		if _, err := tx.Exec(`DELETE FROM media_attachments WHERE post_id = ?`, idStr); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM post_tags WHERE post_id = ?`, idStr); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM likes WHERE post_id = ?`, idStr); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM boosts WHERE post_id = ?`, idStr); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM community_posts WHERE post_id = ?`, idStr); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM posts WHERE id = ?`, idStr)
		return err
	})
}

// Media attachments

const (
	sqlInsertMedia       = `INSERT INTO media_attachments(id, post_id, url, media_type, alt_text, width, height) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlDeleteMediaByPost = `DELETE FROM media_attachments WHERE post_id = ?`
	sqlSelectMediaByPost = `SELECT id, post_id, url, media_type, alt_text, width, height FROM media_attachments WHERE post_id = ?`
)

// ReplaceMediaAttachments swaps the full attachment set of a post, as post
// updates replace media wholesale.
func (db *DB) ReplaceMediaAttachments(postId uuid.UUID, media []domain.MediaAttachment) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlDeleteMediaByPost, postId.String()); err != nil {
			return err
		}
		for _, m := range media {
			if _, err := tx.Exec(sqlInsertMedia,
				m.Id.String(),
				postId.String(),
				m.URL,
				m.MediaType,
				m.AltText,
				m.Width,
				m.Height,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) ReadMediaByPost(postId uuid.UUID) (error, *[]domain.MediaAttachment) {
	rows, err := db.db.Query(sqlSelectMediaByPost, postId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var media []domain.MediaAttachment
	for rows.Next() {
		var m domain.MediaAttachment
		var idStr, postIdStr string
		if err := rows.Scan(&idStr, &postIdStr, &m.URL, &m.MediaType, &m.AltText, &m.Width, &m.Height); err != nil {
			return err, &media
		}
		m.Id, _ = uuid.Parse(idStr)
		m.PostId, _ = uuid.Parse(postIdStr)
		media = append(media, m)
	}
	if err = rows.Err(); err != nil {
		return err, &media
	}
	return nil, &media
}

// Tags

// ReplacePostTags swaps the full hashtag set of a post.
func (db *DB) ReplacePostTags(postId uuid.UUID, names []string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM post_tags WHERE post_id = ?`, postId.String()); err != nil {
			return err
		}
		for _, name := range names {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO tags(id, name) VALUES (?, ?)`, uuid.New().String(), name); err != nil {
				return err
			}
			var tagId string
			if err := tx.QueryRow(`SELECT id FROM tags WHERE name = ?`, name).Scan(&tagId); err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT OR IGNORE INTO post_tags(post_id, tag_id) VALUES (?, ?)`, postId.String(), tagId); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) ReadPostTags(postId uuid.UUID) (error, []string) {
	rows, err := db.db.Query(`SELECT t.name FROM tags t INNER JOIN post_tags pt ON pt.tag_id = t.id WHERE pt.post_id = ? ORDER BY t.name`, postId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err, names
		}
		names = append(names, name)
	}
	return rows.Err(), names
}

// Counters and score. Counts are bumped transactionally here, not by
// in-process locking; readers tolerate them briefly lagging the edges.

func (db *DB) bumpCounter(query string, postId uuid.UUID, delta int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(query, delta, postId.String())
		return err
	})
}

func (db *DB) BumpReplyCount(postId uuid.UUID, delta int) error {
	return db.bumpCounter(`UPDATE posts SET reply_count = MAX(0, reply_count + ?) WHERE id = ?`, postId, delta)
}

func (db *DB) BumpLikeCount(postId uuid.UUID, delta int) error {
	return db.bumpCounter(`UPDATE posts SET like_count = MAX(0, like_count + ?) WHERE id = ?`, postId, delta)
}

func (db *DB) BumpBoostCount(postId uuid.UUID, delta int) error {
	return db.bumpCounter(`UPDATE posts SET boost_count = MAX(0, boost_count + ?) WHERE id = ?`, postId, delta)
}

// RecalcPostScore recomputes the ranking score from the stored counters.
func (db *DB) RecalcPostScore(postId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE posts SET score = like_count + 2 * boost_count + reply_count WHERE id = ?`, postId.String())
		return err
	})
}

// RecalcParentPostScore recomputes the score of a reply's parent.
func (db *DB) RecalcParentPostScore(childId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE posts SET score = like_count + 2 * boost_count + reply_count
                           WHERE id = (SELECT in_reply_to_id FROM posts WHERE id = ?)`, childId.String())
		return err
	})
}

// Community posts

const (
	sqlInsertCommunityPost = `INSERT OR IGNORE INTO community_posts(id, group_id, post_id, approved, created_at) VALUES (?, ?, ?, ?, ?)`
)

func (db *DB) CreateCommunityPost(cp *domain.CommunityPost) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertCommunityPost,
			cp.Id.String(),
			cp.GroupId.String(),
			cp.PostId.String(),
			cp.Approved,
			cp.CreatedAt,
		)
		return err
	})
}
