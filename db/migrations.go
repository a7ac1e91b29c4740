package db

import (
	"database/sql"
	"log"
)

const (
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		username TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		display_name TEXT DEFAULT '',
		summary TEXT DEFAULT '',
		avatar_url TEXT DEFAULT '',
		inbox_uri TEXT DEFAULT '',
		shared_inbox_uri TEXT DEFAULT '',
		profile_url TEXT DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'Person',
		local INTEGER DEFAULT 0,
		owner_id TEXT,
		follower_count INTEGER DEFAULT 0,
		following_count INTEGER DEFAULT 0,
		public_key_pem TEXT DEFAULT '',
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, domain)
	)`

	sqlCreateActorsIndices = `
		CREATE INDEX IF NOT EXISTS idx_actors_uri ON actors(uri);
		CREATE INDEX IF NOT EXISTS idx_actors_domain ON actors(domain);
		CREATE INDEX IF NOT EXISTS idx_actors_local ON actors(local);
	`

	sqlCreateKeypairsTable = `CREATE TABLE IF NOT EXISTS keypairs (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		public_pem TEXT NOT NULL,
		private_pem TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(actor_id, algorithm)
	)`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		actor_id TEXT NOT NULL,
		content TEXT DEFAULT '',
		url TEXT DEFAULT '',
		in_reply_to_id TEXT,
		sensitive INTEGER DEFAULT 0,
		featured INTEGER DEFAULT 0,
		recipients TEXT DEFAULT '[]',
		score INTEGER DEFAULT 0,
		reply_count INTEGER DEFAULT 0,
		like_count INTEGER DEFAULT 0,
		boost_count INTEGER DEFAULT 0,
		published_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP
	)`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_uri ON posts(uri);
		CREATE INDEX IF NOT EXISTS idx_posts_actor_id ON posts(actor_id);
		CREATE INDEX IF NOT EXISTS idx_posts_published_at ON posts(published_at DESC);
		CREATE INDEX IF NOT EXISTS idx_posts_in_reply_to ON posts(in_reply_to_id);
	`

	sqlCreateMediaTable = `CREATE TABLE IF NOT EXISTS media_attachments (
		id TEXT NOT NULL PRIMARY KEY,
		post_id TEXT NOT NULL,
		url TEXT NOT NULL,
		media_type TEXT DEFAULT '',
		alt_text TEXT DEFAULT '',
		width INTEGER DEFAULT 0,
		height INTEGER DEFAULT 0
	)`

	sqlCreateMediaIndices = `
		CREATE INDEX IF NOT EXISTS idx_media_post_id ON media_attachments(post_id);
	`

	sqlCreateTagsTable = `CREATE TABLE IF NOT EXISTS tags (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL
	)`

	sqlCreatePostTagsTable = `CREATE TABLE IF NOT EXISTS post_tags (
		post_id TEXT NOT NULL,
		tag_id TEXT NOT NULL,
		UNIQUE(post_id, tag_id)
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		target_account_id TEXT NOT NULL,
		uri TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, target_account_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_account_id ON follows(account_id);
		CREATE INDEX IF NOT EXISTS idx_follows_target_account_id ON follows(target_account_id);
		CREATE INDEX IF NOT EXISTS idx_follows_uri ON follows(uri);
	`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		post_id TEXT NOT NULL,
		uri TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, post_id)
	)`

	sqlCreateBoostsTable = `CREATE TABLE IF NOT EXISTS boosts (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		post_id TEXT NOT NULL,
		uri TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, post_id)
	)`

	sqlCreateEdgeIndices = `
		CREATE INDEX IF NOT EXISTS idx_likes_post_id ON likes(post_id);
		CREATE INDEX IF NOT EXISTS idx_likes_account_id ON likes(account_id);
		CREATE INDEX IF NOT EXISTS idx_boosts_post_id ON boosts(post_id);
		CREATE INDEX IF NOT EXISTS idx_boosts_account_id ON boosts(account_id);
	`

	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT DEFAULT '',
		raw_json TEXT NOT NULL,
		processed INTEGER DEFAULT 0,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		local INTEGER DEFAULT 0
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_uri ON activities(activity_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_processed ON activities(processed);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
	`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		activity_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		direction TEXT NOT NULL DEFAULT 'outbound',
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(inbox_uri, activity_uri)
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`

	sqlCreateNotificationsTable = `CREATE TABLE IF NOT EXISTS notifications (
		id TEXT NOT NULL PRIMARY KEY,
		kind TEXT NOT NULL,
		from_actor_id TEXT NOT NULL,
		to_actor_id TEXT NOT NULL,
		post_id TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateNotificationsIndices = `
		CREATE INDEX IF NOT EXISTS idx_notifications_to_actor ON notifications(to_actor_id);
	`

	sqlCreateCommunityPostsTable = `CREATE TABLE IF NOT EXISTS community_posts (
		id TEXT NOT NULL PRIMARY KEY,
		group_id TEXT NOT NULL,
		post_id TEXT NOT NULL,
		approved INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(group_id, post_id)
	)`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			createSQL string
			name      string
		}{
			{sqlCreateActorsTable, "actors"},
			{sqlCreateKeypairsTable, "keypairs"},
			{sqlCreatePostsTable, "posts"},
			{sqlCreateMediaTable, "media_attachments"},
			{sqlCreateTagsTable, "tags"},
			{sqlCreatePostTagsTable, "post_tags"},
			{sqlCreateFollowsTable, "follows"},
			{sqlCreateLikesTable, "likes"},
			{sqlCreateBoostsTable, "boosts"},
			{sqlCreateActivitiesTable, "activities"},
			{sqlCreateDeliveryQueueTable, "delivery_queue"},
			{sqlCreateNotificationsTable, "notifications"},
			{sqlCreateCommunityPostsTable, "community_posts"},
		}
		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.createSQL, table.name); err != nil {
				return err
			}
		}

		indices := []string{
			sqlCreateActorsIndices,
			sqlCreatePostsIndices,
			sqlCreateMediaIndices,
			sqlCreateFollowsIndices,
			sqlCreateEdgeIndices,
			sqlCreateActivitiesIndices,
			sqlCreateDeliveryQueueIndices,
			sqlCreateNotificationsIndices,
		}
		for _, stmt := range indices {
			if _, err := tx.Exec(stmt); err != nil {
				log.Printf("Warning: Failed to create indices: %v", err)
			}
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}
