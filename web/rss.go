package web

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/feeds"
)

// GetRSS renders a local actor's outbox as an RSS feed.
func (s *Server) GetRSS(username string) (string, error) {
	if username == "" {
		return "", errors.New("username required")
	}

	err, actor := s.db.ReadLocalActorByUsername(username)
	if err != nil || actor == nil {
		return "", errors.New("actor not found")
	}

	err, posts := s.db.ReadPostsByActor(actor.Id, 50, 0)
	if err != nil || posts == nil {
		return "", errors.New("error retrieving posts")
	}

	email := fmt.Sprintf("%s@%s", actor.Username, s.conf.Conf.SslDomain)
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Posts by %s", actor.Handle()),
		Link:        &feeds.Link{Href: fmt.Sprintf("https://%s/feed?username=%s", s.conf.Conf.SslDomain, username)},
		Description: actor.Summary,
		Author:      &feeds.Author{Name: actor.Username, Email: email},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, post := range *posts {
		link := post.URI
		if post.URL != "" {
			link = post.URL
		}
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      post.Id.String(),
				Title:   post.PublishedAt.Format(time.RFC1123),
				Link:    &feeds.Link{Href: link},
				Content: post.Content,
				Author:  &feeds.Author{Name: actor.Username, Email: email},
				Created: post.PublishedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}
