package activitypub

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/mhoehle/loxodon/domain"
)

const previewTimeout = 5 * time.Second

// enrichPreview fetches the title of a post's external link and folds it
// into the stored content when the post arrived without one. Entirely
// best-effort: any failure is logged and forgotten.
func (e *Engine) enrichPreview(post *domain.Post) {
	if post.URL == "" {
		return
	}
	if strings.HasPrefix(post.Content, "# ") {
		// Already carries a heading.
		return
	}

	title, err := fetchPageTitle(post.URL)
	if err != nil || title == "" {
		if err != nil {
			log.Printf("Preview: Failed to fetch %s: %v", post.URL, err)
		}
		return
	}

	post.Content = "# " + title + "\n\n" + post.Content
	if len(post.Content) > e.conf.Conf.MaxContentBytes {
		return
	}
	if err := e.store.UpdatePost(post); err != nil {
		log.Printf("Preview: Failed to update %s: %v", post.URI, err)
	}
}

// fetchPageTitle GETs the page and tokenizes just far enough to read the
// <title> element.
func fetchPageTitle(url string) (string, error) {
	client := &http.Client{Timeout: previewTimeout}
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent())
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	tokenizer := html.NewTokenizer(io.LimitReader(resp.Body, 64*1024))
	inTitle := false
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return "", nil
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			inTitle = string(name) == "title"
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(tokenizer.Token().Data), nil
			}
		case html.EndTagToken:
			inTitle = false
		}
	}
}
