package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/pitchconnect/db"
	"github.com/deemkeen/pitchconnect/util"
	"github.com/gorilla/feeds"
)

const feedLimit = 50

func (s *Server) GetRSS(username string) (string, error) {

	var err error
	var posts *[]db.PostWithAuthor
	var title string
	var createdBy string

	link := fmt.Sprintf("https://%s/feed", s.conf.Conf.SslDomain)

	if username != "" {
		err, posts = s.db.ReadPostsByUsername(username)
		if err != nil || posts == nil || len(*posts) == 0 {
			log.Println(fmt.Sprintf("Could not get posts from %s!", username), err)
			return "", errors.New("error retrieving posts by username")
		}
		title = fmt.Sprintf("Pitchconnect Posts - %s", username)
		createdBy = username
		link = fmt.Sprintf("%s?username=%s", link, username)
	} else {
		err, posts = s.db.ReadRecentPosts(feedLimit)
		if err != nil || posts == nil || len(*posts) == 0 {
			log.Println("Could not get posts!", err)
			return "", errors.New("error retrieving posts")
		}
		title = "All Pitchconnect Posts"
		createdBy = "everyone"
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: "pitchconnect post feed",
		Author:      &feeds.Author{Name: createdBy, Email: fmt.Sprintf("%s@%s", createdBy, s.conf.Conf.SslDomain)},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, post := range *posts {
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      post.Id.String(),
				Title:   post.PublishedAt.Format(util.DateTimeFormat()),
				Link:    &feeds.Link{Href: post.IRI},
				Content: post.Content,
				Author:  &feeds.Author{Name: post.Username, Email: fmt.Sprintf("%s@%s", post.Username, s.conf.Conf.SslDomain)},
				Created: post.PublishedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}
