package model

import "time"

// Post is an uploaded PDF and its catalog metadata.
//
// AuthorID never changes after creation. Author is the uploader's username
// copied at upload time so listings don't need a join.
type Post struct {
	ID            string    `json:"id"`
	Chapter       string    `json:"chapter"`
	Subject       string    `json:"subject"`
	Topics        string    `json:"topics"`
	Qualification string    `json:"qualification"`
	Filename      string    `json:"filename"`
	AuthorID      string    `json:"authorId"`
	Author        string    `json:"author"`
	Likes         []string  `json:"likes"`
	PostedDate    time.Time `json:"postedDate"`
}

// Subject and Chapter are deduplicated labels, created the first time a
// post references a new title.
type Subject struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Chapter struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}
