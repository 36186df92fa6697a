package model

import "time"

// Commit mirrors the subset of the GitHub commit listing the dashboard renders.
type Commit struct {
	SHA     string       `json:"sha"`
	Commit  CommitDetail `json:"commit"`
	HTMLURL string       `json:"html_url"`
}

// CommitDetail holds the message and author of a commit.
type CommitDetail struct {
	Message string       `json:"message"`
	Author  CommitAuthor `json:"author"`
}

// CommitAuthor identifies who authored a commit and when.
type CommitAuthor struct {
	Name string    `json:"name"`
	Date time.Time `json:"date"`
}
