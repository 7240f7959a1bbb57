package crawler

import "fmt"

// UnexpectedError covers failures outside the fetch/parse taxonomy:
// persistence errors, panics and anything unclassified.
type UnexpectedError struct {
	FeedURL string
	Err     error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error crawling %s: %v", e.FeedURL, e.Err)
}

func (e *UnexpectedError) Unwrap() error {
	return e.Err
}
