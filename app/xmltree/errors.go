package xmltree

import "fmt"

// MalformedDocumentError reports bytes the tokenizer rejected or a
// document that ended with unclosed elements.
type MalformedDocumentError struct {
	Err error
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("malformed document: %v", e.Err)
}

func (e *MalformedDocumentError) Unwrap() error {
	return e.Err
}
