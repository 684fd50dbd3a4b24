// Package walker follows linked lists of pages lazily, one fetch per
// page, yielding items to a visitor.
package walker

import "context"

// FetchPage fetches and decodes the page at uri, returning its items
// and the URI of the next page ("" when this was the last page).
type FetchPage[T any] func(ctx context.Context, uri string) (items []T, next string, err error)

// Stop is returned by a visitor to end the walk early without error.
type stopWalk struct{}

func (stopWalk) Error() string { return "walk stopped" }

// ErrStop ends a walk early; Walk absorbs it and returns nil.
var ErrStop error = stopWalk{}

// Walk follows pages starting at first, invoking visit for each item in
// page order. A visitor returning ErrStop ends the walk cleanly; any
// other error aborts it.
func Walk[T any](ctx context.Context, first string, fetch FetchPage[T], visit func(item T) error) error {
	uri := first
	for uri != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, next, err := fetch(ctx, uri)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := visit(item); err != nil {
				if err == ErrStop {
					return nil
				}
				return err
			}
		}
		uri = next
	}
	return nil
}
