// Package page gives the rest of the program a read-only view of host pages:
// which page is active and what markup it currently holds.
package page

import (
	"context"
	"errors"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoActivePage is returned when the browser has no page to offer.
var ErrNoActivePage = errors.New("no active page")

// Page is one open host page. Load re-reads the live markup on every call.
type Page interface {
	ID() string
	Location() string
	Load(ctx context.Context) (*goquery.Document, error)
}

// Browser reports the page the operator is currently looking at.
type Browser interface {
	ActivePage(ctx context.Context) (Page, error)
}
