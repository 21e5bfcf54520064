package models

import "strconv"

// Page is a normalized offset pagination request.
type Page struct {
	Page    int
	PerPage int
}

// NewPage clamps raw values the way every listing endpoint does:
// page >= 1, 1 <= perPage <= max, falling back to def when unset or invalid.
func NewPage(rawPage, rawPerPage string, def, max int) Page {
	page, err := strconv.Atoi(rawPage)
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err := strconv.Atoi(rawPerPage)
	if err != nil || perPage < 1 {
		perPage = def
	}
	if perPage > max {
		perPage = max
	}
	return Page{Page: page, PerPage: perPage}
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Meta is the pagination envelope returned next to list data.
type Meta struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func (p Page) Meta(total int) Meta {
	pages := 0
	if p.PerPage > 0 {
		pages = (total + p.PerPage - 1) / p.PerPage
	}
	return Meta{Page: p.Page, PerPage: p.PerPage, Total: total, TotalPages: pages}
}
