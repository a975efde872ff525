package models

const (
	DefaultPageSize = 10
	MaxPageSize     = 100

	// MaxPageNumber keeps Number*Size far inside int range
	MaxPageNumber = 1 << 20
)

// Page selects a window of a listing. Number is zero based.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page into the supported range
func (p Page) Normalize() Page {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Number > MaxPageNumber {
		p.Number = MaxPageNumber
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset is the number of records skipped before this page
func (p Page) Offset() int {
	return p.Number * p.Size
}

// PageResult is one page of a listing plus the total count
type PageResult[T any] struct {
	Items []T `json:"content"`
	Total int `json:"total_elements"`
	Page  int `json:"page"`
	Size  int `json:"size"`
}
