package repository

import "github.com/ammar0144/persist4go/pkg/query"

// Page is one page of a result plus the total number of matching elements
type Page[T any] struct {
	Content       []T
	Number        int
	Size          int
	TotalElements int64
	TotalPages    int
	Sort          query.Sort
}

// NewPage builds a page for a request and a known total
func NewPage[T any](content []T, page *query.Pageable, total int64) *Page[T] {
	p := &Page[T]{Content: content, TotalElements: total}
	if page != nil {
		p.Number = page.Page
		p.Size = page.Size
		p.Sort = page.Sort
	}
	switch {
	case p.Size > 0:
		p.TotalPages = int((total + int64(p.Size) - 1) / int64(p.Size))
	case total > 0:
		p.TotalPages = 1
	}
	return p
}

// NumberOfElements is the number of items on this page
func (p *Page[T]) NumberOfElements() int {
	return len(p.Content)
}

// IsFirst reports whether this is the first page
func (p *Page[T]) IsFirst() bool {
	return p.Number == 0
}

// IsLast reports whether no page follows
func (p *Page[T]) IsLast() bool {
	return !p.HasNext()
}

// HasNext reports whether another page follows
func (p *Page[T]) HasNext() bool {
	return p.Number+1 < p.TotalPages
}

// HasPrevious reports whether a page precedes this one
func (p *Page[T]) HasPrevious() bool {
	return p.Number > 0
}

// NextPageable returns the request of the following page
func (p *Page[T]) NextPageable() *query.Pageable {
	return query.PageRequest(p.Number+1, p.Size, p.Sort.Orders...)
}

// MapPage converts the content of a page, keeping its paging data
func MapPage[T, U any](p *Page[T], fn func(T) U) *Page[U] {
	out := &Page[U]{
		Content:       make([]U, len(p.Content)),
		Number:        p.Number,
		Size:          p.Size,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
		Sort:          p.Sort,
	}
	for i, item := range p.Content {
		out.Content[i] = fn(item)
	}
	return out
}

// Slice is one page of a result that only knows whether another page follows
type Slice[T any] struct {
	Content []T
	Number  int
	Size    int
	Sort    query.Sort
	hasNext bool
}

// NewSlice builds a slice for a request
func NewSlice[T any](content []T, page *query.Pageable, hasNext bool) *Slice[T] {
	s := &Slice[T]{Content: content, hasNext: hasNext}
	if page != nil {
		s.Number = page.Page
		s.Size = page.Size
		s.Sort = page.Sort
	}
	return s
}

// NumberOfElements is the number of items in this slice
func (s *Slice[T]) NumberOfElements() int {
	return len(s.Content)
}

// IsFirst reports whether this is the first slice
func (s *Slice[T]) IsFirst() bool {
	return s.Number == 0
}

// IsLast reports whether no slice follows
func (s *Slice[T]) IsLast() bool {
	return !s.hasNext
}

// HasNext reports whether another slice follows
func (s *Slice[T]) HasNext() bool {
	return s.hasNext
}

// HasPrevious reports whether a slice precedes this one
func (s *Slice[T]) HasPrevious() bool {
	return s.Number > 0
}

// NextPageable returns the request of the following slice
func (s *Slice[T]) NextPageable() *query.Pageable {
	return query.PageRequest(s.Number+1, s.Size, s.Sort.Orders...)
}

// MapSlice converts the content of a slice, keeping its paging data
func MapSlice[T, U any](s *Slice[T], fn func(T) U) *Slice[U] {
	out := &Slice[U]{
		Content: make([]U, len(s.Content)),
		Number:  s.Number,
		Size:    s.Size,
		Sort:    s.Sort,
		hasNext: s.hasNext,
	}
	for i, item := range s.Content {
		out.Content[i] = fn(item)
	}
	return out
}
