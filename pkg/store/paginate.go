package store

// Page is one window of a listing.
type Page[T any] struct {
	Page         int `json:"page"`
	TotalEntries int `json:"total_entries"`
	TotalPages   int `json:"total_pages"`
	Entries      []T `json:"entries"`
}

// Paginate windows items by ordinal position. Pages past the end are empty
// but still report the totals.
func Paginate[T any](items []T, page, perPage int) (Page[T], error) {
	if page < 1 || perPage < 1 {
		return Page[T]{}, ErrInvalidPage
	}

	total := len(items)
	pages := total / perPage
	if total%perPage != 0 {
		pages++
	}

	start := total
	if page-1 < pages {
		start = (page - 1) * perPage
	}
	end := total
	if perPage < total-start {
		end = start + perPage
	}

	entries := make([]T, end-start)
	copy(entries, items[start:end])

	return Page[T]{
		Page:         page,
		TotalEntries: total,
		TotalPages:   pages,
		Entries:      entries,
	}, nil
}

// Map converts the entries of a page, keeping its totals.
func Map[T, U any](p Page[T], fn func(T) U) Page[U] {
	out := Page[U]{
		Page:         p.Page,
		TotalEntries: p.TotalEntries,
		TotalPages:   p.TotalPages,
		Entries:      make([]U, 0, len(p.Entries)),
	}
	for _, e := range p.Entries {
		out.Entries = append(out.Entries, fn(e))
	}
	return out
}
