package tgui

// Page is one page of a slice. Number is 1-based and clamped to [1, Pages].
type Page[T any] struct {
	Items  []T
	Number int
	Pages  int
}

func (p Page[T]) HasNext() bool { return p.Number < p.Pages }

// Paginate returns page number of items split into pages of size (10 when
// size <= 0). An empty slice is a single empty page.
func Paginate[T any](items []T, number, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	pages := (len(items) + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	number = max(1, min(number, pages))
	start := min((number-1)*size, len(items))
	end := min(start+size, len(items))
	return Page[T]{Items: items[start:end], Number: number, Pages: pages}
}
