package selector

type fifoStrategy[T any] struct{}

// FIFOStrategy selects candidates first to last: the first survivor of the
// filter chain wins.
func FIFOStrategy[T any]() Strategy[T] {
	return &fifoStrategy[T]{}
}

func (s *fifoStrategy[T]) Apply(vs ...T) (v T) {
	if len(vs) == 0 {
		return
	}
	return vs[0]
}
