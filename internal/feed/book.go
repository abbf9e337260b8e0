package feed

// levelBook tracks resting size per price level for one side of a book. It
// exists to turn snapshot plus delta feeds into a best price and size.
type levelBook struct {
	levels map[float64]float64
}

func newLevelBook() *levelBook {
	return &levelBook{levels: make(map[float64]float64)}
}

// reset replaces all levels with the given snapshot.
func (b *levelBook) reset() {
	b.levels = make(map[float64]float64)
}

// set stores the absolute size at a price level; zero removes the level.
func (b *levelBook) set(price, size float64) {
	if size <= 0 {
		delete(b.levels, price)
		return
	}
	b.levels[price] = size
}

// add applies a signed size delta at a price level.
func (b *levelBook) add(price, delta float64) {
	next := b.levels[price] + delta
	b.set(price, next)
}

// best returns the extreme price level and its size. highest selects the
// maximum price (bid side) or the minimum price (ask side). ok is false when
// the book side is empty.
func (b *levelBook) best(highest bool) (price, size float64, ok bool) {
	for p, s := range b.levels {
		if !ok || (highest && p > price) || (!highest && p < price) {
			price, size, ok = p, s, true
		}
	}
	return price, size, ok
}
