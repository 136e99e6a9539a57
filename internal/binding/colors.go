package binding

// ColorPair is a light/dark color assigned to one author's change
// annotations.
type ColorPair struct {
	Light string
	Dark  string
}

// DefaultColors is the palette used when a binding is constructed without
// an explicit colors option: a single amber pair.
var DefaultColors = []ColorPair{{Light: "#ecd44433", Dark: "#ecd444"}}

// RandSource abstracts the randomness a color allocator draws from, so
// tests can inject a deterministic source.
type RandSource interface {
	Intn(n int) int
}

// ColorAllocator assigns a stable color to each author it has seen,
// drawing uniformly from the unused subset of the palette while any remains
// unused, and from the full palette once every entry is in use.
type ColorAllocator struct {
	palette []ColorPair
	rand    RandSource
	used    map[any]ColorPair
}

// NewColorAllocator builds an allocator over palette, preseeded with
// mapping (author -> color) and drawing randomness from rnd.
func NewColorAllocator(palette []ColorPair, mapping map[any]ColorPair, rnd RandSource) *ColorAllocator {
	if len(palette) == 0 {
		palette = DefaultColors
	}
	used := map[any]ColorPair{}
	for k, v := range mapping {
		used[k] = v
	}
	return &ColorAllocator{palette: palette, rand: rnd, used: used}
}

// ColorFor returns the color assigned to author, allocating one on first
// use.
func (a *ColorAllocator) ColorFor(author any) ColorPair {
	if c, ok := a.used[author]; ok {
		return c
	}
	var pool []ColorPair
	if len(a.used) < len(a.palette) {
		for _, c := range a.palette {
			if !a.colorInUse(c) {
				pool = append(pool, c)
			}
		}
	}
	if len(pool) == 0 {
		pool = a.palette
	}
	if len(pool) == 1 {
		choice := pool[0]
		a.used[author] = choice
		return choice
	}
	choice := pool[a.rand.Intn(len(pool))]
	a.used[author] = choice
	return choice
}

func (a *ColorAllocator) colorInUse(c ColorPair) bool {
	for _, used := range a.used {
		if used == c {
			return true
		}
	}
	return false
}
