package system

// Partials holds the dense partial-derivative blocks of one component,
// keyed by (of, wrt) variable names. Each block is row-major with size(of)
// rows and size(wrt) columns.
type Partials struct {
	sizes  map[string]int
	blocks map[partialKey][]float64
	keys   []partialKey
}

type partialKey struct {
	of  string
	wrt string
}

func newPartials(sizes map[string]int) *Partials {
	return &Partials{
		sizes:  sizes,
		blocks: make(map[partialKey][]float64),
	}
}

// Set assigns the block d(of)/d(wrt). vals must hold size(of)*size(wrt)
// row-major entries; a short slice panics, matching an out-of-range write.
func (p *Partials) Set(of, wrt string, vals ...float64) {
	k := partialKey{of, wrt}
	n := p.sizes[of] * p.sizes[wrt]
	b, ok := p.blocks[k]
	if !ok {
		b = make([]float64, n)
		p.blocks[k] = b
		p.keys = append(p.keys, k)
	}
	copy(b, vals[:n])
}

// Get returns the stored block and whether it exists.
func (p *Partials) Get(of, wrt string) ([]float64, bool) {
	b, ok := p.blocks[partialKey{of, wrt}]
	return b, ok
}

func (p *Partials) reset() {
	p.blocks = make(map[partialKey][]float64)
	p.keys = p.keys[:0]
}

func (p *Partials) empty() bool { return len(p.keys) == 0 }

// each visits blocks in insertion order.
func (p *Partials) each(fn func(of, wrt string, vals []float64)) {
	for _, k := range p.keys {
		fn(k.of, k.wrt, p.blocks[k])
	}
}
