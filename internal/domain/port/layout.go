package port

// Relocation is one artifact moved into the canonical layout.
type Relocation struct {
	From string
	To   string
}

// LayoutAdapter translates whatever output shape the reconstruction tool
// produced under outputBase into the canonical sparse/0 layout.
type LayoutAdapter interface {
	Normalize(outputBase string) ([]Relocation, error)
	// Complete reports whether the canonical model is fully present.
	Complete(outputBase string) (bool, error)
}
