package blockdev

// Candidate is what the enumeration collaborator hands to the engine: a path
// plus a sector-size hint. The engine never infers sector size itself.
type Candidate struct {
	Path           string
	SectorSizeHint int
	Size           int64 // bytes, -1 when unknown
	Whole          bool  // whole-disk device rather than a partition
	Removable      bool
	Reason         string // why a non-whole candidate was listed
}

// Discover lists block devices visible to this process. It is read-only.
func Discover() ([]Candidate, error) {
	return discover()
}

// probe opens path read-only and fills in size and sector-size hint.
func probe(c *Candidate) {
	c.Size = -1
	d, err := Open(c.Path, DefaultSectorSize, ReadOnly)
	if err != nil {
		return
	}
	defer d.Close()
	if sz, err := d.Size(); err == nil {
		c.Size = sz
	}
	if c.SectorSizeHint == 0 {
		c.SectorSizeHint = d.LogicalSectorSize()
	}
}

// HintOrDefault returns the hint, falling back to DefaultSectorSize.
func (c Candidate) HintOrDefault() int {
	if c.SectorSizeHint > 0 {
		return c.SectorSizeHint
	}
	return DefaultSectorSize
}
