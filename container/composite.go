package container

import "fmt"

// MaxNestingDepth bounds how many containers may be wrapped inside each other.
const MaxNestingDepth = 16

// Composite is an ASiC-S container whose only data file is another container.
type Composite struct {
	outer       *Simple
	nested      Container
	wrapperName string
}

// NewComposite wraps nested. wrapper is the encoded nested container stored as
// the data file of the new nesting level.
func NewComposite(nested Container, wrapper *DataFile) (*Composite, error) {
	if nested == nil {
		return nil, ErrNilNestedContainer
	}
	if depth := Depth(nested); depth+1 > MaxNestingDepth {
		return nil, fmt.Errorf("%w: %d", ErrNestingTooDeep, depth+1)
	}
	outer := NewSimple(TypeASiCS)
	if err := outer.AddDataFile(wrapper); err != nil {
		return nil, err
	}
	return &Composite{outer: outer, nested: nested, wrapperName: wrapper.Name}, nil
}

func (c *Composite) sealed() {}

// Type is always ASiC-S for the nesting level.
func (c *Composite) Type() Type { return TypeASiCS }

// Nested returns the wrapped container.
func (c *Composite) Nested() Container { return c.nested }

// Outer returns the nesting level as a simple container.
func (c *Composite) Outer() *Simple { return c.outer }

// DataFiles returns the nesting level data files.
func (c *Composite) DataFiles() []*DataFile { return c.outer.DataFiles() }

// Signatures returns the nesting level signatures.
func (c *Composite) Signatures() []*Signature { return c.outer.Signatures() }

// Timestamps returns the nesting level timestamps.
func (c *Composite) Timestamps() []*Timestamp { return c.outer.Timestamps() }

// AddTimestamp appends a timestamp at the outermost level.
func (c *Composite) AddTimestamp(ts *Timestamp) { c.outer.AddTimestamp(ts) }

// NestedContainerType returns the declared type of the wrapped container.
func (c *Composite) NestedContainerType() Type { return c.nested.Type() }

// NestingWrapperName returns the entry name of the wrapped container.
func (c *Composite) NestingWrapperName() string { return c.wrapperName }

// NestingContainerDataFiles returns the data files added at the outer level.
func (c *Composite) NestingContainerDataFiles() []*DataFile { return c.outer.DataFiles() }

// NestingContainerSignatures returns the signatures added at the outer level.
func (c *Composite) NestingContainerSignatures() []*Signature { return c.outer.Signatures() }

// NestingContainerTimestamps returns the timestamps added at the outer level.
func (c *Composite) NestingContainerTimestamps() []*Timestamp { return c.outer.Timestamps() }

// NestedContainerDataFiles returns the data files of every wrapped level.
func (c *Composite) NestedContainerDataFiles() []*DataFile { return Flatten(c.nested).DataFiles }

// NestedContainerSignatures returns the signatures of every wrapped level.
func (c *Composite) NestedContainerSignatures() []*Signature { return Flatten(c.nested).Signatures }

// NestedContainerTimestamps returns the timestamps of every wrapped level.
func (c *Composite) NestedContainerTimestamps() []*Timestamp { return Flatten(c.nested).Timestamps }

// View is the flattened content of a container and everything it wraps.
type View struct {
	DataFiles  []*DataFile
	Signatures []*Signature
	Timestamps []*Timestamp
}

// Level is one nesting level visited by Walk.
type Level struct {
	// Depth is 0 for the outermost container.
	Depth     int
	Container Container
}

// Levels returns every nesting level of c, innermost first.
func Levels(c Container) []Level {
	var chain []Container
	for cur := c; cur != nil && len(chain) <= MaxNestingDepth; cur = cur.Nested() {
		chain = append(chain, cur)
	}
	levels := make([]Level, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		levels = append(levels, Level{Depth: i, Container: chain[i]})
	}
	return levels
}

// Walk calls fn for each nesting level of c, innermost first.
func Walk(c Container, fn func(Level) error) error {
	if d := Depth(c); d > MaxNestingDepth {
		return fmt.Errorf("%w: %d", ErrNestingTooDeep, d)
	}
	for _, level := range Levels(c) {
		if err := fn(level); err != nil {
			return err
		}
	}
	return nil
}

// Flatten collects the content of c and every wrapped level, innermost level
// first, each level in its own order.
func Flatten(c Container) View {
	var v View
	for _, level := range Levels(c) {
		v.DataFiles = append(v.DataFiles, level.Container.DataFiles()...)
		v.Signatures = append(v.Signatures, level.Container.Signatures()...)
		v.Timestamps = append(v.Timestamps, level.Container.Timestamps()...)
	}
	return v
}

// Depth returns the number of levels in c, counting c itself.
func Depth(c Container) int {
	n := 0
	for cur := c; cur != nil; cur = cur.Nested() {
		n++
		if n > MaxNestingDepth+1 {
			break
		}
	}
	return n
}
