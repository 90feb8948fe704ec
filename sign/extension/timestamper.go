package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgepadayatti/goasic/asic"
	"github.com/georgepadayatti/goasic/container"
	"github.com/georgepadayatti/goasic/sign/timestamps"
	"github.com/georgepadayatti/goasic/sign/validation"
)

// Timestamper adds container timestamps to unsigned ASiC-S containers. The
// first token covers the data file; every later token covers an archive
// manifest that references all earlier tokens and the data file.
type Timestamper struct {
	Source Factory[timestamps.TSPSource]
	options
}

// NewTimestamper creates a timestamper over source.
func NewTimestamper(source Factory[timestamps.TSPSource], opts ...Option) *Timestamper {
	return &Timestamper{Source: source, options: newOptions(opts)}
}

type timestampable interface {
	container.Container
	AddTimestamp(ts *container.Timestamp)
}

// AddTimestamp appends the next token of the timestamp chain of c. It fails
// when the source is absent, when c is not an unsigned ASiC-S container with
// exactly one data file, and when an existing token of the chain is broken.
func (t *Timestamper) AddTimestamp(ctx context.Context, c container.Container) (*container.Timestamp, error) {
	tsp, ok := t.Source.Resolve().Get()
	if !ok {
		return nil, ErrASiCSTSPSourceRequired
	}
	target, err := checkTimestampable(c)
	if err != nil {
		return nil, err
	}
	if err := checkChain(c); err != nil {
		return nil, err
	}

	existing := c.Timestamps()
	k := len(existing) + 1
	name := asic.TimestampEntryName(k)
	df := c.DataFiles()[0]

	var ts *container.Timestamp
	if k == 1 {
		token, err := timestamps.Timestamp(ctx, tsp, t.digestAlgorithm, df.Content())
		if err != nil {
			return nil, &EvidenceError{Source: SourceArchiveTSP, Err: err}
		}
		ts = container.NewTimestamp(name, token.Raw, []container.ScopeEntry{{
			Name:        df.Name,
			Coverage:    container.CoverageFullDocument,
			Description: container.DescriptionFullDocument,
		}})
	} else {
		am := &asic.ArchiveManifest{SigReference: name}
		for _, prev := range existing {
			am.References = append(am.References,
				asic.NewArchiveReference(prev.Name, container.MimeTypeTimestampToken, t.digestAlgorithm, prev.Token))
		}
		am.References = append(am.References,
			asic.NewArchiveReference(df.Name, df.MimeType, t.digestAlgorithm, df.Content()))
		manifest, err := am.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode archive manifest: %w", err)
		}
		token, err := timestamps.Timestamp(ctx, tsp, t.digestAlgorithm, manifest)
		if err != nil {
			return nil, &EvidenceError{Source: SourceArchiveTSP, Err: err}
		}
		manifestName := asic.ArchiveManifestEntryName(k)
		ts = container.NewManifestTimestamp(name, token.Raw, manifestName, manifest, am.Scope(manifestName))
	}

	target.AddTimestamp(ts)
	t.logger.Debug("container timestamp added", "name", name, "time", ts.ProductionTime())
	return ts, nil
}

// Wrap composes nested into a new ASiC-S container stored under name and
// timestamps the new level.
func (t *Timestamper) Wrap(ctx context.Context, nested container.Container, name string) (*container.Composite, error) {
	if !t.Source.Resolve().Present() {
		return nil, ErrASiCSTSPSourceRequired
	}
	composite, err := asic.Compose(nested, name)
	if err != nil {
		return nil, err
	}
	if _, err := t.AddTimestamp(ctx, composite); err != nil {
		return nil, err
	}
	return composite, nil
}

func checkTimestampable(c container.Container) (timestampable, error) {
	if c == nil {
		return nil, validation.ErrNilContainer
	}
	if c.Type() != container.TypeASiCS {
		return nil, ErrNotASiCS
	}
	if len(c.Signatures()) > 0 {
		return nil, ErrSignedContainer
	}
	if len(c.DataFiles()) != 1 {
		return nil, ErrDataFileCount
	}
	target, ok := c.(timestampable)
	if !ok {
		return nil, fmt.Errorf("container %T cannot hold timestamps", c)
	}
	return target, nil
}

// checkChain verifies every existing container timestamp of c.
func checkChain(c container.Container) error {
	content := validation.LevelContent(c)
	var broken []*validation.TimestampIntegrityError
	for _, ts := range c.Timestamps() {
		err := validation.VerifyContainerTimestamp(ts, content)
		if err == nil {
			continue
		}
		var integrity *validation.TimestampIntegrityError
		if !errors.As(err, &integrity) {
			return err
		}
		broken = append(broken, integrity)
	}
	if len(broken) > 0 {
		return &BrokenTimestampError{Broken: broken}
	}
	return nil
}
