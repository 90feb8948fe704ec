package asic

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/georgepadayatti/goasic/container"
)

// Encode serializes c.
func Encode(c container.Container) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteTo(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes c to the file name.
func Save(c container.Container, name string) error {
	data, err := Encode(c)
	if err != nil {
		return err
	}
	return os.WriteFile(name, data, 0o644)
}

// WriteTo serializes c to w. A composite is written as its outermost level;
// the nested container is already encoded in the wrapper data file.
func WriteTo(w io.Writer, c container.Container) error {
	var level *container.Simple
	switch v := c.(type) {
	case *container.Composite:
		level = v.Outer()
	case *container.Simple:
		if v.Type() == container.TypeDDOC {
			data, err := EncodeDDOC(v)
			if err != nil {
				return err
			}
			_, err = w.Write(data)
			return err
		}
		level = v
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedWrite, c)
	}
	if level.Type() != container.TypeASiCS && level.Type() != container.TypeASiCE {
		return fmt.Errorf("%w: %s", ErrUnsupportedWrite, level.Type())
	}

	zw := zip.NewWriter(w)
	if err := writeLevel(zw, level); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, name string, method uint16, data []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}

func writeLevel(zw *zip.Writer, level *container.Simple) error {
	// The mimetype entry comes first and uncompressed so that the format can
	// be recognised from a fixed offset.
	if err := writeEntry(zw, EntryMimeType, zip.Store, []byte(level.Type().MimeType())); err != nil {
		return err
	}
	dataFiles := level.DataFiles()
	for _, df := range dataFiles {
		if err := writeEntry(zw, df.Name, zip.Deflate, df.Content()); err != nil {
			return err
		}
	}

	sigs := level.Signatures()
	if level.Type() == container.TypeASiCE || len(sigs) > 0 || level.Manifest() != nil {
		m := level.Manifest()
		if m == nil {
			m = ManifestFor(dataFiles)
		}
		data, err := BuildManifest(level.Type(), m)
		if err != nil {
			return err
		}
		if err := writeEntry(zw, EntryManifest, zip.Deflate, data); err != nil {
			return err
		}
	}

	var entries []string
	grouped := make(map[string][]*container.Signature)
	for _, sig := range sigs {
		name := sig.EntryName
		if name == "" {
			name = "META-INF/signatures0.xml"
		}
		if _, ok := grouped[name]; !ok {
			entries = append(entries, name)
		}
		grouped[name] = append(grouped[name], sig)
	}
	for _, name := range entries {
		data, err := EncodeSignatures(grouped[name])
		if err != nil {
			return err
		}
		if err := writeEntry(zw, name, zip.Deflate, data); err != nil {
			return err
		}
	}

	for i, ts := range level.Timestamps() {
		if ts.ManifestName != "" {
			if err := writeEntry(zw, ts.ManifestName, zip.Deflate, ts.Manifest); err != nil {
				return err
			}
		}
		name := ts.Name
		if name == "" {
			name = TimestampEntryName(i + 1)
		}
		if err := writeEntry(zw, name, zip.Deflate, ts.Token); err != nil {
			return err
		}
	}
	return nil
}

// Compose wraps an already finalized container as the single data file of a
// new ASiC-S container.
func Compose(nested container.Container, wrapperName string) (*container.Composite, error) {
	if nested == nil {
		return nil, container.ErrNilNestedContainer
	}
	data, err := Encode(nested)
	if err != nil {
		return nil, fmt.Errorf("encode nested container: %w", err)
	}
	return container.NewComposite(nested, container.NewDataFile(wrapperName, nested.Type().MimeType(), data))
}
