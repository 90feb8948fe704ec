package extension

import (
	"github.com/georgepadayatti/goasic/certvalidator/revinfo"
	"github.com/georgepadayatti/goasic/sign/timestamps"
)

// Source is an evidence source that is either present or explicitly absent.
type Source[T any] struct {
	value   T
	present bool
}

// Present wraps a configured source.
func Present[T any](value T) Source[T] {
	return Source[T]{value: value, present: true}
}

// Absent returns a source that is intentionally not configured.
func Absent[T any]() Source[T] {
	return Source[T]{}
}

// Get returns the source and whether it is present.
func (s Source[T]) Get() (T, bool) {
	return s.value, s.present
}

// Present reports whether the source is configured.
func (s Source[T]) Present() bool {
	return s.present
}

// Factory resolves a source when an operation starts. A nil factory
// resolves to an absent source.
type Factory[T any] func() Source[T]

// Static returns a factory that always resolves to value.
func Static[T any](value T) Factory[T] {
	return func() Source[T] { return Present(value) }
}

// None returns a factory that always resolves to an absent source.
func None[T any]() Factory[T] {
	return func() Source[T] { return Absent[T]() }
}

// Resolve calls the factory.
func (f Factory[T]) Resolve() Source[T] {
	if f == nil {
		return Absent[T]()
	}
	return f()
}

// Sources holds the evidence sources of the extension engine. Each factory
// is resolved once per Extend or AddTimestamp call, so a factory may hand
// out a different source on every call.
type Sources struct {
	// SignatureTSP issues signature timestamps.
	SignatureTSP Factory[timestamps.TSPSource]

	// ArchiveTSP issues archive timestamps and ASiC-S container timestamps.
	ArchiveTSP Factory[timestamps.TSPSource]

	// OCSP supplies revocation data for the signing certificate.
	OCSP Factory[revinfo.OCSPSource]
}

// StaticSources returns sources that use tsp for both kinds of timestamps.
// A nil tsp or ocsp leaves the corresponding source absent.
func StaticSources(tsp timestamps.TSPSource, ocsp revinfo.OCSPSource) Sources {
	var s Sources
	if tsp != nil {
		s.SignatureTSP = Static(tsp)
		s.ArchiveTSP = Static(tsp)
	}
	if ocsp != nil {
		s.OCSP = Static(ocsp)
	}
	return s
}

type resolvedSources struct {
	signatureTSP Source[timestamps.TSPSource]
	archiveTSP   Source[timestamps.TSPSource]
	ocsp         Source[revinfo.OCSPSource]
}

func (s Sources) resolve() resolvedSources {
	return resolvedSources{
		signatureTSP: s.SignatureTSP.Resolve(),
		archiveTSP:   s.ArchiveTSP.Resolve(),
		ocsp:         s.OCSP.Resolve(),
	}
}
