package document

import (
	"image"
	"strings"

	"github.com/dgallion1/bookcore/internal/structtext"
)

// Capability is a bit-set of optional features a backend declares.
type Capability uint32

const (
	CapTOCTree Capability = 1 << iota
	CapMetadata
	CapGraphicalRendering
	CapImageExtraction
	CapPageLabels
	CapStructuredNavigation
	CapTextStyle
	CapAsyncRead
	CapSinglePage
	CapLinks
	CapInternalAnchors
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapTOCTree, "toc_tree"},
	{CapMetadata, "metadata"},
	{CapGraphicalRendering, "graphical_rendering"},
	{CapImageExtraction, "image_extraction"},
	{CapPageLabels, "page_labels"},
	{CapStructuredNavigation, "structured_navigation"},
	{CapTextStyle, "text_style"},
	{CapAsyncRead, "async_read"},
	{CapSinglePage, "single_page"},
	{CapLinks, "links"},
	{CapInternalAnchors, "internal_anchors"},
}

// Has reports whether every bit of o is set.
func (c Capability) Has(o Capability) bool { return c&o == o }

// Names lists the set capabilities.
func (c Capability) Names() []string {
	var out []string
	for _, n := range capabilityNames {
		if c.Has(n.c) {
			out = append(out, n.name)
		}
	}
	return out
}

func (c Capability) String() string { return strings.Join(c.Names(), "|") }

// Optional document-level capabilities, discovered by type assertion on the backend.
type (
	LanguageProvider interface {
		Language() string
	}
	ReadingModeSupporter interface {
		ReadingModes() []ReadingMode
	}
	LinkResolver interface {
		ResolveLink(href string) (LinkTarget, error)
	}
)

// Optional page-level capabilities.
type (
	SemanticPage interface {
		Semantic() structtext.RangeMap
	}
	StylePage interface {
		Style() structtext.RangeMap
	}
	LinkPage interface {
		Links() []structtext.Link
	}
	LabeledPage interface {
		Label() string
	}
	ImagePage interface {
		Image(zoom float64) (image.Image, error)
	}
)

// PageSemantic returns the semantic map of p, or ErrNotSupported.
func PageSemantic(p Page) (structtext.RangeMap, error) {
	if sp, ok := p.(SemanticPage); ok {
		return sp.Semantic(), nil
	}
	return nil, ErrNotSupported
}

// PageStyle returns the style map of p, or ErrNotSupported.
func PageStyle(p Page) (structtext.RangeMap, error) {
	if sp, ok := p.(StylePage); ok {
		return sp.Style(), nil
	}
	return nil, ErrNotSupported
}

// PageLinks returns the links on p, or ErrNotSupported.
func PageLinks(p Page) ([]structtext.Link, error) {
	if lp, ok := p.(LinkPage); ok {
		return lp.Links(), nil
	}
	return nil, ErrNotSupported
}

// PageLabel returns the printed label of p, or ErrNotSupported.
func PageLabel(p Page) (string, error) {
	if lp, ok := p.(LabeledPage); ok {
		return lp.Label(), nil
	}
	return "", ErrNotSupported
}

// PageImage renders p, or returns ErrNotSupported.
func PageImage(p Page, zoom float64) (image.Image, error) {
	if ip, ok := p.(ImagePage); ok {
		return ip.Image(zoom)
	}
	return nil, ErrNotSupported
}
