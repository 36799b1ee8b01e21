package backend

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"maps"
	"path"
	"sort"
	"strings"

	"github.com/dgallion1/bookcore/internal/docuri"
	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/doctree"
)

// zipBackend unpacks the single readable member of an archive, or the one named
// by the "member" opener argument, and redirects to it.
type zipBackend struct{}

func (b *zipBackend) Read(ctx context.Context, req document.ReadRequest) (*document.Redirect, error) {
	if req.Resolver == nil {
		return nil, document.Errorf(document.KindNotSupported, "archive opened without a format resolver")
	}
	zr, err := zip.OpenReader(req.URI.Path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	members := map[string]*zip.File{}
	var names []string
	for _, f := range zr.File {
		if !readableMember(f) {
			continue
		}
		if _, err := docuri.FromFilename(f.Name, req.Resolver); err != nil {
			continue
		}
		members[f.Name] = f
		names = append(names, f.Name)
	}
	sort.Strings(names)

	var chosen *zip.File
	switch want := req.URI.Arg("member"); {
	case want != "":
		chosen = members[want]
		if chosen == nil {
			return nil, document.Errorf(document.KindArchiveNoDocuments, "archive has no readable member %q", want)
		}
	case len(names) == 0:
		return nil, document.Errorf(document.KindArchiveNoDocuments, "archive %s contains no readable documents", req.URI.Name())
	case len(names) > 1:
		return nil, &document.Error{
			Kind: document.KindArchiveMultipleDocuments,
			Err:  &document.MultipleDocumentsError{Members: names},
		}
	default:
		chosen = members[names[0]]
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc, err := chosen.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", chosen.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", chosen.Name, err)
	}
	base := path.Base(chosen.Name)
	p, err := cacheFile(req.CacheDir, data, base[len(stem(base)):])
	if err != nil {
		return nil, err
	}
	target, err := docuri.FromFilename(p, req.Resolver)
	if err != nil {
		return nil, err
	}

	args := maps.Clone(req.URI.OpenerArgs)
	delete(args, "member")
	target.OpenerArgs = args
	return &document.Redirect{URI: target, Reason: "archive member " + chosen.Name}, nil
}

func readableMember(f *zip.File) bool {
	if f.FileInfo().IsDir() {
		return false
	}
	if strings.HasPrefix(f.Name, "__MACOSX/") {
		return false
	}
	return !strings.HasPrefix(path.Base(f.Name), ".")
}

func (b *zipBackend) PageCount() int { return 0 }

func (b *zipBackend) LoadPage(i int) (document.Page, error) {
	return nil, document.Errorf(document.KindNotSupported, "archives are served through their members")
}

func (b *zipBackend) TOC() (*doctree.Tree, error) { return nil, nil }

func (b *zipBackend) Metadata() document.Metadata { return document.Metadata{} }

func (b *zipBackend) Close() error { return nil }
