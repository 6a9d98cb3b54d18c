package service

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/trackviz/server/internal/cache"
	"github.com/trackviz/server/internal/imagestack"
	"github.com/trackviz/server/internal/ingest"
	"github.com/trackviz/server/internal/model"
	"github.com/trackviz/server/internal/render"
	"github.com/trackviz/server/internal/store"
)

// Source locates one dataset's files.
type Source struct {
	CSVPath  string
	SpecPath string
	// ImagesURL serves bundles over HTTP as {ImagesURL}/{DriveID}/{name}.
	ImagesURL string
	DriveID   string
	// ImagesDir holds bundles on disk. ImagesURL wins when both are set.
	ImagesDir string

	Ingest         ingest.Options
	DefaultFilters bool
}

// Deps are shared across datasets.
type Deps struct {
	Cache    *cache.Manager
	Renderer *render.Renderer
	Store    *store.Store
	Images   imagestack.Config
	Client   *http.Client
}

// Open loads a dataset and starts loading its image metadata. ctx bounds the
// lifetime of every image fetch.
func Open(ctx context.Context, id string, src Source, deps Deps) (*DatasetService, error) {
	opts := src.Ingest
	if src.SpecPath != "" {
		spec, err := loadSpec(src.SpecPath)
		if err != nil {
			return nil, err
		}
		opts.Spec = spec
	}
	if opts.Spec.UniqueID == "" {
		opts.Spec.UniqueID = id
	}

	f, err := os.Open(src.CSVPath)
	if err != nil {
		return nil, fmt.Errorf("open tracks: %w", err)
	}
	defer f.Close()
	curves, err := ingest.FromCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", src.CSVPath, err)
	}

	var images *imagestack.DataRequest
	if fetcher := src.fetcher(opts.Spec, deps.Client); fetcher != nil {
		images = imagestack.NewDataRequest(ctx, fetcher, deps.Images)
	}

	svc := NewDatasetService(DatasetServiceConfig{
		DatasetID: id,
		Curves:    curves,
		Images:    images,
		Cache:     deps.Cache,
		Renderer:  deps.Renderer,
		Store:     deps.Store,
	})
	if src.DefaultFilters {
		svc.mu.Lock()
		curves.ApplyDefaultFilters()
		curves.Recompute()
		svc.mu.Unlock()
	}
	log.Printf("[DatasetService] %s: %d curves, %d points, images=%v", id, curves.Collection().Len(), curves.Len(), images != nil)
	return svc, nil
}

func (src Source) fetcher(spec model.DatasetSpec, client *http.Client) imagestack.Fetcher {
	switch {
	case src.ImagesURL != "":
		driveID := src.DriveID
		if driveID == "" {
			driveID = spec.GoogleDriveID
		}
		return &imagestack.HTTPFetcher{BaseURL: src.ImagesURL, DriveID: driveID, Client: client}
	case src.ImagesDir != "":
		return &imagestack.DirFetcher{Root: src.ImagesDir}
	}
	return nil
}

func loadSpec(path string) (model.DatasetSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.DatasetSpec{}, fmt.Errorf("open dataset spec: %w", err)
	}
	defer f.Close()
	spec, err := ingest.LoadSpec(f)
	if err != nil {
		return model.DatasetSpec{}, fmt.Errorf("load %s: %w", path, err)
	}
	return spec, nil
}
