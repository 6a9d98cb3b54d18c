package imagestack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// ErrNotFound is returned by fetchers when a resource does not exist. It is
// not retried.
var ErrNotFound = errors.New("resource not found")

// Kind distinguishes the three resources of an image stack.
type Kind int

const (
	KindMetadata Kind = iota
	KindImage
	KindLabels
)

func (k Kind) String() string {
	switch k {
	case KindMetadata:
		return "metadata"
	case KindImage:
		return "image"
	case KindLabels:
		return "labels"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Resource names one fetchable file of an image stack.
type Resource struct {
	Kind     Kind
	Location int
	Bundle   int
}

// Name is the resource's file name as served over HTTP.
func (r Resource) Name() string {
	switch r.Kind {
	case KindImage:
		return fmt.Sprintf("img_%d_%d.jpg", r.Location, r.Bundle)
	case KindLabels:
		return fmt.Sprintf("label_%d_%d.pb", r.Location, r.Bundle)
	}
	return "imageMetaData.json"
}

// StoragePath is the resource's path inside a dataset folder on disk.
func (r Resource) StoragePath() string {
	switch r.Kind {
	case KindImage:
		return filepath.Join(fmt.Sprintf("data%d", r.Location), fmt.Sprintf("D%d.jpg", r.Bundle))
	case KindLabels:
		return filepath.Join(fmt.Sprintf("data%d", r.Location), fmt.Sprintf("L%d.pb", r.Bundle))
	}
	return filepath.Join(".vizMetaData", "imageMetaData.json")
}

// Fetcher retrieves the raw bytes of a resource.
type Fetcher interface {
	Fetch(ctx context.Context, r Resource) ([]byte, error)
}

// HTTPFetcher reads resources from {BaseURL}/{DriveID}/{name}. Responses
// with Content-Encoding: zstd are decompressed.
type HTTPFetcher struct {
	BaseURL string
	DriveID string
	Client  *http.Client
}

// URL returns the address r is fetched from.
func (f *HTTPFetcher) URL(r Resource) string {
	return fmt.Sprintf("%s/%s/%s", f.BaseURL, f.DriveID, r.Name())
}

func (f *HTTPFetcher) Fetch(ctx context.Context, r Resource) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(r), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "zstd")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, r.Name())
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch %s: status %d", r.Name(), resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "zstd" {
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", r.Name(), err)
		}
		defer dec.Close()
		body = dec
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", r.Name(), err)
	}
	return data, nil
}

// DirFetcher reads resources from a local dataset folder laid out as
// data{location}/D{bundle}.jpg, data{location}/L{bundle}.pb and
// .vizMetaData/imageMetaData.json. A file may instead be stored zstd
// compressed with a .zst suffix.
type DirFetcher struct {
	Root string
}

func (f *DirFetcher) Fetch(ctx context.Context, r Resource) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(f.Root, r.StoragePath())
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	compressed, err := os.ReadFile(path + ".zst")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, r.StoragePath())
	}
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
