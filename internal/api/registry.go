package api

import (
	"github.com/trackviz/server/internal/service"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DatasetRegistry holds the services for all loaded datasets.
type DatasetRegistry struct {
	services       map[string]*service.DatasetService
	names          map[string]string
	defaultDataset string
	datasetOrder   []string
	title          string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(defaultDataset string, title string) *DatasetRegistry {
	return &DatasetRegistry{
		services:       make(map[string]*service.DatasetService),
		names:          make(map[string]string),
		defaultDataset: defaultDataset,
		title:          title,
	}
}

// Register adds a dataset service. Datasets are listed in registration order.
func (r *DatasetRegistry) Register(datasetID string, svc *service.DatasetService) {
	if _, ok := r.services[datasetID]; !ok {
		r.datasetOrder = append(r.datasetOrder, datasetID)
	}
	r.services[datasetID] = svc
	r.names[datasetID] = svc.Summary().Name
	if r.defaultDataset == "" {
		r.defaultDataset = datasetID
	}
}

// Get returns the service for a dataset, or nil if not found.
func (r *DatasetRegistry) Get(datasetID string) *service.DatasetService {
	return r.services[datasetID]
}

// DefaultDatasetID returns the default dataset ID.
func (r *DatasetRegistry) DefaultDatasetID() string {
	return r.defaultDataset
}

// DatasetIDs returns all dataset IDs in registration order.
func (r *DatasetRegistry) DatasetIDs() []string {
	return r.datasetOrder
}

// Title returns the configured site title.
func (r *DatasetRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "TrackViz"
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	infos := make([]DatasetInfo, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		infos = append(infos, DatasetInfo{ID: id, Name: r.names[id]})
	}
	return infos
}

// Close releases every dataset service.
func (r *DatasetRegistry) Close() {
	for _, svc := range r.services {
		svc.Close()
	}
}
