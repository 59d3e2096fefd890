package datalog

// AcquisitionStore is the collaborator a completed acquisition is handed off
// to (§4.11 "Completion"). It is declared here, next to the type it stores,
// so that C1-C12 can depend on the interface without depending on any
// concrete storage package (expansion C13).
type AcquisitionStore interface {
	// Save persists a completed acquisition and returns a store-assigned
	// identifier for later retrieval.
	Save(acq *Acquisition) (int64, error)

	// Get retrieves a previously saved acquisition by its store id.
	Get(id int64) (*Acquisition, error)

	// List returns the most recent saved acquisitions, newest first,
	// bounded by limit.
	List(limit int) ([]StoredAcquisitionInfo, error)

	// Delete removes a saved acquisition.
	Delete(id int64) error
}

// StoredAcquisitionInfo is the lightweight listing projection returned by
// AcquisitionStore.List, avoiding a full series decode for an index view.
type StoredAcquisitionInfo struct {
	ID            int64
	AcquisitionID uint16
	ConfigID      uint16
	XAxisName     string
	SignalCount   int
	PointCount    int
}
