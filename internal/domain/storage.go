package domain

// StorageTypeEntry tags persisted downloader entries in the store
const StorageTypeEntry = "downloader_entry"

// StorageModel is the opaque persisted form of any storable object: a
// stable id, a type tag and a JSON payload.
type StorageModel struct {
	ID   string
	Type string
	JSON string
}

// Storable is implemented by domain objects the host application hands
// to the queue. The object maps itself to and from the generic store
// representation and declares the downloader entry built from it.
type Storable interface {
	// ToModel serializes the object for the store
	ToModel() (*StorageModel, error)

	// DownloaderEntry builds (or rebuilds) the entry describing how to
	// download the object
	DownloaderEntry() (*Entry, error)
}

// Store is the persistent key-value object store the queue saves its
// entries through. Implementations scope all operations to a configured
// container namespace.
type Store interface {
	// Save creates or replaces a record
	Save(model *StorageModel) error

	// Delete removes a record
	Delete(model *StorageModel) error

	// DeleteMany removes several records at once
	DeleteMany(models []*StorageModel) error

	// Load fetches a record by primary key, nil when absent
	Load(id string) (*StorageModel, error)

	// LoadAll fetches every record carrying the given type tag
	LoadAll(typ string) ([]*StorageModel, error)

	// Close releases the underlying connection
	Close() error
}
