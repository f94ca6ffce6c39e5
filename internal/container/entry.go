package container

import (
	"bytes"
	"io"
	"os"
)

// Reserved entry names.
const (
	MetadataName  = "metadata.json"
	SignatureName = "metadata.json.sig"
	PayloadName   = "data.encrypted"
	ManifestName  = "checksum-manifest"
	ContentPrefix = "content/"
)

// Names used by packages written before metadata.json was introduced.
// They are still recognised when reading.
const (
	LegacyMetadataName  = "metadata"
	LegacySignatureName = "metadata.sig"
	LegacyPayloadName   = "encrypted-payload"
	legacyGPGPayload    = "data.tar.gz.gpg"
)

var reserved = map[string]bool{
	MetadataName:        true,
	SignatureName:       true,
	PayloadName:         true,
	ManifestName:        true,
	LegacyMetadataName:  true,
	LegacySignatureName: true,
	LegacyPayloadName:   true,
	legacyGPGPayload:    true,
}

// IsReserved reports whether name is a control entry rather than content.
func IsReserved(name string) bool {
	return reserved[name]
}

// Entry is one member of a container.
type Entry interface {
	Name() string
	// Open returns the entry body and its exact length.
	Open() (io.ReadCloser, int64, error)
}

type memoryEntry struct {
	name string
	data []byte
}

// Bytes returns an entry backed by data.
func Bytes(name string, data []byte) Entry {
	return memoryEntry{name: name, data: data}
}

func (e memoryEntry) Name() string {
	return e.name
}

func (e memoryEntry) Open() (io.ReadCloser, int64, error) {
	return io.NopCloser(bytes.NewReader(e.data)), int64(len(e.data)), nil
}

type fileEntry struct {
	name string
	path string
}

// File returns an entry whose body is streamed from path when written.
func File(name, path string) Entry {
	return fileEntry{name: name, path: path}
}

func (e fileEntry) Name() string {
	return e.name
}

func (e fileEntry) Open() (io.ReadCloser, int64, error) {
	f, err := os.Open(e.path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}
