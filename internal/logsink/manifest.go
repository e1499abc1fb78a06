package logsink

import "time"

// BundleManifest describes an exported log bundle.
type BundleManifest struct {
	Version       string          `json:"version"`
	Created       time.Time       `json:"created"`
	SourceHost    string          `json:"source_host"`
	Compression   string          `json:"compression,omitempty"`
	Archives      []BundleArchive `json:"archives"`
	TotalArchives int             `json:"total_archives"`
	TotalSize     int64           `json:"total_size"`
	EntryCount    int             `json:"entry_count"`
	FailedEntries int             `json:"failed_entries"`
	Files         []BundleFile    `json:"files"`
}

// BundleArchive describes a single split archive in the bundle.
type BundleArchive struct {
	Name   string   `json:"name"`
	Size   int64    `json:"size"`
	SHA256 string   `json:"sha256"`
	Files  []string `json:"files"`
}

// BundleFile is one file packed into the bundle.
type BundleFile struct {
	Kind   string `json:"kind"` // "log" or "state"
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}
