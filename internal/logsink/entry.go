// Package logsink records one entry per file transfer and routes it to a
// local daily log file, a remote ingestion server, or both.
package logsink

import (
	"encoding/xml"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"
)

// Entry is the immutable record of one file transfer. Times are in
// milliseconds. Failed transfers carry Error and the partial size/time.
type Entry struct {
	XMLName         xml.Name  `json:"-" xml:"LogEntry"`
	Name            string    `json:"Name" xml:"Name"`
	Source          string    `json:"Source" xml:"Source"`
	Target          string    `json:"Target" xml:"Target"`
	Size            int64     `json:"Size" xml:"Size"`
	TransferTime    int64     `json:"TransferTime" xml:"TransferTime"`
	EncryptionTime  int64     `json:"EncryptionTime" xml:"EncryptionTime"`
	Timestamp       time.Time `json:"Timestamp" xml:"Timestamp"`
	MachineIdentity string    `json:"MachineIdentity" xml:"MachineIdentity"`
	UserIdentity    string    `json:"UserIdentity" xml:"UserIdentity"`
	RunID           string    `json:"RunID,omitempty" xml:"RunID,omitempty"`
	Error           string    `json:"Error,omitempty" xml:"Error,omitempty"`
}

// Failed reports whether the transfer this entry describes failed.
func (e Entry) Failed() bool {
	return e.Error != ""
}

// Target selects where entries are sent.
type Target string

const (
	TargetLocal  Target = "local"
	TargetServer Target = "server"
	TargetBoth   Target = "both"
)

// ParseTarget parses a log target name.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetLocal, TargetServer, TargetBoth:
		return t, nil
	case "":
		return TargetLocal, nil
	default:
		return "", fmt.Errorf("unknown log target %q (want local, server or both)", s)
	}
}

// Format selects the local file encoding.
type Format string

const (
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"
	// FormatXML writes one indented <LogEntry> element per record.
	FormatXML Format = "xml"
)

// ParseFormat parses a local log format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatXML:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q (want json or xml)", s)
	}
}

// Identity returns the machine and user names stamped on entries.
func Identity() (machine, username string) {
	machine, err := os.Hostname()
	if err != nil || machine == "" {
		machine = "unknown"
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	} else if env := os.Getenv("USER"); env != "" {
		username = env
	} else {
		username = "unknown"
	}
	return machine, username
}
