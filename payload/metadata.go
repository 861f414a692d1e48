// Package payload holds the metadata that travels next to every uploaded artifact.
package payload

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Metadata is implemented by the closed set of upload metadata variants in this package
type Metadata interface {
	// Type is the envelope discriminator for the variant
	Type() string
	isMetadata()
}

// Identity is the hardware and software identity of the device that produced an artifact
type Identity struct {
	HardwareVersion string `json:"hardware_version"`
	DeviceSerial    string `json:"device_serial"`
	SoftwareVersion string `json:"software_version"`
}

// DropBoxEntryKind selects which drop box artifact a DropBoxEntryMetadata describes
type DropBoxEntryKind string

const (
	KindANR           DropBoxEntryKind = "anr"
	KindJavaException DropBoxEntryKind = "java_exception"
	KindTombstone     DropBoxEntryKind = "tombstone"
	KindKmsg          DropBoxEntryKind = "kmsg"
)

// DropBoxEntryMetadata describes a single entry read from the platform log service
type DropBoxEntryMetadata struct {
	Identity
	Kind DropBoxEntryKind `json:"kind"`
	Tag  string           `json:"tag"`
	// FileTimeMs is the last modification time of the file backing the entry, when there is one
	FileTimeMs     *int64         `json:"file_time_ms,omitempty"`
	EntryTimeMs    int64          `json:"entry_time_ms"`
	CollectionTime CombinedTime   `json:"collection_time"`
	Timezone       TimezoneWithID `json:"timezone"`
}

func (DropBoxEntryMetadata) isMetadata() {}

func (m DropBoxEntryMetadata) Type() string {
	return "dropbox_" + string(m.Kind)
}

// FileEntry references one attachment by name and content hash
type FileEntry struct {
	MD5  string `json:"md5"`
	Name string `json:"name"`
}

type HeartbeatAttachments struct {
	BatteryStats *FileEntry `json:"battery_stats,omitempty"`
}

// HeartbeatMetadata describes a periodic metrics snapshot
type HeartbeatMetadata struct {
	Identity
	CollectionTime      CombinedTime         `json:"collection_time"`
	HeartbeatIntervalMs int64                `json:"heartbeat_interval_ms"`
	CustomMetrics       map[string]float64   `json:"custom_metrics"`
	BuiltinMetrics      map[string]float64   `json:"builtin_metrics"`
	Attachments         HeartbeatAttachments `json:"attachments"`
}

func (HeartbeatMetadata) isMetadata() {}

func (HeartbeatMetadata) Type() string {
	return "heartbeat"
}

// BugReportMetadata describes a user or operator requested bug report
type BugReportMetadata struct {
	Identity
	CollectionTime CombinedTime `json:"collection_time"`
	Attachment     FileEntry    `json:"attachment"`
	RequestID      string       `json:"request_id,omitempty"`
}

func (BugReportMetadata) isMetadata() {}

func (BugReportMetadata) Type() string {
	return "bugreport"
}

// MarBatchMetadata describes a sealed batch of MAR files
type MarBatchMetadata struct {
	Identity
	SealTime   CombinedTime `json:"seal_time"`
	Members    []string     `json:"members"`
	TotalBytes int64        `json:"total_bytes"`
}

func (MarBatchMetadata) isMetadata() {}

func (MarBatchMetadata) Type() string {
	return "mar_batch"
}

// Envelope is the serialized form of a Metadata variant
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal wraps the metadata into its envelope and serializes it
func Marshal(m Metadata) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil metadata")
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrapf(err, "Cannot marshal %s metadata", m.Type())
	}
	return json.Marshal(Envelope{Type: m.Type(), Payload: body})
}

// Unmarshal decodes an envelope produced by Marshal back into its variant
func Unmarshal(data []byte) (Metadata, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "Cannot decode metadata envelope")
	}

	var m Metadata
	switch env.Type {
	case "heartbeat":
		var v HeartbeatMetadata
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, errors.Wrap(err, "Cannot decode heartbeat metadata")
		}
		m = v
	case "bugreport":
		var v BugReportMetadata
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, errors.Wrap(err, "Cannot decode bug report metadata")
		}
		m = v
	case "mar_batch":
		var v MarBatchMetadata
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, errors.Wrap(err, "Cannot decode mar batch metadata")
		}
		m = v
	default:
		var v DropBoxEntryMetadata
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, errors.Wrapf(err, "Cannot decode %s metadata", env.Type)
		}
		if v.Type() != env.Type {
			return nil, errors.Errorf("Unknown metadata type %q", env.Type)
		}
		m = v
	}
	return m, nil
}
