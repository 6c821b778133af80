// Package store provides SQLite-backed persistence for the sovereign
// record store. It is the sole writer of journal data: every other
// component reads snapshots through this package or writes through its
// transactional API.
package store

import (
	"time"
)

// Layer is the data-sensitivity category that governs sync eligibility.
type Layer string

const (
	LayerSovereign Layer = "sovereign" // never leaves the device unless toggled
	LayerCommons   Layer = "commons"
	LayerBuilder   Layer = "builder"
)

// Layers lists every known layer, in gate display order.
func Layers() []Layer {
	return []Layer{LayerSovereign, LayerCommons, LayerBuilder}
}

// Valid reports whether the layer is one of the known categories.
func (l Layer) Valid() bool {
	switch l {
	case LayerSovereign, LayerCommons, LayerBuilder:
		return true
	}
	return false
}

// MetaKind discriminates the bounded metadata value variant.
type MetaKind string

const (
	MetaString MetaKind = "string"
	MetaNumber MetaKind = "number"
	MetaBool   MetaKind = "bool"
	MetaTime   MetaKind = "time"
)

// MetaValue is a bounded metadata variant: exactly one of the payload
// fields is meaningful, selected by Kind. Keeps record metadata
// forward-compatible without an open-ended dynamic type.
type MetaValue struct {
	Kind   MetaKind   `json:"kind"`
	String string     `json:"string,omitempty"`
	Number float64    `json:"number,omitempty"`
	Bool   bool       `json:"bool,omitempty"`
	Time   *time.Time `json:"time,omitempty"`
}

// MetaStr builds a string metadata value.
func MetaStr(s string) MetaValue { return MetaValue{Kind: MetaString, String: s} }

// MetaNum builds a numeric metadata value.
func MetaNum(f float64) MetaValue { return MetaValue{Kind: MetaNumber, Number: f} }

// MetaFlag builds a boolean metadata value.
func MetaFlag(b bool) MetaValue { return MetaValue{Kind: MetaBool, Bool: b} }

// MetaStamp builds a timestamp metadata value.
func MetaStamp(t time.Time) MetaValue {
	u := t.UTC()
	return MetaValue{Kind: MetaTime, Time: &u}
}

// Equal compares two metadata values by payload, not pointer identity.
func (v MetaValue) Equal(o MetaValue) bool {
	if v.Kind != o.Kind || v.String != o.String || v.Number != o.Number || v.Bool != o.Bool {
		return false
	}
	switch {
	case v.Time == nil && o.Time == nil:
		return true
	case v.Time == nil || o.Time == nil:
		return false
	}
	return v.Time.Equal(*o.Time)
}

// Reflection is a unit of user-authored journal content. Content is
// plain text, or opaque ciphertext when Encrypted is set; the store
// never interprets ciphertext.
type Reflection struct {
	ID             string               `json:"id" validate:"required"`
	Content        string               `json:"content" validate:"required"`
	Encrypted      bool                 `json:"encrypted"`
	Layer          Layer                `json:"layer" validate:"required,oneof=sovereign commons builder"`
	Modality       string               `json:"modality" validate:"required"`
	ThreadID       string               `json:"threadId,omitempty"`
	IdentityAxisID string               `json:"identityAxisId,omitempty"`
	Tags           []string             `json:"tags,omitempty"`
	Visible        bool                 `json:"visible"`
	Metadata       map[string]MetaValue `json:"metadata,omitempty"`
	Rev            int64                `json:"rev"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// Thread is a named, ordered grouping of reflections. Member IDs are
// unique within the list and must reference existing reflections.
type Thread struct {
	ID        string    `json:"id" validate:"required"`
	Title     string    `json:"title" validate:"required"`
	MemberIDs []string  `json:"memberIds"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IdentityAxis is a user-defined dimension of self-description.
// Reflections reference it weakly; the axis never owns a reflection.
type IdentityAxis struct {
	ID        string    `json:"id" validate:"required"`
	Label     string    `json:"label" validate:"required"`
	Value     string    `json:"value"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserSettings is the singleton preferences record. Reads before the
// first write return DefaultSettings, never an error.
type UserSettings struct {
	Theme           string    `json:"theme" validate:"required"`
	HighContrast    bool      `json:"highContrast"`
	FontScale       float64   `json:"fontScale"`
	DefaultLayer    Layer     `json:"defaultLayer" validate:"required,oneof=sovereign commons builder"`
	DefaultModality string    `json:"defaultModality" validate:"required"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// DefaultSettings is what GetSettings returns before any write.
func DefaultSettings() UserSettings {
	return UserSettings{
		Theme:           "system",
		FontScale:       1.0,
		DefaultLayer:    LayerSovereign,
		DefaultModality: "text",
	}
}

// ConsentKind identifies the event a consent record captures.
type ConsentKind string

const (
	ConsentLicense      ConsentKind = "license"
	ConsentConstitution ConsentKind = "constitution"
	ConsentExport       ConsentKind = "export"
	ConsentCommonsJoin  ConsentKind = "commons-join"
)

// ConsentRecord is an append-only log entry. Records are only ever
// appended and exported, never updated or deleted.
type ConsentRecord struct {
	ID        string      `json:"id" validate:"required"`
	Kind      ConsentKind `json:"kind" validate:"required,oneof=license constitution export commons-join"`
	Accepted  bool        `json:"accepted"`
	Timestamp time.Time   `json:"timestamp"`
}

// SyncBoundary is the per-layer permission to leave the device.
type SyncBoundary struct {
	Layer     Layer     `json:"layer"`
	Allowed   bool      `json:"allowed"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Stats summarizes collection sizes for the UI.
type Stats struct {
	Reflections    int64 `json:"reflections"`
	Threads        int64 `json:"threads"`
	IdentityAxes   int64 `json:"identityAxes"`
	ConsentRecords int64 `json:"consentRecords"`
}
