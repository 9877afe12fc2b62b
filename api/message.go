// Package api defines the wire types shared between the daemon and the
// editor-side agent: tagged inbound/outbound messages, tree entries, and
// the push-mode project manifest shape.
package api

import "encoding/json"

// Tag identifies the kind of an inbound or outbound message. The tag set is
// closed for protocol messages; class tags on Entry are intentionally left
// open (free-form strings) since the editor may introduce new node classes
// without requiring a daemon release.
type Tag string

const (
	// Inbound (editor -> daemon)
	TagFullSnapshot     Tag = "fullSnapshot"
	TagInstanceUpdated  Tag = "instanceUpdated"
	TagScriptChanged    Tag = "scriptChanged"
	TagDeleted          Tag = "deleted"
	TagPing             Tag = "ping"
	TagClientDisconnect Tag = "clientDisconnect"
	TagPushConfig       Tag = "pushConfig"

	// Outbound (daemon -> editor)
	TagPatchScript      Tag = "patchScript"
	TagRequestSnapshot  Tag = "requestSnapshot"
	TagRequestPushCfg   Tag = "requestPushConfig"
	TagBuildSnapshot    Tag = "buildSnapshot"
	TagPushSnapshot     Tag = "pushSnapshot"
	TagPong             Tag = "pong"
	TagError            Tag = "error"
)

// Envelope is the tagged-variant wire frame. Payload is decoded according to
// Type by the reconciler, never treated as a free-form object bag.
type Envelope struct {
	Type Tag             `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Entry is one node of a full snapshot or an instance-updated message.
type Entry struct {
	ID        string   `json:"id"`
	ClassName string   `json:"className"`
	Name      string   `json:"name"`
	Path      []string `json:"path"`
	Source    *string  `json:"source,omitempty"`
}

// Known class tags. The enumeration is not closed: Entry.ClassName may hold
// any string the editor emits.
const (
	ClassDataModel    = "DataModel"
	ClassFolder       = "Folder"
	ClassScript       = "Script"
	ClassLocalScript  = "LocalScript"
	ClassModuleScript = "ModuleScript"
)

// IsScriptClass reports whether class names a node with a source body.
func IsScriptClass(class string) bool {
	switch class {
	case ClassScript, ClassLocalScript, ClassModuleScript:
		return true
	default:
		return false
	}
}

// --- Inbound payloads ---

type FullSnapshotPayload struct {
	Data []Entry `json:"data"`
}

type InstanceUpdatedPayload struct {
	Data Entry `json:"data"`
}

type ScriptChangedPayload struct {
	ID        string   `json:"id"`
	Path      []string `json:"path"`
	ClassName string   `json:"className"`
	Source    string   `json:"source"`
}

type DeletedPayload struct {
	ID string `json:"id"`
}

// PushMapping is one entry of the push config the editor returns in
// response to requestPushConfig.
type PushMapping struct {
	Source      string   `json:"source"`
	Destination []string `json:"destination"`
	Destructive bool     `json:"destructive,omitempty"`
	RojoMode    bool     `json:"rojoMode,omitempty"`
}

type PushConfig struct {
	Mappings []PushMapping `json:"mappings"`
}

type PushConfigPayload struct {
	Config PushConfig `json:"config"`
}

// --- Outbound payloads ---

type PatchScriptPayload struct {
	ID     string `json:"id"`
	Source string `json:"source"`
}

type BuildSnapshotPayload struct {
	Data []Entry `json:"data"`
}

// PushSnapshotMapping is one destination of a push command's payload,
// carrying the full instance tree synthesized for that destination.
type PushSnapshotMapping struct {
	Destination []string `json:"destination"`
	Destructive bool     `json:"destructive"`
	Instances   []Entry  `json:"instances"`
}

type PushSnapshotPayload struct {
	Mappings []PushSnapshotMapping `json:"mappings"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode builds an Envelope for an outbound payload.
func Encode(tag Tag, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: tag}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: tag, Data: raw}, nil
}
