// Package model holds the value and addressing types shared by every
// component of the LwM2M core: the four-level object tree path, the typed
// resource value, and the small set of well-known object/resource IDs that
// the protocol itself mandates (Security, Server, ACL).
package model

import "fmt"

// ID is a 16-bit object/instance/resource/resource-instance identifier.
type ID = uint16

const (
	// InvalidID is the sentinel meaning "all" or "unassigned" depending on
	// context (OMA-TS-LightweightM2M-V1_0_2-20180209-A Appendix).
	InvalidID ID = 65535
	// MaxID is the largest assignable identifier.
	MaxID ID = 65534
)

// Path addresses a node anywhere in the four-level object tree. A zero value
// of a given level and the levels after it means "not specified" — callers
// use Depth to know how many levels are meaningful.
type Path struct {
	ObjectID           ID
	ObjectInstanceID   ID
	ResourceID         ID
	ResourceInstanceID ID
	Depth              int // 0..4, number of meaningful fields above
}

// RootPath addresses "/", used only for the bootstrap-only delete-all.
func RootPath() Path { return Path{Depth: 0} }

// ObjectPath addresses "/<oid>".
func ObjectPath(oid ID) Path { return Path{ObjectID: oid, Depth: 1} }

// InstancePath addresses "/<oid>/<iid>".
func InstancePath(oid, iid ID) Path { return Path{ObjectID: oid, ObjectInstanceID: iid, Depth: 2} }

// ResourcePath addresses "/<oid>/<iid>/<rid>".
func ResourcePath(oid, iid, rid ID) Path {
	return Path{ObjectID: oid, ObjectInstanceID: iid, ResourceID: rid, Depth: 3}
}

// ResourceInstancePath addresses "/<oid>/<iid>/<rid>/<riid>".
func ResourceInstancePath(oid, iid, rid, riid ID) Path {
	return Path{ObjectID: oid, ObjectInstanceID: iid, ResourceID: rid, ResourceInstanceID: riid, Depth: 4}
}

// String renders the path the way the wire format and logs expect it.
func (p Path) String() string {
	switch p.Depth {
	case 0:
		return "/"
	case 1:
		return fmt.Sprintf("/%d", p.ObjectID)
	case 2:
		return fmt.Sprintf("/%d/%d", p.ObjectID, p.ObjectInstanceID)
	case 3:
		return fmt.Sprintf("/%d/%d/%d", p.ObjectID, p.ObjectInstanceID, p.ResourceID)
	default:
		return fmt.Sprintf("/%d/%d/%d/%d", p.ObjectID, p.ObjectInstanceID, p.ResourceID, p.ResourceInstanceID)
	}
}

// Parent returns the path one level up; Depth 0 has no parent.
func (p Path) Parent() Path {
	if p.Depth == 0 {
		return p
	}
	q := p
	q.Depth--
	switch q.Depth {
	case 0:
		q.ObjectID = 0
	case 1:
		q.ObjectInstanceID = 0
	case 2:
		q.ResourceID = 0
	case 3:
		q.ResourceInstanceID = 0
	}
	return q
}

// Well-known object IDs, OMA-TS-LightweightM2M-V1_0_2-20180209-A Appendix D.
const (
	ObjectIDSecurity ID = 0
	ObjectIDServer   ID = 1
	ObjectIDACL      ID = 2
)

// Well-known resource IDs on the Security object.
const (
	ResourceIDSecurityURI           ID = 0
	ResourceIDSecurityBootstrap     ID = 1
	ResourceIDSecurityMode          ID = 2
	ResourceIDSecurityIdentity      ID = 3
	ResourceIDSecurityServerKey     ID = 4
	ResourceIDSecuritySecretKey     ID = 5
	ResourceIDSecurityShortServerID ID = 10
	ResourceIDSecurityHoldOff       ID = 11
)

// Well-known resource IDs on the Server object.
const (
	ResourceIDServerShortServerID ID = 0
	ResourceIDServerLifetime     ID = 1
	ResourceIDServerDefaultPMin  ID = 2
	ResourceIDServerDefaultPMax  ID = 3
	ResourceIDServerDisableTimeout ID = 5
	ResourceIDServerNotifyStoring ID = 6
	ResourceIDServerBinding       ID = 7
)

// Well-known resource IDs on the ACL object.
const (
	ResourceIDACLObjectID      ID = 0
	ResourceIDACLInstanceID    ID = 1
	ResourceIDACLPerServer     ID = 2
	ResourceIDACLOwner         ID = 3
)
