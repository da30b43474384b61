// Package objects supplies the three built-in object definitions every
// LwM2M client ships regardless of its application-specific schema:
// Security (/0), Server (/1) and Access Control (/2). The source's
// lwm2m_security_object.c, lwm2m_server_object.c and lwm2m_acl_object.c each
// hand-wrote these as vtable-bound C structs; here they are plain
// definition.ObjectDefinition/ResourceDefinition literals registered once at
// start-up, with no handler closures of their own — internal/store supplies
// the generic read/write/create behaviour for plain-data resources like
// these (spec §4.2 "Handler dispatch" default path).
package objects

import (
	"fmt"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/definition"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/lwm2merr"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
)

// Security mode values for resource /0/x/2 (original SECURITY_SECMODE).
const (
	SecurityModePSK       = 0
	SecurityModeRawPublic = 1
	SecurityModeCert      = 2
	SecurityModeNone      = 3
)

// RegisterBuiltins defines the Security, Server and Access Control objects
// (and their resources) on reg. It must be called before any bootstrap or
// registration traffic is processed, since both rely on objects 0 and 1
// existing.
func RegisterBuiltins(reg *definition.Registry) error {
	for _, b := range []struct {
		obj *definition.ObjectDefinition
		res []*definition.ResourceDefinition
	}{
		{securityObject(), securityResources()},
		{serverObject(), serverResources()},
		{aclObject(), aclResources()},
	} {
		if existing := reg.LookupObject(b.obj.ID); existing == nil {
			if err := reg.DefineObject(b.obj); err != nil {
				return err
			}
		} else if existing.Name != b.obj.Name || existing.MinInstances != b.obj.MinInstances || existing.MaxInstances != b.obj.MaxInstances {
			return fmt.Errorf("%w: object %d already defined", lwm2merr.ErrAlreadyExists, b.obj.ID)
		}
		for _, r := range b.res {
			if err := reg.DefineResource(b.obj.ID, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// securityObject mirrors lwm2m_security_object.c's LWM2MSecurityInfo,
// renumbered to the resource IDs the OMA registry assigns object 0.
func securityObject() *definition.ObjectDefinition {
	return &definition.ObjectDefinition{
		ID:           model.ObjectIDSecurity,
		Name:         "LWM2M Security",
		MinInstances: 1,
		MaxInstances: 16,
	}
}

func securityResources() []*definition.ResourceDefinition {
	return []*definition.ResourceDefinition{
		{ID: model.ResourceIDSecurityURI, Name: "LWM2M Server URI", Kind: model.KindString, MinInstances: 1, MaxInstances: 1, Operations: 0},
		{ID: model.ResourceIDSecurityBootstrap, Name: "Bootstrap Server", Kind: model.KindBoolean, MinInstances: 1, MaxInstances: 1},
		{ID: model.ResourceIDSecurityMode, Name: "Security Mode", Kind: model.KindInteger, MinInstances: 1, MaxInstances: 1},
		{ID: model.ResourceIDSecurityIdentity, Name: "Public Key or Identity", Kind: model.KindOpaque, MinInstances: 1, MaxInstances: 1},
		{ID: model.ResourceIDSecurityServerKey, Name: "Server Public Key", Kind: model.KindOpaque, MinInstances: 1, MaxInstances: 1},
		{ID: model.ResourceIDSecuritySecretKey, Name: "Secret Key", Kind: model.KindOpaque, MinInstances: 1, MaxInstances: 1},
		{ID: 6, Name: "SMS Security Mode", Kind: model.KindInteger, MaxInstances: 1},
		{ID: 7, Name: "SMS Binding Key Parameters", Kind: model.KindOpaque, MaxInstances: 1},
		{ID: 8, Name: "SMS Binding Secret Key(s)", Kind: model.KindOpaque, MaxInstances: 1},
		{ID: 9, Name: "LWM2M Server SMS Number", Kind: model.KindString, MaxInstances: 1},
		{ID: model.ResourceIDSecurityShortServerID, Name: "Short Server ID", Kind: model.KindInteger, MaxInstances: 1},
		{ID: model.ResourceIDSecurityHoldOff, Name: "Client Hold Off Time", Kind: model.KindInteger, MaxInstances: 1},
	}
}

// serverObject mirrors lwm2m_server_object.c's LWM2MServerInfo.
func serverObject() *definition.ObjectDefinition {
	return &definition.ObjectDefinition{
		ID:           model.ObjectIDServer,
		Name:         "LWM2M Server",
		MinInstances: 1,
		MaxInstances: 16,
	}
}

func serverResources() []*definition.ResourceDefinition {
	return []*definition.ResourceDefinition{
		{ID: model.ResourceIDServerShortServerID, Name: "Short Server ID", Kind: model.KindInteger, MinInstances: 1, MaxInstances: 1},
		{ID: model.ResourceIDServerLifetime, Name: "Lifetime", Kind: model.KindInteger, MinInstances: 1, MaxInstances: 1, Operations: definition.OpRead | definition.OpWrite},
		{ID: model.ResourceIDServerDefaultPMin, Name: "Default Minimum Period", Kind: model.KindInteger, MaxInstances: 1, Operations: definition.OpRead | definition.OpWrite},
		{ID: model.ResourceIDServerDefaultPMax, Name: "Default Maximum Period", Kind: model.KindInteger, MaxInstances: 1, Operations: definition.OpRead | definition.OpWrite},
		{ID: 4, Name: "Disable", Kind: model.KindNone, MaxInstances: 1, Operations: definition.OpExecute},
		{ID: model.ResourceIDServerDisableTimeout, Name: "Disable Timeout", Kind: model.KindInteger, MaxInstances: 1, Operations: definition.OpRead | definition.OpWrite},
		{ID: model.ResourceIDServerNotifyStoring, Name: "Notification Storing", Kind: model.KindBoolean, MinInstances: 1, MaxInstances: 1, Operations: definition.OpRead | definition.OpWrite},
		{ID: model.ResourceIDServerBinding, Name: "Binding", Kind: model.KindString, MinInstances: 1, MaxInstances: 1, Operations: definition.OpRead | definition.OpWrite},
		{ID: 8, Name: "Registration Update Trigger", Kind: model.KindNone, MinInstances: 1, MaxInstances: 1, Operations: definition.OpExecute},
	}
}

// aclObject mirrors lwm2m_acl_object.c's per-object-instance ACL entries:
// object 2, instance keyed by (ObjectID, InstanceID), with one
// resource-instance of resource 2 per authorised short-server-ID.
func aclObject() *definition.ObjectDefinition {
	return &definition.ObjectDefinition{
		ID:           model.ObjectIDACL,
		Name:         "Access Control",
		MinInstances: 0,
		MaxInstances: 16,
	}
}

func aclResources() []*definition.ResourceDefinition {
	return []*definition.ResourceDefinition{
		{ID: model.ResourceIDACLObjectID, Name: "Object ID", Kind: model.KindInteger, MinInstances: 1, MaxInstances: 1},
		{ID: model.ResourceIDACLInstanceID, Name: "Object Instance ID", Kind: model.KindInteger, MinInstances: 1, MaxInstances: 1},
		{ID: model.ResourceIDACLPerServer, Name: "ACL", Kind: model.KindInteger, Array: true, MaxInstances: 16, Operations: definition.OpRead | definition.OpWrite},
		{ID: model.ResourceIDACLOwner, Name: "Access Control Owner", Kind: model.KindInteger, MinInstances: 1, MaxInstances: 1, Operations: definition.OpRead | definition.OpWrite},
	}
}
