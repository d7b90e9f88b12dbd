// contentdirectory.go hosts a minimal but real ContentDirectory service:
// enough of Browse/GetSystemUpdateID/GetSearchCapabilities/
// GetSortCapabilities to let control points enumerate an (empty) root
// container and subscribe to catalog-change GENA events. The catalog
// itself is out of this module's scope (spec.md's out-of-scope
// collaborators list the source-specific HTTP clients), so Browse of
// the root container always returns zero children; what this file
// actually demonstrates is the bridge spec.md §2 describes: "cache
// refreshes publish slug-scoped change events that the Media Server
// surfaces as GENA updates to subscribed control points".
//
// Grounded on internal/upnp/device/model.go's Service/Action shape and
// internal/upnp/didl's DIDL-Lite encoder for the Browse result payload.
package main

import (
	"fmt"
	"strconv"

	"github.com/coissac/pmomusic/internal/apperrors"
	"github.com/coissac/pmomusic/internal/upnp/device"
	"github.com/coissac/pmomusic/internal/upnp/didl"
	"github.com/coissac/pmomusic/internal/upnp/server"
	"github.com/coissac/pmomusic/internal/upnp/statevar"
)

// upnpErrorNoSuchObject is ContentDirectory's standard 701 fault code.
const upnpErrorNoSuchObject = 701

func newNoSuchObjectFault(objectID string) error {
	return apperrors.NewActionInvocationError(
		fmt.Sprintf("no such object: %q", objectID),
		422,
		map[string]any{"upnp_error_code": upnpErrorNoSuchObject},
	)
}

const contentDirectoryServiceType = "urn:schemas-upnp-org:service:ContentDirectory:1"

// newContentDirectoryDevice builds the Device definition for a minimal
// MediaServer: one ContentDirectory service advertising an empty root
// container.
func newContentDirectoryDevice(friendlyName string) *device.Device {
	svc := &device.Service{
		ID:      "ContentDirectory",
		Type:    contentDirectoryServiceType,
		Version: "1",
		Variables: map[string]*statevar.Definition{
			"SystemUpdateID": {
				Name:       "SystemUpdateID",
				VarType:    statevar.TypeUI4,
				SendEvents: true,
				Default:    "0",
			},
			"ContainerUpdateIDs": {
				Name:       "ContainerUpdateIDs",
				VarType:    statevar.TypeString,
				SendEvents: true,
				Default:    "",
			},
			"A_ARG_TYPE_ObjectID": {
				Name:    "A_ARG_TYPE_ObjectID",
				VarType: statevar.TypeString,
			},
			"A_ARG_TYPE_Result": {
				Name:    "A_ARG_TYPE_Result",
				VarType: statevar.TypeString,
			},
			"SearchCapabilities": {
				Name:    "SearchCapabilities",
				VarType: statevar.TypeString,
			},
			"SortCapabilities": {
				Name:    "SortCapabilities",
				VarType: statevar.TypeString,
			},
		},
		Actions: map[string]*device.Action{
			"GetSystemUpdateID": {
				Name: "GetSystemUpdateID",
				Args: []device.ActionArg{
					{Name: "Id", Direction: device.DirOut, RelatedStateVariable: "SystemUpdateID"},
				},
				Invoke: invokeGetSystemUpdateID,
			},
			"GetSearchCapabilities": {
				Name: "GetSearchCapabilities",
				Args: []device.ActionArg{
					{Name: "SearchCaps", Direction: device.DirOut, RelatedStateVariable: "SearchCapabilities"},
				},
				Invoke: func(si *device.ServiceInstance, args map[string]string) (map[string]string, error) {
					return map[string]string{"SearchCaps": ""}, nil
				},
			},
			"GetSortCapabilities": {
				Name: "GetSortCapabilities",
				Args: []device.ActionArg{
					{Name: "SortCaps", Direction: device.DirOut, RelatedStateVariable: "SortCapabilities"},
				},
				Invoke: func(si *device.ServiceInstance, args map[string]string) (map[string]string, error) {
					return map[string]string{"SortCaps": ""}, nil
				},
			},
			"Browse": {
				Name: "Browse",
				Args: []device.ActionArg{
					{Name: "ObjectID", Direction: device.DirIn, RelatedStateVariable: "A_ARG_TYPE_ObjectID"},
					{Name: "BrowseFlag", Direction: device.DirIn},
					{Name: "Filter", Direction: device.DirIn},
					{Name: "StartingIndex", Direction: device.DirIn},
					{Name: "RequestedCount", Direction: device.DirIn},
					{Name: "SortCriteria", Direction: device.DirIn},
					{Name: "Result", Direction: device.DirOut, RelatedStateVariable: "A_ARG_TYPE_Result"},
					{Name: "NumberReturned", Direction: device.DirOut},
					{Name: "TotalMatches", Direction: device.DirOut},
					{Name: "UpdateID", Direction: device.DirOut, RelatedStateVariable: "SystemUpdateID"},
				},
				Invoke: invokeBrowse,
			},
		},
	}

	return &device.Device{
		Kind:         device.KindMediaServer,
		Version:      "1",
		FriendlyName: friendlyName,
		Manufacturer: "pmomusic",
		ModelName:    "pmomusicd ContentDirectory",
		Services:     []*device.Service{svc},
	}
}

func invokeGetSystemUpdateID(si *device.ServiceInstance, args map[string]string) (map[string]string, error) {
	v := si.Variables["SystemUpdateID"].Current()
	return map[string]string{"Id": fmt.Sprintf("%v", v)}, nil
}

// invokeBrowse only ever serves the root container ("0") with
// BrowseDirectChildren/BrowseMetadata, always with zero children: this
// module owns no catalog of its own (see the file doc comment). Any
// other ObjectID is a NoSuchObject fault.
func invokeBrowse(si *device.ServiceInstance, args map[string]string) (map[string]string, error) {
	objectID := args["ObjectID"]
	if objectID != "0" {
		return nil, newNoSuchObjectFault(objectID)
	}

	var doc didl.Document
	flag := args["BrowseFlag"]
	if flag == "BrowseMetadata" {
		doc.Objects = []didl.Object{{
			ID:          "0",
			ParentID:    "-1",
			Restricted:  true,
			IsContainer: true,
			Title:       "root",
			Class:       "object.container",
		}}
	}

	updateID := fmt.Sprintf("%v", si.Variables["SystemUpdateID"].Current())
	return map[string]string{
		"Result":         doc.Encode(),
		"NumberReturned": strconv.Itoa(len(doc.Objects)),
		"TotalMatches":   strconv.Itoa(len(doc.Objects)),
		"UpdateID":       updateID,
	}, nil
}

// contentDirectoryBridge subscribes a MetadataCache's slug-changed
// notifications to the ContentDirectory's SystemUpdateID/GENA pipeline,
// directly implementing spec.md §2's "cache refreshes publish
// slug-scoped change events that the Media Server surfaces as GENA
// updates to subscribed control points".
type contentDirectoryBridge struct {
	srv *server.Server
	si  *device.ServiceInstance
}

func newContentDirectoryBridge(srv *server.Server, di *device.DeviceInstance) *contentDirectoryBridge {
	return &contentDirectoryBridge{srv: srv, si: di.Services["ContentDirectory"]}
}

// onSlugChanged bumps SystemUpdateID and pushes the GENA NOTIFY. It is
// registered as a cache.SlugChangedListener on every MetadataCache whose
// contents this server's catalog reflects.
func (b *contentDirectoryBridge) onSlugChanged(slug string) {
	inst := b.si.Variables["SystemUpdateID"]
	var next uint64
	if cur, ok := inst.Current().(uint64); ok {
		next = cur + 1
	}
	if _, err := inst.Set(next); err != nil {
		return
	}
	b.srv.NotifyChanged(b.si, "SystemUpdateID", fmt.Sprintf("%d", next))
}
