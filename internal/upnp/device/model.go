// Package device implements the Device & Service runtime (spec.md §4.2,
// §3): composing declarative device/service definitions into a live,
// spec-conformant SSDP+HTTP+SOAP+GENA endpoint.
//
// Grounded on the route-mounting and derivation conventions of the
// original PMOMusic lineage file's DeviceInstance (BaseRoute,
// DescriptionURL, NT, RegisterURLs, ToXMLElement), reimplemented with
// encoding/xml-based building instead of etree, and on
// internal/server/server.go's router-wiring style for HTTP mounting.
package device

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/coissac/pmomusic/internal/upnp/statevar"
)

// Kind enumerates the UPnP device types this runtime knows how to serve.
type Kind string

const (
	KindMediaServer   Kind = "MediaServer"
	KindMediaRenderer Kind = "MediaRenderer"
)

// Action is the immutable, shared description of one SOAP action.
type Action struct {
	Name string
	Args []ActionArg
	// Invoke implements the action against a ServiceInstance. It receives
	// already name/direction-validated input arguments (raw wire
	// strings) and must return the named output arguments as raw wire
	// strings, or an error (see soap.FaultFromError for how the error
	// is mapped to a UPnP SOAP Fault code).
	Invoke func(si *ServiceInstance, args map[string]string) (map[string]string, error)
}

// Direction is In or Out for one action argument.
type Direction int

const (
	DirIn Direction = iota
	DirOut
)

// ActionArg is one formal argument of an Action.
type ActionArg struct {
	Name                 string
	Direction            Direction
	RelatedStateVariable string
}

// Service is the immutable, shared description of a service: its
// identifier, version, and the state variables and actions it owns.
type Service struct {
	ID      string // e.g. "AVTransport"
	Type    string // e.g. "urn:schemas-upnp-org:service:AVTransport:1"
	Version string

	Variables map[string]*statevar.Definition
	Actions   map[string]*Action
}

// Device is the immutable, shared description of a device: its type,
// version, friendly metadata, and ordered service list. Devices may own
// embedded sub-devices; circular device graphs are rejected at
// registration (see Server.RegisterDevice).
type Device struct {
	Kind         Kind
	Version      string
	FriendlyName string
	Manufacturer string
	ModelName    string
	Services     []*Service
	SubDevices   []*Device
}

// DeviceType returns the device-type URN, e.g.
// "urn:schemas-upnp-org:device:MediaRenderer:1".
func (d *Device) DeviceType() string {
	return fmt.Sprintf("urn:schemas-upnp-org:device:%s:%s", d.Kind, d.Version)
}

// ServiceInstance owns the per-instance state-variable instances for one
// Service. GENA subscribers and their sequence counters are not kept
// here: each service's gena.Notifier owns them.
type ServiceInstance struct {
	Def       *Service
	Variables map[string]*statevar.Instance
}

// NewServiceInstance creates per-instance state for every variable def
// declares.
func NewServiceInstance(def *Service) *ServiceInstance {
	si := &ServiceInstance{Def: def, Variables: make(map[string]*statevar.Instance, len(def.Variables))}
	for name, vdef := range def.Variables {
		si.Variables[name] = statevar.NewInstance(vdef)
	}
	return si
}

// DeviceInstance anchors a Device to a Server: it has a UDN, owns service
// instances (and those of its embedded sub-devices), and exposes the
// description/SCPD/control/event URLs the server mounts.
type DeviceInstance struct {
	Def      *Device
	UDN      string
	BaseURL  string // e.g. "http://192.168.1.5:9000"
	Services map[string]*ServiceInstance
	Children []*DeviceInstance
}

// NewDeviceInstance anchors def to baseURL with a freshly generated UDN.
// It returns an error if def's SubDevices graph is circular: spec.md §3
// disallows circular device graphs, and walking one unbounded would
// recurse forever instead of being rejected at registration.
func NewDeviceInstance(def *Device, baseURL string) (*DeviceInstance, error) {
	return newDeviceInstanceWithUDN(def, baseURL, uuid.NewString(), make(map[*Device]bool))
}

func newDeviceInstanceWithUDN(def *Device, baseURL, udn string, visited map[*Device]bool) (*DeviceInstance, error) {
	if visited[def] {
		return nil, fmt.Errorf("device: circular device graph detected at %q", def.FriendlyName)
	}
	visited[def] = true

	di := &DeviceInstance{Def: def, UDN: udn, BaseURL: baseURL, Services: make(map[string]*ServiceInstance, len(def.Services))}
	for _, svc := range def.Services {
		di.Services[svc.ID] = NewServiceInstance(svc)
	}
	for _, sub := range def.SubDevices {
		child, err := newDeviceInstanceWithUDN(sub, baseURL, uuid.NewString(), visited)
		if err != nil {
			return nil, err
		}
		di.Children = append(di.Children, child)
	}
	return di, nil
}

// BaseRoute returns the HTTP path prefix this device instance is mounted
// under: "/device/{type}/{udn}".
func (di *DeviceInstance) BaseRoute() string {
	return fmt.Sprintf("/device/%s/%s", di.Def.Kind, di.UDN)
}

// DescriptionURL returns the absolute URL of this device's description
// XML.
func (di *DeviceInstance) DescriptionURL() string {
	return di.BaseURL + di.BaseRoute() + "/desc.xml"
}

// NT returns the notification type used in this device's own SSDP
// advertisements: "uuid:{udn}::urn:schemas-upnp-org:device:{kind}:{version}".
func (di *DeviceInstance) NT() string {
	return fmt.Sprintf("uuid:%s::%s", di.UDN, di.Def.DeviceType())
}

// ServiceControlURL returns the absolute control URL for service s.
func (di *DeviceInstance) ServiceControlURL(s *Service) string {
	return di.BaseURL + di.BaseRoute() + "/" + s.ID + "/control"
}

// ServiceEventURL returns the absolute GENA event-subscription URL for
// service s.
func (di *DeviceInstance) ServiceEventURL(s *Service) string {
	return di.BaseURL + di.BaseRoute() + "/" + s.ID + "/event"
}

// ServiceSCPDURL returns the absolute SCPD URL for service s.
func (di *DeviceInstance) ServiceSCPDURL(s *Service) string {
	return di.BaseURL + di.BaseRoute() + "/" + s.ID + "/scpd.xml"
}

// NTList returns every notification type this device instance must
// advertise on SSDP alive/byebye and answer M-SEARCH for:
// upnp:rootdevice, the device type, and each service type — mirroring
// the lineage file's RegisterSSPD NTs assembly.
func (di *DeviceInstance) NTList() []string {
	nts := make([]string, 0, 2+len(di.Def.Services))
	nts = append(nts, "upnp:rootdevice", di.Def.DeviceType())
	for _, s := range di.Def.Services {
		nts = append(nts, s.Type)
	}
	return nts
}

// walk calls fn for di and every descendant, depth-first.
func (di *DeviceInstance) walk(fn func(*DeviceInstance)) {
	fn(di)
	for _, c := range di.Children {
		c.walk(fn)
	}
}
