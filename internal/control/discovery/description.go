// Package discovery turns SSDP responses into usable renderer and
// server backends: it fetches and parses a remote device's description
// document, locates the control URLs of the services this runtime
// knows how to drive, and hands the caller enough to build a
// renderer.Backend or register a renderer.ServerSummary.
//
// Grounded on internal/discovery/parser.go's token-walk XML decoding
// style and internal/discovery/http_probe.go's ProbeDevice, generalized
// from Sonos's fixed port-1400/xml/device_description.xml layout to an
// arbitrary SSDP LOCATION and from a handful of named Sonos elements to
// a full serviceList walk, since this runtime must drive any vendor's
// AVTransport/RenderingControl/OpenHome Playlist implementation, not
// just Sonos's.
package discovery

import (
	"encoding/xml"
	"strings"
)

// ServiceDescriptor is one <service> entry from a device description
// document: the triple a soap.Invoker needs (serviceType + controlURL)
// plus the event subscription URL GENA subscribers would use.
type ServiceDescriptor struct {
	ServiceType string
	ServiceID   string
	ControlURL  string
	EventSubURL string
}

// DeviceDescription is the subset of a UPnP root device description
// this runtime cares about: identity, advertised device type, and the
// flattened service list (embedded devices' services included, since a
// MediaRenderer's AVTransport/RenderingControl are almost always on an
// embedded sub-device rather than the root).
type DeviceDescription struct {
	UDN          string
	DeviceType   string
	FriendlyName string
	Manufacturer string
	ModelName    string
	Services     []ServiceDescriptor
}

// ServiceByType returns the first service descriptor whose ServiceType
// has serviceURN as a prefix (so callers can match "...:1" regardless
// of the exact minor version a vendor advertises), or false.
func (d *DeviceDescription) ServiceByType(serviceURN string) (ServiceDescriptor, bool) {
	for _, s := range d.Services {
		if strings.HasPrefix(s.ServiceType, serviceURN) {
			return s, true
		}
	}
	return ServiceDescriptor{}, false
}

// ParseDescription decodes a UPnP device description XML document.
// Relative controlURL/eventSubURL values are resolved against baseURL.
func ParseDescription(xmlPayload []byte, baseURL string) (*DeviceDescription, error) {
	dec := xml.NewDecoder(strings.NewReader(string(xmlPayload)))

	var desc DeviceDescription
	var udnSeen bool
	var inService bool
	var cur ServiceDescriptor
	var deviceDepth int

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "device":
				deviceDepth++
			case "friendlyName":
				if deviceDepth == 1 && desc.FriendlyName == "" {
					desc.FriendlyName = decodeText(dec, t)
				} else {
					skipText(dec, t)
				}
			case "deviceType":
				if deviceDepth == 1 && desc.DeviceType == "" {
					desc.DeviceType = decodeText(dec, t)
				} else {
					skipText(dec, t)
				}
			case "manufacturer":
				if deviceDepth == 1 && desc.Manufacturer == "" {
					desc.Manufacturer = decodeText(dec, t)
				} else {
					skipText(dec, t)
				}
			case "modelName":
				if deviceDepth == 1 && desc.ModelName == "" {
					desc.ModelName = decodeText(dec, t)
				} else {
					skipText(dec, t)
				}
			case "UDN":
				if !udnSeen {
					desc.UDN = strings.TrimPrefix(decodeText(dec, t), "uuid:")
					udnSeen = true
				} else {
					skipText(dec, t)
				}
			case "service":
				inService = true
				cur = ServiceDescriptor{}
			case "serviceType":
				if inService {
					cur.ServiceType = decodeText(dec, t)
				}
			case "serviceId":
				if inService {
					cur.ServiceID = decodeText(dec, t)
				}
			case "controlURL":
				if inService {
					cur.ControlURL = resolveURL(baseURL, decodeText(dec, t))
				}
			case "eventSubURL":
				if inService {
					cur.EventSubURL = resolveURL(baseURL, decodeText(dec, t))
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "device":
				deviceDepth--
			case "service":
				if inService {
					desc.Services = append(desc.Services, cur)
					inService = false
				}
			}
		}
	}

	return &desc, nil
}

func decodeText(dec *xml.Decoder, start xml.StartElement) string {
	var v string
	_ = dec.DecodeElement(&v, &start)
	return strings.TrimSpace(v)
}

func skipText(dec *xml.Decoder, start xml.StartElement) {
	_ = dec.Skip()
}

// resolveURL joins a possibly-relative UPnP URL against baseURL. Most
// vendors return an absolute path ("/MediaRenderer/AVTransport/Control")
// rather than a full URL, per the UPnP device architecture spec.
func resolveURL(baseURL, ref string) string {
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	base := strings.TrimSuffix(baseURL, "/")
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return base + ref
}
