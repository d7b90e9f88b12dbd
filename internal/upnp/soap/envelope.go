// Package soap implements the server side of the SOAP control surface
// (spec.md §4.2, §6): parsing an inbound action invocation, validating
// its arguments, and rendering the success/fault response envelope.
//
// Grounded on internal/sonos/soap/client.go and actions.go's envelope
// and fault wire format, inverted from client-invocation to
// server-dispatch: the same manual strings.Builder envelope shape, the
// same SOAPAction header convention, the same SOAP Fault structure.
package soap

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// ParsedAction is one decoded inbound SOAP request: the action name
// (taken from the body element, e.g. "Play" from <u:Play>), its service
// type namespace, and its named input arguments.
type ParsedAction struct {
	ActionName  string
	ServiceType string
	Args        map[string]string
}

// ParseSOAPAction extracts {serviceType, action} from a SOAPAction HTTP
// header value of the form `"{serviceType}#{action}"`.
func ParseSOAPAction(header string) (serviceType, action string, err error) {
	h := strings.Trim(header, `"`)
	idx := strings.LastIndex(h, "#")
	if idx < 0 {
		return "", "", fmt.Errorf("soap: malformed SOAPAction header: %q", header)
	}
	return h[:idx], h[idx+1:], nil
}

// ParseRequestBody token-walks a SOAP request envelope's body, returning
// the decoded action name and its flat set of named input arguments.
// Nested or repeated elements beyond simple name/value pairs are not
// produced by any action this runtime defines, so a single-level
// name→text map is sufficient.
func ParseRequestBody(body io.Reader) (*ParsedAction, error) {
	dec := xml.NewDecoder(body)

	pa := &ParsedAction{Args: make(map[string]string)}
	var depth int
	var curArg string

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("soap: parse request body: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 3 && pa.ActionName == "" {
				// The action element itself, e.g. <u:Play xmlns:u="...">.
				pa.ActionName = el.Name.Local
				pa.ServiceType = el.Name.Space
				continue
			}
			if depth == 4 {
				curArg = el.Name.Local
			}
		case xml.CharData:
			if depth == 4 && curArg != "" {
				text := strings.TrimSpace(string(el))
				if text != "" {
					pa.Args[curArg] += text
				}
			}
		case xml.EndElement:
			if depth == 4 {
				curArg = ""
			}
			depth--
		}
	}

	if pa.ActionName == "" {
		return nil, fmt.Errorf("soap: request body contains no action element")
	}
	return pa, nil
}

// BuildResponseEnvelope renders a successful SOAP response for action,
// wrapping outArgs in <u:{action}Response xmlns:u="{serviceType}">, in
// the order outOrder names them (argument order matters to some UPnP
// control points, so callers pass the action's declared Out-argument
// order rather than relying on map iteration).
func BuildResponseEnvelope(serviceType, action string, outArgs map[string]string, outOrder []string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>`)
	b.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body>`)
	fmt.Fprintf(&b, `<u:%sResponse xmlns:u="%s">`, action, escapeXML(serviceType))
	for _, name := range outOrder {
		fmt.Fprintf(&b, `<%s>%s</%s>`, name, escapeXML(outArgs[name]), name)
	}
	fmt.Fprintf(&b, `</u:%sResponse>`, action)
	b.WriteString(`</s:Body></s:Envelope>`)
	return b.String()
}

// BuildFaultEnvelope renders a SOAP Fault carrying a UPnP error code and
// description, as sent on an HTTP 500 response (spec.md §4.2, §6).
func BuildFaultEnvelope(errorCode int, errorDescription string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>`)
	b.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body>`)
	b.WriteString(`<s:Fault><faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring><detail>`)
	b.WriteString(`<UPnPError xmlns="urn:schemas-upnp-org:control-1-0">`)
	fmt.Fprintf(&b, `<errorCode>%d</errorCode>`, errorCode)
	fmt.Fprintf(&b, `<errorDescription>%s</errorDescription>`, escapeXML(errorDescription))
	b.WriteString(`</UPnPError></detail></s:Fault>`)
	b.WriteString(`</s:Body></s:Envelope>`)
	return b.String()
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
