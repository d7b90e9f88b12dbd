// Package didl implements the DIDL-Lite codec (spec.md §4.3): encoding
// and decoding of Container/Item trees carried in AVTransport
// CurrentURIMetaData and ContentDirectory Browse results.
//
// Encoding is deterministic and hand-built via strings.Builder, matching
// this codebase's own convention for building outbound DIDL-Lite
// (internal/sonos/uri_builder.go's BuildDIDLMetadata). Decoding
// token-walks with encoding/xml.Decoder and tolerates unknown child
// elements, matching internal/sonos/soap/actions.go's parseDidlFavorites.
package didl

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const (
	nsDC   = "http://purl.org/dc/elements/1.1/"
	nsUPNP = "urn:schemas-upnp-org:metadata-1-0/upnp/"
	nsR    = "urn:schemas-rinconnetworks-com:metadata-1-0/"
	nsDIDL = "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"
)

// Resource is a <res> element: a playable or downloadable stream.
type Resource struct {
	URL             string
	ProtocolInfo    string
	Duration        string // H+:MM:SS[.F+]
	BitsPerSample   int
	SampleFrequency int
	Channels        int
	Size            int64
}

// Desc is a <desc> extension element, carrying a namespace-qualified
// free-form payload (e.g. Sonos's cdudn token, ReplayGain values).
type Desc struct {
	ID        string
	NameSpace string
	Value     string
	TrackGain string
	TrackPeak string
}

// Object is the common shape of a Container or an Item.
type Object struct {
	ID          string
	ParentID    string
	Restricted  bool
	IsContainer bool
	ChildCount  int // containers only; 0 if unknown

	Title       string
	Class       string
	Artist      string
	Creator     string
	Album       string
	Genre       string
	Date        string
	TrackNumber int
	AlbumArtURI string

	Resources []Resource
	Descs     []Desc
}

// Document is a parsed or to-be-encoded DIDL-Lite document: an ordered
// list of top-level objects (the results of one Browse call, or the
// single item referenced by an AVTransport URI).
type Document struct {
	Objects []Object
}

// Encode renders d as a byte-for-byte deterministic DIDL-Lite XML
// fragment: element and attribute order is always the same for the same
// input. No XML prolog is emitted (DIDL-Lite fragments are embedded
// inside a larger SOAP envelope, which owns the prolog).
func (d *Document) Encode() string {
	var b strings.Builder
	b.WriteString(`<DIDL-Lite xmlns:dc="`)
	b.WriteString(nsDC)
	b.WriteString(`" xmlns:upnp="`)
	b.WriteString(nsUPNP)
	b.WriteString(`" xmlns:r="`)
	b.WriteString(nsR)
	b.WriteString(`" xmlns="`)
	b.WriteString(nsDIDL)
	b.WriteString(`">`)
	for _, obj := range d.Objects {
		encodeObject(&b, &obj)
	}
	b.WriteString(`</DIDL-Lite>`)
	return b.String()
}

func encodeObject(b *strings.Builder, obj *Object) {
	tag := "item"
	if obj.IsContainer {
		tag = "container"
	}
	fmt.Fprintf(b, `<%s id="%s" parentID="%s" restricted="%s"`, tag, escapeAttr(obj.ID), escapeAttr(obj.ParentID), boolStr(obj.Restricted))
	if obj.IsContainer && obj.ChildCount > 0 {
		fmt.Fprintf(b, ` childCount="%d"`, obj.ChildCount)
	}
	b.WriteString(">")

	writeTextElem(b, "dc:title", obj.Title)
	writeTextElem(b, "upnp:class", obj.Class)
	writeTextElem(b, "dc:creator", obj.Creator)
	writeTextElem(b, "upnp:artist", obj.Artist)
	writeTextElem(b, "upnp:album", obj.Album)
	writeTextElem(b, "upnp:genre", obj.Genre)
	writeTextElem(b, "dc:date", obj.Date)
	if obj.TrackNumber > 0 {
		fmt.Fprintf(b, "<upnp:originalTrackNumber>%d</upnp:originalTrackNumber>", obj.TrackNumber)
	}
	writeTextElem(b, "upnp:albumArtURI", obj.AlbumArtURI)

	for _, res := range obj.Resources {
		encodeResource(b, &res)
	}
	for _, desc := range obj.Descs {
		encodeDesc(b, &desc)
	}

	fmt.Fprintf(b, "</%s>", tag)
}

func encodeResource(b *strings.Builder, r *Resource) {
	b.WriteString("<res")
	if r.ProtocolInfo != "" {
		fmt.Fprintf(b, ` protocolInfo="%s"`, escapeAttr(r.ProtocolInfo))
	}
	if r.Duration != "" {
		fmt.Fprintf(b, ` duration="%s"`, escapeAttr(r.Duration))
	}
	if r.BitsPerSample > 0 {
		fmt.Fprintf(b, ` bitsPerSample="%d"`, r.BitsPerSample)
	}
	if r.SampleFrequency > 0 {
		fmt.Fprintf(b, ` sampleFrequency="%d"`, r.SampleFrequency)
	}
	if r.Channels > 0 {
		fmt.Fprintf(b, ` nrAudioChannels="%d"`, r.Channels)
	}
	if r.Size > 0 {
		fmt.Fprintf(b, ` size="%d"`, r.Size)
	}
	b.WriteString(">")
	b.WriteString(escapeText(r.URL))
	b.WriteString("</res>")
}

func encodeDesc(b *strings.Builder, d *Desc) {
	b.WriteString("<desc")
	if d.ID != "" {
		fmt.Fprintf(b, ` id="%s"`, escapeAttr(d.ID))
	}
	if d.NameSpace != "" {
		fmt.Fprintf(b, ` nameSpace="%s"`, escapeAttr(d.NameSpace))
	}
	b.WriteString(">")
	value := d.Value
	if d.TrackGain != "" || d.TrackPeak != "" {
		if d.TrackGain != "" {
			value += ";trackGain=" + d.TrackGain
		}
		if d.TrackPeak != "" {
			value += ";trackPeak=" + d.TrackPeak
		}
	}
	b.WriteString(escapeText(value))
	b.WriteString("</desc>")
}

func writeTextElem(b *strings.Builder, tag, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "<%s>%s</%s>", tag, escapeText(value), tag)
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func escapeAttr(s string) string {
	return escapeText(s)
}

func escapeText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// Decode parses a DIDL-Lite XML document, tolerating unknown child
// elements (they are simply skipped; <desc> elements are always
// preserved since they are the one element family a consumer routinely
// needs even when it is not part of this codec's named field set).
func Decode(xmlBody string) (*Document, error) {
	dec := xml.NewDecoder(strings.NewReader(xmlBody))
	doc := &Document{}

	var cur *Object
	var curField string

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("didl: decode: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "item", "container":
				obj := Object{IsContainer: el.Name.Local == "container"}
				for _, attr := range el.Attr {
					switch attr.Name.Local {
					case "id":
						obj.ID = attr.Value
					case "parentID":
						obj.ParentID = attr.Value
					case "restricted":
						obj.Restricted = attr.Value == "true" || attr.Value == "1"
					case "childCount":
						fmt.Sscanf(attr.Value, "%d", &obj.ChildCount)
					}
				}
				cur = &obj
			case "res":
				if cur == nil {
					continue
				}
				res := Resource{}
				for _, attr := range el.Attr {
					switch attr.Name.Local {
					case "protocolInfo":
						res.ProtocolInfo = attr.Value
					case "duration":
						res.Duration = attr.Value
					case "bitsPerSample":
						fmt.Sscanf(attr.Value, "%d", &res.BitsPerSample)
					case "sampleFrequency":
						fmt.Sscanf(attr.Value, "%d", &res.SampleFrequency)
					case "nrAudioChannels":
						fmt.Sscanf(attr.Value, "%d", &res.Channels)
					case "size":
						fmt.Sscanf(attr.Value, "%d", &res.Size)
					}
				}
				curField = "res"
				cur.Resources = append(cur.Resources, res)
			case "desc":
				if cur == nil {
					continue
				}
				desc := Desc{}
				for _, attr := range el.Attr {
					switch attr.Name.Local {
					case "id":
						desc.ID = attr.Value
					case "nameSpace":
						desc.NameSpace = attr.Value
					}
				}
				curField = "desc"
				cur.Descs = append(cur.Descs, desc)
			default:
				curField = el.Name.Local
			}

		case xml.CharData:
			if cur == nil || curField == "" {
				continue
			}
			text := strings.TrimSpace(string(el))
			if text == "" {
				continue
			}
			applyCharData(cur, curField, text)

		case xml.EndElement:
			switch el.Name.Local {
			case "item", "container":
				if cur != nil {
					doc.Objects = append(doc.Objects, *cur)
					cur = nil
				}
			}
			curField = ""
		}
	}

	return doc, nil
}

func applyCharData(obj *Object, field, text string) {
	switch field {
	case "title":
		obj.Title = text
	case "class":
		obj.Class = text
	case "creator":
		obj.Creator = text
	case "artist":
		obj.Artist = text
	case "album":
		obj.Album = text
	case "genre":
		obj.Genre = text
	case "date":
		obj.Date = text
	case "originalTrackNumber":
		fmt.Sscanf(text, "%d", &obj.TrackNumber)
	case "albumArtURI":
		obj.AlbumArtURI = text
	case "res":
		if n := len(obj.Resources); n > 0 {
			obj.Resources[n-1].URL = text
		}
	case "desc":
		if n := len(obj.Descs); n > 0 {
			obj.Descs[n-1].Value = text
		}
	}
}
