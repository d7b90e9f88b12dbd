package device

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
)

// DescriptionXML renders di's device description document: root
// <root xmlns="urn:schemas-upnp-org:device-1-0"> with <specVersion>,
// URLBase, <device>, and a <serviceList> naming every service's type,
// id, and the three mounted URLs. Output is deterministic: fixed
// attribute/element order for a given di.
func (di *DeviceInstance) DescriptionXML() string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(`<root xmlns="urn:schemas-upnp-org:device-1-0">`)
	b.WriteString(`<specVersion><major>1</major><minor>0</minor></specVersion>`)
	fmt.Fprintf(&b, `<URLBase>%s</URLBase>`, escape(di.BaseURL))
	writeDeviceElement(&b, di)
	b.WriteString(`</root>`)
	return b.String()
}

func writeDeviceElement(b *strings.Builder, di *DeviceInstance) {
	b.WriteString(`<device>`)
	fmt.Fprintf(b, `<deviceType>%s</deviceType>`, escape(di.Def.DeviceType()))
	fmt.Fprintf(b, `<friendlyName>%s</friendlyName>`, escape(di.Def.FriendlyName))
	fmt.Fprintf(b, `<manufacturer>%s</manufacturer>`, escape(di.Def.Manufacturer))
	fmt.Fprintf(b, `<modelName>%s</modelName>`, escape(di.Def.ModelName))
	fmt.Fprintf(b, `<UDN>uuid:%s</UDN>`, escape(di.UDN))

	if len(di.Def.Services) > 0 {
		b.WriteString(`<serviceList>`)
		for _, s := range di.Def.Services {
			b.WriteString(`<service>`)
			fmt.Fprintf(b, `<serviceType>%s</serviceType>`, escape(s.Type))
			fmt.Fprintf(b, `<serviceId>urn:upnp-org:serviceId:%s</serviceId>`, escape(s.ID))
			fmt.Fprintf(b, `<SCPDURL>%s</SCPDURL>`, escape(di.BaseRoute()+"/"+s.ID+"/scpd.xml"))
			fmt.Fprintf(b, `<controlURL>%s</controlURL>`, escape(di.BaseRoute()+"/"+s.ID+"/control"))
			fmt.Fprintf(b, `<eventSubURL>%s</eventSubURL>`, escape(di.BaseRoute()+"/"+s.ID+"/event"))
			b.WriteString(`</service>`)
		}
		b.WriteString(`</serviceList>`)
	}

	if len(di.Children) > 0 {
		b.WriteString(`<deviceList>`)
		for _, c := range di.Children {
			writeDeviceElement(b, c)
		}
		b.WriteString(`</deviceList>`)
	}

	b.WriteString(`</device>`)
}

// SCPDXML renders the static Service Control Protocol Description for
// svc: its action list and state-variable table, served verbatim by the
// server for every request (spec.md §6).
func SCPDXML(svc *Service) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(`<scpd xmlns="urn:schemas-upnp-org:service-1-0">`)
	b.WriteString(`<specVersion><major>1</major><minor>0</minor></specVersion>`)

	actionNames := make([]string, 0, len(svc.Actions))
	for name := range svc.Actions {
		actionNames = append(actionNames, name)
	}
	sort.Strings(actionNames)

	b.WriteString(`<actionList>`)
	for _, name := range actionNames {
		action := svc.Actions[name]
		b.WriteString(`<action>`)
		fmt.Fprintf(&b, `<name>%s</name>`, escape(action.Name))
		if len(action.Args) > 0 {
			b.WriteString(`<argumentList>`)
			for _, arg := range action.Args {
				b.WriteString(`<argument>`)
				fmt.Fprintf(&b, `<name>%s</name>`, escape(arg.Name))
				dir := "in"
				if arg.Direction == DirOut {
					dir = "out"
				}
				fmt.Fprintf(&b, `<direction>%s</direction>`, dir)
				fmt.Fprintf(&b, `<relatedStateVariable>%s</relatedStateVariable>`, escape(arg.RelatedStateVariable))
				b.WriteString(`</argument>`)
			}
			b.WriteString(`</argumentList>`)
		}
		b.WriteString(`</action>`)
	}
	b.WriteString(`</actionList>`)

	varNames := make([]string, 0, len(svc.Variables))
	for name := range svc.Variables {
		varNames = append(varNames, name)
	}
	sort.Strings(varNames)

	b.WriteString(`<serviceStateTable>`)
	for _, name := range varNames {
		v := svc.Variables[name]
		sendEvents := "no"
		if v.SendEvents {
			sendEvents = "yes"
		}
		fmt.Fprintf(&b, `<stateVariable sendEvents="%s">`, sendEvents)
		fmt.Fprintf(&b, `<name>%s</name>`, escape(v.Name))
		fmt.Fprintf(&b, `<dataType>%s</dataType>`, escape(string(v.VarType)))
		if len(v.AllowedValues) > 0 {
			b.WriteString(`<allowedValueList>`)
			for _, av := range v.AllowedValues {
				fmt.Fprintf(&b, `<allowedValue>%s</allowedValue>`, escape(av))
			}
			b.WriteString(`</allowedValueList>`)
		}
		b.WriteString(`</stateVariable>`)
	}
	b.WriteString(`</serviceStateTable>`)

	b.WriteString(`</scpd>`)
	return b.String()
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
