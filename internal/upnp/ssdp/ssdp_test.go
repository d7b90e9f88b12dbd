package ssdp

import "testing"

func TestParseResponse(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age=1800\r\n" +
		"LOCATION: http://10.0.0.5:1400/xml/device_description.xml\r\n" +
		"SERVER: Linux UPnP/1.0 Sonos/1\r\n" +
		"ST: urn:schemas-upnp-org:device:ZonePlayer:1\r\n" +
		"USN: uuid:RINCON_000E58::urn:schemas-upnp-org:device:ZonePlayer:1\r\n\r\n"

	resp := parseResponse([]byte(raw))
	if resp.USN != "uuid:RINCON_000E58::urn:schemas-upnp-org:device:ZonePlayer:1" {
		t.Fatalf("USN = %q", resp.USN)
	}
	if resp.Location != "http://10.0.0.5:1400/xml/device_description.xml" {
		t.Fatalf("Location = %q", resp.Location)
	}
	if resp.MaxAge != 1800 {
		t.Fatalf("MaxAge = %d, want 1800", resp.MaxAge)
	}
}

func TestParseResponseNoUSNIgnored(t *testing.T) {
	resp := parseResponse([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	if resp.USN != "" {
		t.Fatalf("expected empty USN, got %q", resp.USN)
	}
}

func TestHandleSearchMatchesSSDPAll(t *testing.T) {
	r := &Responder{
		ServerHeader:  "Linux/5.0 UPnP/1.1 PMOMusic/1.0",
		MaxAgeSeconds: 1800,
		ads: []Advertisement{
			{NT: "upnp:rootdevice", USN: "uuid:abc::upnp:rootdevice", Location: "http://127.0.0.1:8200/desc.xml"},
		},
	}
	var matched []Advertisement
	for _, ad := range r.ads {
		if _, ok := searchMatch("ssdp:all", ad); ok {
			matched = append(matched, ad)
		}
	}
	if len(matched) != 1 {
		t.Fatalf("expected 1 match for ssdp:all, got %d", len(matched))
	}
}

func TestHandleSearchMatchesSpecificNT(t *testing.T) {
	r := &Responder{
		ads: []Advertisement{
			{NT: "urn:schemas-upnp-org:service:AVTransport:1", USN: "uuid:abc::urn:schemas-upnp-org:service:AVTransport:1"},
			{NT: "urn:schemas-upnp-org:service:RenderingControl:1", USN: "uuid:abc::urn:schemas-upnp-org:service:RenderingControl:1"},
		},
	}
	st := "urn:schemas-upnp-org:service:AVTransport:1"
	count := 0
	for _, ad := range r.ads {
		if _, ok := searchMatch(st, ad); ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected 1 match for specific ST, got %d", count)
	}
}

func TestParseHeaders(t *testing.T) {
	h := parseHeaders([]string{"HOST: 239.255.255.250:1900", `MAN: "ssdp:discover"`, "MX: 2", "ST: ssdp:all"})
	if h["ST"] != "ssdp:all" {
		t.Fatalf("ST = %q", h["ST"])
	}
	if h["MAN"] != `"ssdp:discover"` {
		t.Fatalf("MAN = %q", h["MAN"])
	}
}

func TestParseMaxAge(t *testing.T) {
	n, err := parseMaxAge("max-age=1800")
	if err != nil || n != 1800 {
		t.Fatalf("got n=%d err=%v", n, err)
	}
	if _, err := parseMaxAge("no-max-age-here"); err == nil {
		t.Fatal("expected error when max-age missing")
	}
}
