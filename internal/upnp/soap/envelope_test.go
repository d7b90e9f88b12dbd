package soap

import (
	"strings"
	"testing"
)

func TestParseSOAPAction(t *testing.T) {
	svcType, action, err := ParseSOAPAction(`"urn:schemas-upnp-org:service:AVTransport:1#Play"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svcType != "urn:schemas-upnp-org:service:AVTransport:1" || action != "Play" {
		t.Fatalf("got svcType=%q action=%q", svcType, action)
	}
}

func TestParseSOAPActionMalformed(t *testing.T) {
	if _, _, err := ParseSOAPAction(`"no-hash-here"`); err == nil {
		t.Fatal("expected error for header with no # separator")
	}
}

func TestParseRequestBody(t *testing.T) {
	body := `<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><u:Play xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"><InstanceID>0</InstanceID><Speed>1</Speed></u:Play></s:Body></s:Envelope>`
	pa, err := ParseRequestBody(strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pa.ActionName != "Play" {
		t.Fatalf("ActionName = %q, want Play", pa.ActionName)
	}
	if pa.Args["InstanceID"] != "0" || pa.Args["Speed"] != "1" {
		t.Fatalf("Args = %+v", pa.Args)
	}
}

func TestBuildResponseEnvelope(t *testing.T) {
	xmlBody := BuildResponseEnvelope("urn:schemas-upnp-org:service:AVTransport:1", "GetVolume", map[string]string{"CurrentVolume": "20"}, []string{"CurrentVolume"})
	if !strings.Contains(xmlBody, "<u:GetVolumeResponse") || !strings.Contains(xmlBody, "<CurrentVolume>20</CurrentVolume>") {
		t.Fatalf("unexpected envelope: %s", xmlBody)
	}
}

func TestBuildFaultEnvelope(t *testing.T) {
	xmlBody := BuildFaultEnvelope(ErrorInvalidAction, "Invalid Action")
	if !strings.Contains(xmlBody, "<errorCode>401</errorCode>") {
		t.Fatalf("unexpected fault envelope: %s", xmlBody)
	}
}
