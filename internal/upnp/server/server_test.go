package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coissac/pmomusic/internal/upnp/device"
	"github.com/coissac/pmomusic/internal/upnp/statevar"
)

func testAVTransportService() *device.Service {
	return &device.Service{
		ID:      "AVTransport",
		Type:    "urn:schemas-upnp-org:service:AVTransport:1",
		Version: "1",
		Variables: map[string]*statevar.Definition{
			"TransportState": {Name: "TransportState", VarType: statevar.TypeString, SendEvents: true},
		},
		Actions: map[string]*device.Action{
			"Play": {
				Name: "Play",
				Args: []device.ActionArg{
					{Name: "InstanceID", Direction: device.DirIn, RelatedStateVariable: "A_ARG_TYPE_InstanceID"},
					{Name: "Speed", Direction: device.DirIn, RelatedStateVariable: "TransportPlaySpeed"},
				},
				Invoke: func(si *device.ServiceInstance, args map[string]string) (map[string]string, error) {
					si.Variables["TransportState"].Set("PLAYING")
					return map[string]string{}, nil
				},
			},
		},
	}
}

func testMediaRendererDevice() *device.Device {
	return &device.Device{
		Kind:         device.KindMediaRenderer,
		Version:      "1",
		FriendlyName: "Test Renderer",
		Manufacturer: "PMOMusic",
		ModelName:    "pmomusicd",
		Services:     []*device.Service{testAVTransportService()},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := New(Options{Host: "127.0.0.1", Port: "0", BaseURL: "http://127.0.0.1:0"})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestRegisterDeviceMountsDescriptionAndSCPD(t *testing.T) {
	s := newTestServer(t)
	di, err := s.RegisterDevice(testMediaRendererDevice())
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	base := "http://" + s.Addr()
	resp, err := http.Get(base + di.BaseRoute() + "/desc.xml")
	if err != nil {
		t.Fatalf("GET desc.xml: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("desc.xml status = %d, want 200", resp.StatusCode)
	}

	resp2, err := http.Get(base + di.BaseRoute() + "/AVTransport/scpd.xml")
	if err != nil {
		t.Fatalf("GET scpd.xml: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("scpd.xml status = %d, want 200", resp2.StatusCode)
	}
}

func TestRegisterDeviceAfterStartFails(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.RegisterDevice(testMediaRendererDevice()); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.RegisterDevice(testMediaRendererDevice()); err == nil {
		t.Fatalf("RegisterDevice after Start: expected error, got nil")
	}
}

func TestControlURLDispatchesAction(t *testing.T) {
	s := newTestServer(t)
	di, err := s.RegisterDevice(testMediaRendererDevice())
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	body := `<?xml version="1.0"?>` +
		`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">` +
		`<s:Body><u:Play xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"><InstanceID>0</InstanceID><Speed>1</Speed></u:Play></s:Body>` +
		`</s:Envelope>`
	req, err := http.NewRequest(http.MethodPost, "http://"+s.Addr()+di.BaseRoute()+"/AVTransport/control", strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("SOAPACTION", `"urn:schemas-upnp-org:service:AVTransport:1#Play"`)
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("control POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("control POST status = %d, want 200", resp.StatusCode)
	}

	si := di.Services["AVTransport"]
	if got := si.Variables["TransportState"].Current(); got != "PLAYING" {
		t.Fatalf("TransportState = %v, want PLAYING", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.RegisterDevice(testMediaRendererDevice()); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
