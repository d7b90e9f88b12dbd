package soap

import (
	"testing"

	"github.com/coissac/pmomusic/internal/upnp/device"
	"github.com/coissac/pmomusic/internal/upnp/statevar"
)

func testPlayAction() *device.Action {
	return &device.Action{
		Name: "Play",
		Args: []device.ActionArg{
			{Name: "InstanceID", Direction: device.DirIn, RelatedStateVariable: "A_ARG_TYPE_InstanceID"},
			{Name: "Speed", Direction: device.DirIn, RelatedStateVariable: "TransportPlaySpeed"},
		},
	}
}

func testAVTransportServiceForDispatch() *device.Service {
	return &device.Service{
		ID:   "AVTransport",
		Type: "urn:schemas-upnp-org:service:AVTransport:1",
		Variables: map[string]*statevar.Definition{
			"A_ARG_TYPE_InstanceID": {Name: "A_ARG_TYPE_InstanceID", VarType: statevar.TypeUI4},
			"TransportPlaySpeed":    {Name: "TransportPlaySpeed", VarType: statevar.TypeString},
		},
		Actions: map[string]*device.Action{"Play": testPlayAction()},
	}
}

func TestValidateArgsAcceptsCastableValues(t *testing.T) {
	svc := testAVTransportServiceForDispatch()
	args := map[string]string{"InstanceID": "0", "Speed": "1"}
	if err := validateArgs(svc, testPlayAction(), args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateArgsRejectsMissingArg(t *testing.T) {
	svc := testAVTransportServiceForDispatch()
	args := map[string]string{"Speed": "1"}
	if err := validateArgs(svc, testPlayAction(), args); err == nil {
		t.Fatal("expected error for missing InstanceID")
	}
}

func TestValidateArgsRejectsUncastableValue(t *testing.T) {
	svc := testAVTransportServiceForDispatch()
	args := map[string]string{"InstanceID": "not-a-number", "Speed": "1"}
	if err := validateArgs(svc, testPlayAction(), args); err == nil {
		t.Fatal("expected error for InstanceID that doesn't cast to ui4")
	}
}
