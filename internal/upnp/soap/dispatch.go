package soap

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/coissac/pmomusic/internal/upnp/device"
	"github.com/coissac/pmomusic/internal/upnp/statevar"
)

// Dispatcher serves the control URL for one ServiceInstance: it parses
// the inbound envelope, validates arguments against the action
// signature, invokes the action, and writes the response or fault
// envelope.
type Dispatcher struct {
	DeviceInst *device.DeviceInstance
	Svc        *device.Service
	SI         *device.ServiceInstance
	Logger     *log.Logger
}

// NewDispatcher builds a Dispatcher bound to one service instance.
func NewDispatcher(di *device.DeviceInstance, svc *device.Service, si *device.ServiceInstance, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{DeviceInst: di, Svc: svc, SI: si, Logger: logger}
}

// ServeHTTP implements http.Handler for the service's control URL.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	soapActionHeader := r.Header.Get("SOAPACTION")
	_, actionName, err := ParseSOAPAction(soapActionHeader)
	if err != nil {
		d.Logger.Printf("soap: %s %s: %v", d.Svc.ID, r.URL.Path, err)
		d.writeFault(w, ErrorInvalidAction, "missing or malformed SOAPAction header")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		d.writeFault(w, ErrorActionFailed, "failed to read request body")
		return
	}

	parsed, err := ParseRequestBody(bytes.NewReader(body))
	if err != nil {
		d.writeFault(w, ErrorInvalidArgs, err.Error())
		return
	}

	action, ok := d.Svc.Actions[actionName]
	if !ok {
		d.writeFault(w, ErrorInvalidAction, fmt.Sprintf("unknown action: %s", actionName))
		return
	}

	if err := validateArgs(d.Svc, action, parsed.Args); err != nil {
		d.writeFault(w, ErrorInvalidArgs, err.Error())
		return
	}

	outArgs, err := action.Invoke(d.SI, parsed.Args)
	if err != nil {
		code, desc := FaultFromError(err)
		d.Logger.Printf("soap: %s#%s failed: %v", d.Svc.ID, actionName, err)
		d.writeFault(w, code, desc)
		return
	}

	outOrder := make([]string, 0, len(action.Args))
	for _, a := range action.Args {
		if a.Direction == device.DirOut {
			outOrder = append(outOrder, a.Name)
		}
	}

	resp := BuildResponseEnvelope(d.Svc.Type, actionName, outArgs, outOrder)
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(resp))
}

func (d *Dispatcher) writeFault(w http.ResponseWriter, code int, desc string) {
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(BuildFaultEnvelope(code, desc)))
}

// validateArgs checks that every declared In argument is present and, if
// it names a RelatedStateVariable, that its value casts to that
// variable's declared type (spec.md §4.2's "validates args against the
// action signature (names, directions, casts to related-variable
// types)"). Names not declared on the action are ignored rather than
// rejected, matching this runtime's tolerant-of-unknown-elements
// convention elsewhere.
func validateArgs(svc *device.Service, action *device.Action, args map[string]string) error {
	for _, a := range action.Args {
		if a.Direction != device.DirIn {
			continue
		}
		raw, ok := args[a.Name]
		if !ok {
			return fmt.Errorf("missing required argument: %s", a.Name)
		}
		if a.RelatedStateVariable == "" {
			continue
		}
		def, ok := svc.Variables[a.RelatedStateVariable]
		if !ok {
			continue
		}
		if _, err := statevar.Cast(raw, def.VarType); err != nil {
			return fmt.Errorf("argument %s: %w", a.Name, err)
		}
	}
	return nil
}
