package discovery

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coissac/pmomusic/internal/control/eventbus"
	"github.com/coissac/pmomusic/internal/control/queue"
	"github.com/coissac/pmomusic/internal/control/renderer"
	"github.com/coissac/pmomusic/internal/upnp/ssdp"
)

type noopInvoker struct{}

func (noopInvoker) Invoke(ctx context.Context, controlURL, serviceType, action string, args map[string]string) (map[string]string, error) {
	return map[string]string{}, nil
}

func TestBootstrapProbeRendererRegistersAVTransportRenderer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRendererXML))
	}))
	defer srv.Close()

	bus := eventbus.NewBus(8)
	registry := renderer.NewRegistry(bus, nil)
	servers := renderer.NewServerRegistry()

	var gotQueueBackend queue.Backend
	b := NewBootstrap(registry, servers, bus, noopInvoker{}, time.Second, log.Default())
	b.OnRegistered = func(rendererID string, protocol renderer.Protocol, qb queue.Backend) {
		gotQueueBackend = qb
	}

	b.probeRenderer(context.Background(), ssdp.Response{Location: srv.URL + "/desc.xml"})

	if _, ok := registry.Get("1234-5678"); !ok {
		t.Fatal("expected renderer 1234-5678 to be registered")
	}
	registry.StopWatching("1234-5678")

	if gotQueueBackend == nil {
		t.Fatal("expected OnRegistered to receive a queue.Backend")
	}
}
