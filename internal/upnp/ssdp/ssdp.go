// Package ssdp implements SSDP discovery (spec.md §4.2, §6): standard
// 239.255.255.250:1900 multicast, NOTIFY ssdp:alive/ssdp:byebye
// advertisement, and M-SEARCH response handling.
//
// The M-SEARCH client grammar (header join style, ST/NT/USN/
// LOCATION/CACHE-CONTROL) is grounded on internal/discovery/ssdp.go. The
// server-side alive/byebye NOTIFY sender and M-SEARCH responder have no
// teacher precedent (the teacher only ever searches, never answers) and
// are grounded on other_examples/a49deb3d_wysentanu-dlna-movie-cast's
// SSDPServer (listen/handleSearch/sendSearchResponse/handleNotify),
// reimplemented in this module's stdlib-only idiom.
package ssdp

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	multicastAddr = "239.255.255.250:1900"
)

// Advertisement is one device or service's NT/USN pair to advertise and
// answer M-SEARCH for.
type Advertisement struct {
	NT       string // e.g. "upnp:rootdevice", a device type URN, or a service type URN
	USN      string // e.g. "uuid:{udn}::{nt}"
	Location string // the device description URL
}

// Responder advertises a set of devices over SSDP: it sends NOTIFY
// ssdp:alive on Start and at MaxAgeSeconds/2 refresh intervals,
// ssdp:byebye on Stop, and answers M-SEARCH for ssdp:all,
// upnp:rootdevice, each device type, each service type, and specific
// UUIDs (spec.md §4.2).
type Responder struct {
	ServerHeader  string // "{os}/{arch} UPnP/1.1 PMOMusic/1.0"
	MaxAgeSeconds int
	Logger        *log.Logger

	conn      *net.UDPConn
	mcastAddr *net.UDPAddr
	ads       []Advertisement
	stopCh    chan struct{}
}

// NewResponder creates a Responder for the given advertisements.
func NewResponder(serverHeader string, maxAgeSeconds int, ads []Advertisement, logger *log.Logger) *Responder {
	if logger == nil {
		logger = log.Default()
	}
	return &Responder{ServerHeader: serverHeader, MaxAgeSeconds: maxAgeSeconds, Logger: logger, ads: ads}
}

// Start joins the SSDP multicast group, sends the initial ssdp:alive
// burst, and spawns the M-SEARCH listener and periodic re-advertisement
// goroutines. Start is not idempotent; call once per Responder.
func (r *Responder) Start() error {
	addr, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return fmt.Errorf("ssdp: resolve multicast addr: %w", err)
	}
	r.mcastAddr = addr

	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("ssdp: listen multicast: %w", err)
	}
	r.conn = conn
	r.stopCh = make(chan struct{})

	r.sendAliveBurst()

	go r.listen()
	go r.refreshLoop()

	return nil
}

// Stop sends ssdp:byebye for every advertisement and closes the
// multicast socket. Stop is idempotent.
func (r *Responder) Stop() {
	if r.stopCh != nil {
		select {
		case <-r.stopCh:
			// already stopped
			return
		default:
			close(r.stopCh)
		}
	}
	r.sendByebyeBurst()
	if r.conn != nil {
		_ = r.conn.Close()
	}
}

func (r *Responder) refreshLoop() {
	interval := time.Duration(r.MaxAgeSeconds/2) * time.Second
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sendAliveBurst()
		}
	}
}

func (r *Responder) sendAliveBurst() {
	for _, ad := range r.ads {
		r.sendNotify("ssdp:alive", ad)
	}
}

func (r *Responder) sendByebyeBurst() {
	for _, ad := range r.ads {
		r.sendNotifyNoLocation("ssdp:byebye", ad)
	}
}

func (r *Responder) sendNotify(nts string, ad Advertisement) {
	msg := strings.Join([]string{
		"NOTIFY * HTTP/1.1",
		"HOST: " + multicastAddr,
		fmt.Sprintf("CACHE-CONTROL: max-age=%d", r.MaxAgeSeconds),
		"LOCATION: " + ad.Location,
		"NT: " + ad.NT,
		"NTS: " + nts,
		"SERVER: " + r.ServerHeader,
		"USN: " + ad.USN,
		"", "",
	}, "\r\n")
	r.send(msg)
}

func (r *Responder) sendNotifyNoLocation(nts string, ad Advertisement) {
	msg := strings.Join([]string{
		"NOTIFY * HTTP/1.1",
		"HOST: " + multicastAddr,
		"NT: " + ad.NT,
		"NTS: " + nts,
		"USN: " + ad.USN,
		"", "",
	}, "\r\n")
	r.send(msg)
}

func (r *Responder) send(msg string) {
	conn, err := net.DialUDP("udp4", nil, r.mcastAddr)
	if err != nil {
		r.Logger.Printf("ssdp: dial multicast for send: %v", err)
		return
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(msg)); err != nil {
		r.Logger.Printf("ssdp: send failed: %v", err)
	}
}

func (r *Responder) listen() {
	buf := make([]byte, 2048)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		r.handleMessage(buf[:n], src)
	}
}

func (r *Responder) handleMessage(data []byte, src *net.UDPAddr) {
	lines := strings.Split(string(data), "\r\n")
	if len(lines) == 0 {
		return
	}
	if !strings.HasPrefix(lines[0], "M-SEARCH") {
		return
	}
	headers := parseHeaders(lines[1:])
	st := headers["ST"]
	r.handleSearch(st, src)
}

func (r *Responder) handleSearch(st string, src *net.UDPAddr) {
	for _, ad := range r.ads {
		if match, ok := searchMatch(st, ad); ok {
			r.sendSearchResponse(match, src)
		}
	}
}

// searchMatch reports whether ad answers an M-SEARCH for st, and the
// advertisement to answer with: ad itself for ssdp:all or an exact NT
// match, or a uuid-keyed copy of a device's upnp:rootdevice entry when
// st is that device's "uuid:{udn}".
func searchMatch(st string, ad Advertisement) (Advertisement, bool) {
	if st == "ssdp:all" || st == ad.NT {
		return ad, true
	}
	if ad.NT == "upnp:rootdevice" && strings.HasPrefix(st, "uuid:") && strings.HasPrefix(ad.USN, st+"::") {
		return Advertisement{NT: st, USN: st, Location: ad.Location}, true
	}
	return Advertisement{}, false
}

func (r *Responder) sendSearchResponse(ad Advertisement, src *net.UDPAddr) {
	msg := strings.Join([]string{
		"HTTP/1.1 200 OK",
		fmt.Sprintf("CACHE-CONTROL: max-age=%d", r.MaxAgeSeconds),
		"DATE: " + time.Now().UTC().Format(http1123),
		"EXT:",
		"LOCATION: " + ad.Location,
		"SERVER: " + r.ServerHeader,
		"ST: " + ad.NT,
		"USN: " + ad.USN,
		"", "",
	}, "\r\n")

	conn, err := net.DialUDP("udp4", nil, src)
	if err != nil {
		r.Logger.Printf("ssdp: dial search response to %v: %v", src, err)
		return
	}
	defer conn.Close()
	_, _ = conn.Write([]byte(msg))
}

const http1123 = "Mon, 02 Jan 2006 15:04:05 GMT"

func parseHeaders(lines []string) map[string]string {
	headers := make(map[string]string)
	for _, line := range lines {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(line[:idx]))
		val := strings.TrimSpace(line[idx+1:])
		headers[key] = val
	}
	return headers
}

// Response is one device found via Discover.
type Response struct {
	USN      string
	NT       string
	ST       string
	Location string
	Server   string
	MaxAge   int
}

// Discover performs `passes` rounds of M-SEARCH, `passInterval` apart,
// each with the given per-round read timeout, and returns every distinct
// (by USN) response observed — the client half of SSDP, grounded on
// internal/discovery/ssdp.go's Discover/sendSearch/parseResponse.
func Discover(searchTarget string, passes int, passInterval, timeout time.Duration) ([]Response, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("ssdp: listen: %w", err)
	}
	defer conn.Close()

	dest, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return nil, fmt.Errorf("ssdp: resolve: %w", err)
	}

	seen := make(map[string]Response)
	for p := 0; p < passes; p++ {
		if err := sendSearch(conn, dest, searchTarget); err != nil {
			return nil, err
		}
		readResponses(conn, timeout, seen)
		if p < passes-1 {
			time.Sleep(passInterval)
		}
	}

	return mapToSlice(seen), nil
}

// DiscoverUnicast sends a single M-SEARCH directly to host:1900 instead
// of the multicast group, for devices known by IP ahead of time (spec.md
// §9's static-renderer fallback for devices that don't reliably answer
// multicast M-SEARCH on some networks) and returns every distinct
// response seen within timeout.
func DiscoverUnicast(host, searchTarget string, timeout time.Duration) ([]Response, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("ssdp: listen: %w", err)
	}
	defer conn.Close()

	dest, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, "1900"))
	if err != nil {
		return nil, fmt.Errorf("ssdp: resolve %s: %w", host, err)
	}

	if err := sendSearch(conn, dest, searchTarget); err != nil {
		return nil, err
	}

	seen := make(map[string]Response)
	readResponses(conn, timeout, seen)
	return mapToSlice(seen), nil
}

func sendSearch(conn net.PacketConn, dest *net.UDPAddr, st string) error {
	msg := strings.Join([]string{
		"M-SEARCH * HTTP/1.1",
		"HOST: " + multicastAddr,
		`MAN: "ssdp:discover"`,
		"MX: 2",
		"ST: " + st,
		"", "",
	}, "\r\n")
	_, err := conn.WriteTo([]byte(msg), dest)
	return err
}

func readResponses(conn net.PacketConn, timeout time.Duration, seen map[string]Response) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 2048)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(remaining))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		resp := parseResponse(buf[:n])
		if resp.USN != "" {
			seen[resp.USN] = resp
		}
	}
}

func parseResponse(data []byte) Response {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var resp Response
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(line[:idx]))
		val := strings.TrimSpace(line[idx+1:])
		switch key {
		case "USN":
			resp.USN = val
		case "NT":
			resp.NT = val
		case "ST":
			resp.ST = val
		case "LOCATION":
			resp.Location = val
		case "SERVER":
			resp.Server = val
		case "CACHE-CONTROL":
			if n, err := parseMaxAge(val); err == nil {
				resp.MaxAge = n
			}
		}
	}
	return resp
}

func parseMaxAge(cacheControl string) (int, error) {
	idx := strings.Index(cacheControl, "max-age=")
	if idx < 0 {
		return 0, fmt.Errorf("no max-age")
	}
	return strconv.Atoi(strings.TrimSpace(cacheControl[idx+len("max-age="):]))
}

func mapToSlice(m map[string]Response) []Response {
	out := make([]Response, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
