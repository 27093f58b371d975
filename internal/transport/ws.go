package transport

import (
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// upgrader validates the Origin header the same way the teacher's chat
// server does: reject an empty origin unless DEV_MODE=true, reject a
// malformed or non-http(s) origin, then check against an
// ALLOWED_ORIGINS allowlist (comma-separated, with subdomain matching for
// non-localhost entries).
var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return os.Getenv("DEV_MODE") == "true"
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	allowedEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedEnv == "" {
		allowedEnv = "http://localhost:3000,http://localhost:5173,https://localhost"
	}
	for _, allowed := range strings.Split(allowedEnv, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if origin == allowed {
			return true
		}
		if !strings.Contains(allowed, "localhost") {
			if parsedAllowed, err := url.Parse(allowed); err == nil && parsedAllowed.Host != "" {
				if strings.HasSuffix(parsed.Host, "."+parsedAllowed.Host) || parsed.Host == parsedAllowed.Host {
					return true
				}
			}
		}
	}
	return false
}

// RetrieveMessages handles GET /v1/messages/{identity}/stream, upgrading
// to a WebSocket and forwarding every router.Message the service delivers
// for identity as a JSON frame until the connection closes.
func (h *Handlers) RetrieveMessages(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]

	ch, err := h.Svc.RetrieveMessages(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[transport] websocket upgrade failed for %s: %v", identity, err)
		return
	}
	defer conn.Close()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("[transport] websocket write failed for %s: %v", identity, err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
