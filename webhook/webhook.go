// Package webhook receives signed inbound messages from the gateway,
// verifies authenticity and freshness, and hands them to the routing
// engine asynchronously. The gateway expects a fast 200; processing
// happens after the response is written.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/manutech/courier-server/routing"
)

// maxSkew is how old (or future-dated) a payload timestamp may be before
// the request is rejected as a possible replay.
const maxSkew = 300 * time.Second

type textPayload struct {
	Body string `json:"body"`
}

type interactivePayload struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type mediaPayload struct {
	URL      string `json:"url"`
	Mimetype string `json:"mimetype"`
	Caption  string `json:"caption"`
}

type payload struct {
	Type        string              `json:"type"` // text | interactive | image | audio | document
	Timestamp   int64               `json:"timestamp"`
	From        string              `json:"from"` // <digits>@<suffix>
	Text        *textPayload        `json:"text,omitempty"`
	Interactive *interactivePayload `json:"interactive,omitempty"`
	Media       *mediaPayload       `json:"media,omitempty"`
}

// Router runs one routing turn for an inbound message.
type Router interface {
	HandleMessage(ctx context.Context, in routing.Inbound) routing.Action
}

// Responder carries out the action a routing turn produced.
type Responder interface {
	Respond(ctx context.Context, in routing.Inbound, act routing.Action)
}

type Handler struct {
	secret    string
	engine    Router
	responder Responder
	now       func() time.Time
}

func NewHandler(secret string, engine Router, responder Responder) *Handler {
	return &Handler{secret: secret, engine: engine, responder: responder, now: time.Now}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	r.Body.Close()

	sig := r.Header.Get("X-Webhook-Signature")
	if !VerifySignature(h.secret, body, sig) {
		slog.Warn("webhook: signature verification failed", "signature", sig)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		slog.Warn("webhook: unparseable payload", "err", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// A correct signature is not enough: a stale timestamp means the
	// payload could be a replay, and is rejected.
	ts := time.Unix(p.Timestamp, 0)
	if skew := h.now().Sub(ts); skew > maxSkew || skew < -maxSkew {
		slog.Warn("webhook: stale timestamp", "timestamp", p.Timestamp, "skew", skew.String())
		http.Error(w, "stale timestamp", http.StatusForbidden)
		return
	}

	in, ok := normalize(p)
	if !ok {
		slog.Debug("webhook: ignored payload type", "type", p.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Ack immediately so the gateway does not retry; route after.
	w.WriteHeader(http.StatusOK)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		act := h.engine.HandleMessage(ctx, in)
		h.responder.Respond(ctx, in, act)
	}()
}

// normalize extracts the routable text for each payload type: the body
// for text, the selected row/button id for interactive, the caption for
// media.
func normalize(p payload) (routing.Inbound, bool) {
	in := routing.Inbound{From: senderDigits(p.From), Type: p.Type}

	switch p.Type {
	case "text":
		if p.Text != nil {
			in.Text = p.Text.Body
		}
	case "interactive":
		if p.Interactive != nil {
			in.Text = p.Interactive.ID
			if in.Text == "" {
				in.Text = p.Interactive.Title
			}
		}
	case "image", "audio", "document":
		if p.Media != nil {
			in.Text = p.Media.Caption
		}
	default:
		return routing.Inbound{}, false
	}
	return in, true
}

// senderDigits strips the JID domain suffix and any non-digits.
func senderDigits(from string) string {
	if i := strings.IndexByte(from, '@'); i >= 0 {
		from = from[:i]
	}
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, from)
}

// VerifySignature checks an HMAC-SHA256 signature over the raw body.
// The gateway sends "sha256=<hex>"; bare hex is rejected.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true // unsigned deployments skip verification
	}
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	provided := strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}
