package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/fernshop/admingate/internal/audit"
	"github.com/fernshop/admingate/internal/authz"
	"github.com/fernshop/admingate/internal/cookies"
	"github.com/fernshop/admingate/internal/logger"
	"github.com/fernshop/admingate/internal/metrics"
	"github.com/fernshop/admingate/internal/session"
	"github.com/fernshop/admingate/internal/token"
)

type contextKey int

const (
	descriptorKey contextKey = iota
	auditNoteKey
)

// DescriptorFrom returns the verified caller identity placed by the gate.
func DescriptorFrom(ctx context.Context) (*token.Descriptor, bool) {
	d, ok := ctx.Value(descriptorKey).(*token.Descriptor)
	return d, ok
}

// AuditNote lets a handler attach the target and whitelisted detail of the
// action it performed. The gate reads it after a 2xx response.
type AuditNote struct {
	TargetID string
	Detail   map[string]string
}

// NoteFrom returns the request's audit note; handlers mutate it in place.
func NoteFrom(ctx context.Context) *AuditNote {
	n, _ := ctx.Value(auditNoteKey).(*AuditNote)
	return n
}

// clientFrom derives the caller's network identity. The first value of
// X-Forwarded-For wins when a proxy sets it.
func clientFrom(r *http.Request) session.Client {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		if i := strings.IndexByte(ip, ','); i >= 0 {
			ip = ip[:i]
		}
		ip = strings.TrimSpace(ip)
	} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	} else {
		ip = r.RemoteAddr
	}
	return session.Client{IP: ip, UserAgent: r.UserAgent()}
}

// Gate is the single chokepoint every privileged route passes through:
// origin policy, signing-secret sanity, token verification, CSRF binding,
// capability check, and post-success audit emission.
type Gate struct {
	tokens     *token.Service
	auditor    *audit.Dispatcher
	metrics    *metrics.Metrics
	log        *logger.Logger
	origins    []string
	configured bool
}

// NewGate builds the gate. configured reports whether a usable signing
// secret was loaded; when false every privileged request is refused with
// an opaque 500 rather than validated against a guessable key.
func NewGate(tokens *token.Service, auditor *audit.Dispatcher, m *metrics.Metrics, log *logger.Logger, origins []string, configured bool) *Gate {
	return &Gate{
		tokens:     tokens,
		auditor:    auditor,
		metrics:    m,
		log:        log,
		origins:    origins,
		configured: configured,
	}
}

func (g *Gate) originAllowed(origin string) bool {
	for _, o := range g.origins {
		if o == origin {
			return true
		}
	}
	return false
}

// CORS applies the allow-list to every route. Disallowed origins are not
// echoed back; the first allow-listed value is returned instead so the
// browser blocks the read.
func (g *Gate) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := origin
			if !g.originAllowed(origin) && len(g.origins) > 0 {
				allowed = g.origins[0]
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			h := w.Header()
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+cookies.CSRFHeader)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Recover converts handler panics into an opaque 500.
func (g *Gate) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				g.log.Error("handler panic", "method", r.Method, "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the handler's response code for the audit and
// logging layers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLog logs every request after it completes.
func (g *Gate) RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		g.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
		)
	})
}

// Protect wires a privileged handler: it requires a verified access token,
// an intact CSRF binding on non-idempotent methods, and the given
// capability. When action is non-empty a successful (2xx) invocation emits
// an audit event carrying the handler's note.
func (g *Gate) Protect(capability authz.Capability, action string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.configured {
			writeError(w, http.StatusInternalServerError, "server misconfigured")
			return
		}

		raw, ok := token.FromRequest(r, cookies.AccessName)
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		desc, err := g.tokens.VerifyKind(raw, token.KindAccess)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		if !cookies.IdempotentMethod(r.Method) && !cookies.CSRFValid(r) {
			g.metrics.Inc(metrics.CSRFRejected)
			writeError(w, http.StatusForbidden, "csrf token mismatch")
			return
		}

		if !authz.Has(authz.Role(desc.Role), capability) {
			g.metrics.Inc(metrics.PermissionDenied)
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}

		note := &AuditNote{}
		ctx := context.WithValue(r.Context(), descriptorKey, desc)
		ctx = context.WithValue(ctx, auditNoteKey, note)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h(rec, r.WithContext(ctx))

		if action != "" && rec.status >= 200 && rec.status < 300 {
			client := clientFrom(r)
			g.auditor.Emit(audit.Event{
				Action:     action,
				ActorID:    desc.UserID,
				ActorEmail: desc.Email,
				TargetID:   note.TargetID,
				Detail:     note.Detail,
				IP:         client.IP,
				UserAgent:  client.UserAgent,
			})
		}
	}
}
