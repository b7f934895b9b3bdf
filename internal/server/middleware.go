package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// RequestLogEntry captures details of an incoming request for admin inspection.
type RequestLogEntry struct {
	Timestamp  time.Time     `json:"timestamp"`
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	StatusCode int           `json:"status_code"`
	Duration   time.Duration `json:"duration_ms"`
	RequestID  string        `json:"request_id,omitempty"`
	RemoteIP   string        `json:"remote_ip,omitempty"`
}

// RequestLog is a thread-safe ring buffer of recent requests.
type RequestLog struct {
	mu      sync.RWMutex
	entries []RequestLogEntry
	maxSize int
}

// NewRequestLog creates a request log with the given max size.
func NewRequestLog(maxSize int) *RequestLog {
	return &RequestLog{
		entries: make([]RequestLogEntry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends an entry, evicting the oldest if at capacity.
func (rl *RequestLog) Add(entry RequestLogEntry) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.entries) >= rl.maxSize {
		rl.entries = rl.entries[1:]
	}
	rl.entries = append(rl.entries, entry)
}

// Entries returns a copy of all log entries.
func (rl *RequestLog) Entries() []RequestLogEntry {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	out := make([]RequestLogEntry, len(rl.entries))
	copy(out, rl.entries)
	return out
}

// Clear removes all entries.
func (rl *RequestLog) Clear() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.entries = rl.entries[:0]
}

// IdempotencyTracker caches responses by idempotency key for a fixed TTL.
type IdempotencyTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]idempotencyEntry
}

type idempotencyEntry struct {
	StatusCode int
	Body       []byte
	CreatedAt  time.Time
	pending    bool
}

// Claim is the outcome of IdempotencyTracker.Begin.
type Claim int

const (
	// Claimed means the caller owns the key and must Store or Release it.
	Claimed Claim = iota
	// Replay means a response is cached for the key.
	Replay
	// InFlight means another request holds the key.
	InFlight
)

// NewIdempotencyTracker creates a tracker whose entries expire after ttl.
func NewIdempotencyTracker(ttl time.Duration) *IdempotencyTracker {
	return &IdempotencyTracker{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]idempotencyEntry),
	}
}

// Check returns the cached response for key, or false if unseen or expired.
func (it *IdempotencyTracker) Check(key string) (int, []byte, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	e, ok := it.entries[key]
	if !ok || e.pending {
		return 0, nil, false
	}
	if it.now().Sub(e.CreatedAt) > it.ttl {
		delete(it.entries, key)
		return 0, nil, false
	}
	return e.StatusCode, e.Body, true
}

// Begin claims key for a new request, or reports the cached response or the
// request already holding it.
func (it *IdempotencyTracker) Begin(key string) (Claim, int, []byte) {
	it.mu.Lock()
	defer it.mu.Unlock()
	now := it.now()
	if e, ok := it.entries[key]; ok && now.Sub(e.CreatedAt) <= it.ttl {
		if e.pending {
			return InFlight, 0, nil
		}
		return Replay, e.StatusCode, e.Body
	}
	it.entries[key] = idempotencyEntry{CreatedAt: now, pending: true}
	return Claimed, 0, nil
}

// Release drops a claim that produced no cacheable response.
func (it *IdempotencyTracker) Release(key string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if e, ok := it.entries[key]; ok && e.pending {
		delete(it.entries, key)
	}
}

// Store caches a response for key and drops expired entries.
func (it *IdempotencyTracker) Store(key string, statusCode int, body []byte) {
	it.mu.Lock()
	defer it.mu.Unlock()
	now := it.now()
	for k, e := range it.entries {
		if now.Sub(e.CreatedAt) > it.ttl {
			delete(it.entries, k)
		}
	}
	it.entries[key] = idempotencyEntry{StatusCode: statusCode, Body: body, CreatedAt: now}
}

// Len returns the number of cached keys.
func (it *IdempotencyTracker) Len() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return len(it.entries)
}

// Reset clears all tracked keys.
func (it *IdempotencyTracker) Reset() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.entries = make(map[string]idempotencyEntry)
}

// limiterIdle is how long a client's bucket is kept after its last request.
const limiterIdle = 10 * time.Minute

// IPLimiter hands out one token bucket per client IP. Buckets idle for
// limiterIdle are dropped.
type IPLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
	visitors  map[string]*visitor
}

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewIPLimiter creates a limiter allowing rps requests per second per IP.
func NewIPLimiter(rps float64, burst int) *IPLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &IPLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Allow reports whether a request from ip may proceed now.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.seen) > limiterIdle {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.seen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// Len returns the number of tracked clients.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Reset forgets every client.
func (l *IPLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visitors = make(map[string]*visitor)
}

// Middleware holds the shared middleware state.
type Middleware struct {
	logger     *slog.Logger
	verbose    bool
	origins    []string
	proxies    []netip.Prefix
	ReqLog     *RequestLog
	Idempotent *IdempotencyTracker
	Limiter    *IPLimiter
}

// NewMiddleware creates a Middleware instance.
func NewMiddleware(opts Options, logger *slog.Logger) *Middleware {
	rps, burst := opts.PublicRPS, opts.PublicBurst
	if rps <= 0 {
		rps = float64(rate.Inf)
	}
	proxies, err := ParseProxies(opts.TrustedProxies)
	if err != nil {
		logger.Warn("ignoring trusted proxies", "err", err)
		proxies = nil
	}
	return &Middleware{
		logger:     logger,
		verbose:    opts.Verbose,
		origins:    opts.AllowedOrigins,
		proxies:    proxies,
		ReqLog:     NewRequestLog(1000),
		Idempotent: NewIdempotencyTracker(24 * time.Hour),
		Limiter:    NewIPLimiter(rps, burst),
	}
}

// ParseProxies parses trusted proxy addresses, each an IP or a CIDR prefix.
func ParseProxies(list []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(list))
	for _, p := range list {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if addr, err := netip.ParseAddr(p); err == nil {
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(p)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: not an IP or CIDR", p)
		}
		out = append(out, prefix.Masked())
	}
	return out, nil
}

// RealIP takes the client address from X-Forwarded-For or X-Real-IP, but only
// for requests arriving from a trusted proxy. Other peers keep their own address.
func (m *Middleware) RealIP(next http.Handler) http.Handler {
	forwarded := chimw.RealIP(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.trustedPeer(r) {
			forwarded.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) trustedPeer(r *http.Request) bool {
	if len(m.proxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(clientIP(r))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return slices.ContainsFunc(m.proxies, func(p netip.Prefix) bool { return p.Contains(addr) })
}

// CORS adds CORS headers. With no allowed origins configured any origin is accepted.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(m.origins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(m.origins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, Idempotency-Key")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// RequestLog middleware captures request details into the ring buffer.
func (m *Middleware) RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.ReqLog.Add(RequestLogEntry{
			Timestamp:  start,
			Method:     r.Method,
			Path:       r.URL.Path,
			StatusCode: rec.statusCode,
			Duration:   time.Since(start),
			RequestID:  chimw.GetReqID(r.Context()),
			RemoteIP:   clientIP(r),
		})

		if m.verbose {
			m.logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.statusCode,
				"duration", time.Since(start),
			)
		}
	})
}

// RateLimit rejects clients that exceed the per-IP public request rate.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Limiter.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			TypedError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bodyRecorder captures response status and body for idempotency caching.
type bodyRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (r *bodyRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Idempotency replays cached POST responses by Idempotency-Key header.
// Keys are scoped to the request path; server errors are not cached.
func (m *Middleware) Idempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		scoped := r.URL.Path + "|" + key
		claim, status, body := m.Idempotent.Begin(scoped)
		switch claim {
		case Replay:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(status)
			w.Write(body)
			return
		case InFlight:
			TypedError(w, http.StatusConflict, "idempotency_error",
				"a request with this Idempotency-Key is still being processed")
			return
		}

		rec := &bodyRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		stored := false
		defer func() {
			if !stored {
				m.Idempotent.Release(scoped)
			}
		}()
		next.ServeHTTP(rec, r)
		if rec.statusCode < 500 {
			m.Idempotent.Store(scoped, rec.statusCode, rec.body.Bytes())
			stored = true
		}
	})
}

// clientIP returns the host part of RemoteAddr, which RealIP rewrites for trusted proxies.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
