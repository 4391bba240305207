// Package ingestion implements the Ingestion Service (C5): it accepts raw
// bytes or a URL, applies the tenant's policy gates, dedups by content hash,
// writes the raw blob to object storage, and inserts the Document row in
// state STORED for the rest of the pipeline to pick up.
package ingestion

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"hash/crc32"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"manifold/internal/objectstore"
	"manifold/internal/ragconfig"
	"manifold/internal/ragerr"
	"manifold/internal/ragstore"
)

// Result describes the outcome of one ingestion call. Deduped is true when
// the content hash already had a document on file for the tenant, in which
// case DocID names the existing document rather than a freshly created one.
type Result struct {
	DocID   string
	Sha256  string
	Deduped bool
}

type Service struct {
	Store   *ragstore.Store
	Raw     objectstore.ObjectStore
	Config  ragconfig.IngestConfig
	Fetcher *URLFetcher
	limiter *tenantRateLimiter
}

func New(store *ragstore.Store, raw objectstore.ObjectStore, cfg ragconfig.IngestConfig) *Service {
	return &Service{
		Store:   store,
		Raw:     raw,
		Config:  cfg,
		Fetcher: NewURLFetcher(cfg.MaxFileMB),
		limiter: newTenantRateLimiter(cfg.RateLimitPerMin),
	}
}

// IngestBytes runs the policy gates against an in-memory upload, dedups by
// (tenant, sha256), and on a miss stores the blob and document row.
func (s *Service) IngestBytes(ctx context.Context, tenantID string, filename string, mimeType string, body []byte) (Result, error) {
	const op = "ingestion.IngestBytes"

	if !s.limiter.Allow(tenantID) {
		return Result{}, ragerr.New(ragerr.Policy, op, fmt.Errorf("tenant %s exceeded ingest rate limit", tenantID))
	}

	if err := s.checkPolicy(filename, mimeType, int64(len(body))); err != nil {
		return Result{}, err
	}

	sum := sha256.Sum256(body)
	sha256Hex := hex.EncodeToString(sum[:])

	if existing, found, err := s.Store.LookupBySha256(ctx, tenantID, sha256Hex); err != nil {
		return Result{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
	} else if found {
		return Result{DocID: existing.DocID, Sha256: sha256Hex, Deduped: true}, nil
	}

	rawKey := objectstore.RawKey(sha256Hex)
	if _, err := s.Raw.Put(ctx, rawKey, bytes.NewReader(body), objectstore.PutOptions{ContentType: mimeType}); err != nil {
		return Result{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
	}
	if err := s.Store.InsertBlob(ctx, ragstore.Blob{Sha256: sha256Hex, Location: rawKey, CRC32: crc32Of(body)}); err != nil {
		return Result{}, err
	}

	docID := uuid.NewString()
	doc := ragstore.Document{
		DocID:       docID,
		TenantID:    tenantID,
		Sha256:      sha256Hex,
		URI:         filename,
		Mime:        mimeType,
		SizeBytes:   int64(len(body)),
		State:       ragstore.DocStored,
		CollectedAt: time.Now(),
	}
	if err := s.Store.InsertDocument(ctx, doc); err != nil {
		return Result{}, err
	}
	return Result{DocID: docID, Sha256: sha256Hex}, nil
}

// IngestURL fetches rawURL through the SSRF-guarded fetcher, then runs the
// same policy/dedup/store path as IngestBytes.
func (s *Service) IngestURL(ctx context.Context, tenantID string, rawURL string) (Result, error) {
	const op = "ingestion.IngestURL"
	body, mimeType, err := s.Fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return Result{}, ragerr.Wrap(ragerr.Validation, op, err)
	}
	filename := filenameFromURL(rawURL)
	return s.IngestBytes(ctx, tenantID, filename, mimeType, body)
}

// checkPolicy enforces IngestConfig's size/MIME/extension gates. The size
// cap and the extension denylist apply in every mode; the MIME allowlist
// (AllowedMimePrefixes) is checked only in strict mode.
func (s *Service) checkPolicy(filename, mimeType string, size int64) error {
	const op = "ingestion.checkPolicy"
	maxBytes := int64(s.Config.MaxFileMB) * 1024 * 1024
	if maxBytes > 0 && size > maxBytes {
		return ragerr.New(ragerr.Policy, op, fmt.Errorf("file exceeds max size of %d MB", s.Config.MaxFileMB))
	}

	ext := strings.ToLower(extOf(filename))
	for _, d := range s.Config.DisallowedExts {
		if ext == strings.ToLower(d) {
			return ragerr.New(ragerr.Policy, op, fmt.Errorf("extension %q is not allowed", ext))
		}
	}

	if s.Config.StrictMode && len(s.Config.AllowedMimePrefixes) > 0 {
		base, _, _ := mime.ParseMediaType(mimeType)
		if base == "" {
			base = mimeType
		}
		allowed := false
		for _, p := range s.Config.AllowedMimePrefixes {
			if strings.HasPrefix(base, p) {
				allowed = true
				break
			}
		}
		if !allowed {
			return ragerr.New(ragerr.Policy, op, fmt.Errorf("mime type %q is not in the allowed set", mimeType))
		}
	}
	return nil
}

func extOf(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[i:]
	}
	return ""
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if base := u.Path[strings.LastIndex(u.Path, "/")+1:]; base != "" {
		return base
	}
	return u.Host
}

func crc32Of(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// URLFetcher fetches a remote document for ingestion. It hardens the
// transport the way a browser-facing fetcher would (bounded timeouts,
// capped redirects, scheme allowlist) and additionally refuses to connect
// to loopback, link-local, or other private-range destinations so an
// ingestion request can't be used to probe internal services.
type URLFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewURLFetcher(maxFileMB int) *URLFetcher {
	if maxFileMB <= 0 {
		maxFileMB = 50
	}
	dialer := &net.Dialer{
		Timeout:   7 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   guardPrivateAddr,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   20 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("stopped after 5 redirects")
			}
			return guardURL(req.URL)
		},
	}
	return &URLFetcher{client: client, maxBytes: int64(maxFileMB) * 1024 * 1024}
}

func (f *URLFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid url: %w", err)
	}
	if err := guardURL(u); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", "manifold-ragd/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, f.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, "", fmt.Errorf("response exceeds max bytes (%d)", f.maxBytes)
	}

	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	return body, ct, nil
}

// guardURL rejects non-http(s) schemes and resolves the hostname up front so
// an obviously-private target is rejected before a connection is attempted;
// guardPrivateAddr is the authoritative check run against the address the
// dialer actually connects to, which also covers DNS-rebinding.
func guardURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing host")
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateOrReserved(ip) {
		return fmt.Errorf("refusing to fetch private address %s", ip)
	}
	return nil
}

// guardPrivateAddr is a net.Dialer.Control callback: it runs after DNS
// resolution but before the socket connects, so it sees the real
// destination IP regardless of what hostname was requested.
func guardPrivateAddr(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("ingestion: could not parse dial address %q", address)
	}
	if isPrivateOrReserved(ip) {
		return fmt.Errorf("ingestion: refusing to connect to private address %s", ip)
	}
	return nil
}

func isPrivateOrReserved(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast()
}

// tenantRateLimiter is an in-process token bucket per tenant, refilled once a
// minute to perMinute tokens. It does not coordinate across ragd instances;
// a distributed limiter would need a shared store, which this single-process
// entrypoint has no call to carry.
type tenantRateLimiter struct {
	perMinute int
	mu        sync.Mutex
	buckets   map[string]*bucket
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

func newTenantRateLimiter(perMinute int) *tenantRateLimiter {
	return &tenantRateLimiter{perMinute: perMinute, buckets: make(map[string]*bucket)}
}

func (l *tenantRateLimiter) Allow(tenantID string) bool {
	if l.perMinute <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[tenantID]
	now := time.Now()
	if !ok {
		b = &bucket{tokens: l.perMinute, lastRefill: now}
		l.buckets[tenantID] = b
	}
	if now.Sub(b.lastRefill) >= time.Minute {
		b.tokens = l.perMinute
		b.lastRefill = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
