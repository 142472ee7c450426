package handlers

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quotagate/quotagate/internal/core"
	"github.com/quotagate/quotagate/internal/core/engine"
	apperrors "github.com/quotagate/quotagate/internal/errors"
	"github.com/quotagate/quotagate/internal/metrics"
	"github.com/quotagate/quotagate/internal/observability"
)

const (
	// DefaultClientHeader is the trusted header carrying the client
	// identity. The edge in front of the gateway owns this header.
	DefaultClientHeader = "X-Client-Id"

	// DefaultEvaluateTimeout bounds one admission decision.
	DefaultEvaluateTimeout = 2 * time.Second

	headerRetryAfter   = "Retry-After"
	headerRemainingDay = "X-RateLimit-Remaining-Day"
	headerResetDay     = "X-RateLimit-Reset-Day"
)

// Gateway admits or refuses every request based on the limiter's decision
// and forwards admitted requests to the configured origin.
//
// The gateway fails closed: if the limiter cannot produce a decision the
// request is refused, never forwarded.
type Gateway struct {
	Limiter         *engine.Limiter
	Origin          *url.URL
	ClientHeader    string
	EvaluateTimeout time.Duration
	Client          *http.Client
}

// NewGateway builds a gateway in front of the given origin. originURL may
// be empty; requests then fail with a configuration error until it is set.
func NewGateway(limiter *engine.Limiter, originURL, clientHeader string, evaluateTimeout time.Duration) (*Gateway, error) {
	g := &Gateway{
		Limiter:         limiter,
		ClientHeader:    clientHeader,
		EvaluateTimeout: evaluateTimeout,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	if strings.TrimSpace(originURL) != "" {
		parsed, err := url.Parse(originURL)
		if err != nil {
			return nil, err
		}
		g.Origin = parsed
	}

	return g, nil
}

func (g *Gateway) clientHeader() string {
	if strings.TrimSpace(g.ClientHeader) != "" {
		return g.ClientHeader
	}
	return DefaultClientHeader
}

func (g *Gateway) evaluateTimeout() time.Duration {
	if g.EvaluateTimeout > 0 {
		return g.EvaluateTimeout
	}
	return DefaultEvaluateTimeout
}

// ServeHTTP runs the admission decision for the request's client identity
// and either refuses the request or relays it to the origin.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.Header.Get(g.clientHeader()))
	if clientID == "" {
		metrics.RecordGateReject("missing_identity")
		respondWithError(w, r, apperrors.NewInvalidInputError(
			"Missing client identity header "+g.clientHeader()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.evaluateTimeout())
	defer cancel()

	decision, err := g.Limiter.Evaluate(ctx, clientID)
	if err != nil {
		metrics.RecordGateDecision("error")
		logGateway("Admission decision failed", clientID,
			zap.Error(err))
		respondWithError(w, r, apperrors.WrapLimiterUnavailable(
			r.Context(), err, "Rate limiter unavailable"))
		return
	}

	if !decision.Allowed {
		g.refuse(w, r, clientID, decision)
		return
	}

	metrics.RecordGateDecision("allowed")
	g.forward(w, r, clientID, decision)
}

// refuse writes the 429 response carrying retry and quota headers.
func (g *Gateway) refuse(w http.ResponseWriter, r *http.Request, clientID string, decision core.Decision) {
	switch decision.Reason {
	case core.DenyReasonDaily:
		metrics.RecordGateDecision("denied_daily")
	default:
		metrics.RecordGateDecision("denied_burst")
	}

	setQuotaHeaders(w.Header(), decision)

	message := "Burst limit exceeded"
	if decision.Reason == core.DenyReasonDaily {
		message = "Daily quota exceeded"
	}

	envelope := apperrors.NewRateLimitedError(message)
	envelope = envelope.WithDetails(map[string]interface{}{
		"reason":              string(decision.Reason),
		"retry_after_seconds": ceilSeconds(decision.RetryAfter),
	})

	logGateway("Request refused", clientID,
		zap.String("reason", string(decision.Reason)),
		zap.Duration("retry_after", decision.RetryAfter))

	respondWithError(w, r, envelope)
}

// forward relays the admitted request to the origin unchanged and copies
// the origin's response back, appending quota headers.
func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, clientID string, decision core.Decision) {
	if g.Origin == nil {
		logGateway("Origin is not configured", clientID)
		respondWithError(w, r, apperrors.NewOriginUnconfiguredError(
			"Gateway origin is not configured"))
		return
	}

	target := *g.Origin
	target.Path = joinURLPath(g.Origin.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	outbound, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(
			r.Context(), err, "Unable to construct origin request"))
		return
	}
	copyHeaders(outbound.Header, r.Header)
	outbound.ContentLength = r.ContentLength

	start := time.Now()
	resp, err := g.Client.Do(outbound)
	if err != nil {
		metrics.RecordForward(false, time.Since(start))
		logGateway("Origin request failed", clientID,
			zap.Error(err))
		respondWithError(w, r, apperrors.WrapExternalService(
			r.Context(), err, "Origin unavailable"))
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	copyHeaders(w.Header(), resp.Header)
	setQuotaHeaders(w.Header(), decision)

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logGateway("Failed to relay origin response", clientID,
			zap.Error(err))
	}

	metrics.RecordForward(resp.StatusCode < http.StatusInternalServerError, time.Since(start))
}

// setQuotaHeaders writes the admission headers present on every gateway
// response, refused or forwarded.
func setQuotaHeaders(h http.Header, decision core.Decision) {
	if !decision.Allowed {
		h.Set(headerRetryAfter, strconv.Itoa(ceilSeconds(decision.RetryAfter)))
	}
	h.Set(headerRemainingDay, strconv.Itoa(decision.DailyRemaining))
	h.Set(headerResetDay, strconv.Itoa(floorSeconds(decision.DailyResetIn)))
}

// ceilSeconds rounds up so a client honoring Retry-After never retries early.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func floorSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHopHeader(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopByHopHeader(key string) bool {
	switch http.CanonicalHeaderKey(key) {
	case "Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailer", "Transfer-Encoding", "Upgrade":
		return true
	}
	return false
}

func joinURLPath(base, path string) string {
	base = strings.TrimSuffix(base, "/")
	if path == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func logGateway(msg, clientID string, fields ...zap.Field) {
	if observability.ServerLogger == nil {
		return
	}
	fields = append([]zap.Field{zap.String("client_id", clientID)}, fields...)
	observability.ServerLogger.Info(msg, fields...)
}
