// Package rpc implements the devnet's Ethereum JSON-RPC 2.0 API server.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/blockmed/blockmed/config"
	"github.com/blockmed/blockmed/internal/devchain"
	klog "github.com/blockmed/blockmed/internal/log"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// maxBatchSize bounds the number of calls in one batch request.
const maxBatchSize = 100

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr        string
	chain       *devchain.Chain
	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
	corsOrigins []string     // Empty = no CORS headers.
	limiter     *rateLimiter // nil = unlimited.
	methods     map[string]handler
}

type handler func(req *Request) (interface{}, *Error)

// New creates a new RPC server for chain. The rpcCfg parameter controls IP
// filtering, CORS and rate limiting. A zero-value RPCConfig allows all IPs,
// disables CORS and does not rate limit.
func New(addr string, chain *devchain.Chain, rpcCfg ...config.RPCConfig) *Server {
	s := &Server{
		addr:   addr,
		chain:  chain,
		logger: klog.WithComponent("rpc"),
	}

	if len(rpcCfg) > 0 {
		s.allowedNets = parseAllowedIPs(rpcCfg[0].AllowedIPs)
		s.corsOrigins = rpcCfg[0].CORSOrigins
		if rpcCfg[0].RateLimit > 0 {
			s.limiter = newRateLimiter(rpcCfg[0].RateLimit, rpcCfg[0].RateBurst)
		}
	}
	s.registerMethods()

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	mux.Handle("/metrics", s.filterIP(promhttp.Handler()))

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		// Try as a single IP (add /32 or /128).
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("RPC server listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.limiter != nil {
		s.limiter.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// filterIP rejects requests from outside the allow list.
func (s *Server) filterIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedNets) > 0 {
			ip := s.clientIP(r)
			if ip == nil || !s.isIPAllowed(ip) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)
	if len(s.allowedNets) > 0 && (ip == nil || !s.isIPAllowed(ip)) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	s.setCORSHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if s.limiter != nil && ip != nil && !s.limiter.Allow(ip.String()) {
		rpcRateLimited.Inc()
		w.Header().Set("Retry-After", "1")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(errorResponse(nil, CodeLimitExceeded, "rate limit exceeded"))
		return
	}

	if r.Method != http.MethodPost {
		writeJSON(w, errorResponse(nil, CodeInvalidRequest, "only POST method is allowed"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeJSON(w, errorResponse(nil, CodeParseError, "failed to read request body"))
		return
	}
	if len(body) > maxBodySize {
		writeJSON(w, errorResponse(nil, CodeInvalidRequest, "request body too large"))
		return
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		s.handleBatch(w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, errorResponse(nil, CodeParseError, "invalid JSON"))
		return
	}
	writeJSON(w, s.serve(&req))
}

func (s *Server) handleBatch(w http.ResponseWriter, body []byte) {
	var reqs []Request
	if err := json.Unmarshal(body, &reqs); err != nil {
		writeJSON(w, errorResponse(nil, CodeParseError, "invalid JSON"))
		return
	}
	if len(reqs) == 0 {
		writeJSON(w, errorResponse(nil, CodeInvalidRequest, "empty batch"))
		return
	}
	if len(reqs) > maxBatchSize {
		writeJSON(w, errorResponse(nil, CodeInvalidRequest, fmt.Sprintf("batch too large (max %d)", maxBatchSize)))
		return
	}
	resps := make([]Response, 0, len(reqs))
	for i := range reqs {
		resps = append(resps, s.serve(&reqs[i]))
	}
	writeJSON(w, resps)
}

// serve runs one call and builds its response.
func (s *Server) serve(req *Request) Response {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	start := time.Now()
	label := req.Method
	h, ok := s.methods[req.Method]
	if !ok {
		label = "unknown"
	}

	var (
		result interface{}
		rpcErr *Error
	)
	if ok {
		result, rpcErr = h(req)
	} else {
		rpcErr = &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("the method %s does not exist/is not available", req.Method)}
	}
	rpcRequestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	if rpcErr != nil {
		rpcRequestsTotal.WithLabelValues(label, "error").Inc()
		s.logger.Debug().Str("method", req.Method).Int("code", rpcErr.Code).Str("error", rpcErr.Message).Msg("RPC call failed")
		return Response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID}
	}
	rpcRequestsTotal.WithLabelValues(label, "ok").Inc()

	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, "failed to encode result")
	}
	return Response{JSONRPC: "2.0", Result: raw, ID: req.ID}
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// errorResponse builds a JSON-RPC error response.
func errorResponse(id json.RawMessage, code int, message string) Response {
	if id == nil {
		id = json.RawMessage("null")
	}
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// setCORSHeaders adds CORS headers based on the configured origins.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	allowed := false
	for _, o := range s.corsOrigins {
		if o == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			allowed = true
			break
		}
		if o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			allowed = true
			break
		}
	}

	if allowed {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
}
