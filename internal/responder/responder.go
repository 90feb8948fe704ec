// Package responder serves time-stamping and OCSP responders over HTTP.
// It fronts the in-process test authorities so that the HTTP evidence
// sources can be exercised end to end.
package responder

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

// Content types defined by RFC 3161 and RFC 6960.
const (
	ContentTypeTimestampQuery = "application/timestamp-query"
	ContentTypeTimestampReply = "application/timestamp-reply"
	ContentTypeOCSPRequest    = "application/ocsp-request"
	ContentTypeOCSPResponse   = "application/ocsp-response"
)

// MaxRequestSize bounds the body of a protocol request.
const MaxRequestSize = 1 << 20

// Handler answers a DER encoded protocol request with a DER encoded
// response. DummyTimeStamper and DummyOCSPResponder implement it.
type Handler interface {
	HandleRequest(der []byte) ([]byte, error)
}

// Options selects the responders to mount. A nil handler leaves its route
// unmounted.
type Options struct {
	TSA    Handler
	OCSP   Handler
	Logger *slog.Logger
}

// New returns the HTTP handler for the configured responders.
//
// Routes:
//
//	POST /tsa            RFC 3161 time-stamp request
//	POST /ocsp           RFC 6960 OCSP request
//	GET  /ocsp/{request} base64 encoded OCSP request
//	GET  /health         liveness check
func New(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})

	if opts.TSA != nil {
		r.Post("/tsa", postHandler(opts.TSA, ContentTypeTimestampQuery, ContentTypeTimestampReply, logger))
	}
	if opts.OCSP != nil {
		r.Route("/ocsp", func(r chi.Router) {
			r.Post("/", postHandler(opts.OCSP, ContentTypeOCSPRequest, ContentTypeOCSPResponse, logger))
			r.Get("/*", ocspGetHandler(opts.OCSP, logger))
		})
	}
	return r
}

// postHandler reads the request body and answers it. A Content-Type other
// than want is rejected; a missing one is accepted.
func postHandler(h Handler, want, reply string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			mediaType, _, err := mime.ParseMediaType(ct)
			if err != nil || mediaType != want {
				http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
				return
			}
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestSize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "failed to read request", http.StatusBadRequest)
			return
		}
		if len(body) == 0 {
			http.Error(w, "empty request", http.StatusBadRequest)
			return
		}
		respond(w, r, h, body, reply, logger)
	}
}

// ocspGetHandler decodes the request from the URL path. RFC 6960 appendix
// A.1 allows the base64 value to be URL-encoded.
func ocspGetHandler(h Handler, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		encoded, err := url.PathUnescape(chi.URLParam(r, "*"))
		if err != nil || encoded == "" {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}
		respond(w, r, h, der, ContentTypeOCSPResponse, logger)
	}
}

func respond(w http.ResponseWriter, r *http.Request, h Handler, der []byte, contentType string, logger *slog.Logger) {
	resp, err := h.HandleRequest(der)
	if err != nil {
		logger.WarnContext(r.Context(), "request rejected", "path", r.URL.Path, "error", err)
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}
