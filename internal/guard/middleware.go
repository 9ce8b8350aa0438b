package guard

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/galadrimteam/goodfriend-relay/internal/config"
)

type admissionKey struct{}

// FromContext returns the Admission stored by Dispatcher.Require, or nil.
func FromContext(ctx context.Context) *Admission {
	adm, _ := ctx.Value(admissionKey{}).(*Admission)
	return adm
}

// Dispatcher evaluates guard chains for HTTP handlers.
type Dispatcher struct {
	Source config.Source
	// OnReject, when set, observes every rejection before it is written.
	OnReject func(r *http.Request, err error)
}

// NewDispatcher creates a dispatcher reading configuration from src.
func NewDispatcher(src config.Source) *Dispatcher {
	return &Dispatcher{Source: src}
}

// Require returns middleware that runs guards in the given order against one
// snapshot and only calls the next handler when all of them admit.
func (d *Dispatcher) Require(guards ...Guard) func(http.Handler) http.Handler {
	chain := Chain(guards)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			adm, err := chain.Evaluate(r.Header, d.Source.Current())
			if err != nil {
				if d.OnReject != nil {
					d.OnReject(r, err)
				}
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), admissionKey{}, adm)))
		})
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteError writes err as a JSON error body. Rejections use their own status
// and code; anything else becomes a 500.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorResponse{Error: "InternalError"}
	if rej, ok := AsRejection(err); ok {
		status = rej.Status
		body = errorResponse{Error: rej.Code, Message: rej.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
