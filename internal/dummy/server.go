// Package dummy is a target server with known behaviour, for trying out
// schedules and autostop criteria locally.
package dummy

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Endpoints lists the paths Handler serves.
var Endpoints = []string{"/fast", "/medium", "/slow", "/spike", "/error"}

func jitter(lo, hi time.Duration) time.Duration {
	return lo + rand.N(hi-lo)
}

// sleep waits d or until the client goes away.
func sleep(r *http.Request, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.Context().Done():
		return false
	}
}

func respond(delay time.Duration, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !sleep(r, delay) {
			return
		}
		w.Write([]byte(body))
	}
}

// Handler serves the dummy endpoints. Delay scales every sleep, 1 is real
// time.
func Handler(delay float64) http.Handler {
	scale := func(d time.Duration) time.Duration { return time.Duration(float64(d) * delay) }
	mux := http.NewServeMux()

	mux.HandleFunc("/fast", func(w http.ResponseWriter, r *http.Request) {
		respond(scale(jitter(10*time.Millisecond, 50*time.Millisecond)), "Fast response")(w, r)
	})
	mux.HandleFunc("/medium", func(w http.ResponseWriter, r *http.Request) {
		respond(scale(jitter(100*time.Millisecond, 300*time.Millisecond)), "Medium response")(w, r)
	})
	// 1-2s, for timeouts and queuing
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		respond(scale(jitter(time.Second, 2*time.Second)), "Slow response")(w, r)
	})
	// Usually fast, 5% of requests take 2s. Good P50, terrible P99.
	mux.HandleFunc("/spike", func(w http.ResponseWriter, r *http.Request) {
		d := 20 * time.Millisecond
		if rand.Float32() < 0.05 {
			d = 2 * time.Second
		}
		respond(scale(d), "Spikey response")(w, r)
	})
	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		switch rnd := rand.Float32(); {
		case rnd < 0.2:
			http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
		case rnd < 0.4:
			http.Error(w, "429 Too Many Requests", http.StatusTooManyRequests)
		default:
			w.Write([]byte("OK"))
		}
	})
	return mux
}

// Serve runs the dummy server on addr until ctx is done.
func Serve(ctx context.Context, addr string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	srv := &http.Server{Addr: addr, Handler: Handler(1), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("dummy server running", zap.String("addr", addr), zap.Strings("endpoints", Endpoints))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
