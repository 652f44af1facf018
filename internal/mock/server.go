package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PostsPerFeed is the page size of every fabricated feed.
const PostsPerFeed = 20

type ServerConfig struct {
	Port int
	// Latency is drawn uniformly from [MinLatency, MaxLatency] for every request.
	MinLatency time.Duration
	MaxLatency time.Duration
	// FailureRate is the fraction of requests answered with a 500.
	FailureRate float64
}

// Post is one fabricated feed entry.
type Post struct {
	ID        int    `json:"id"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
	ImageURL  string `json:"image_url"`
}

type newUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Location string `json:"location"`
}

type newPost struct {
	UserID  json.RawMessage `json:"userId"`
	Title   string          `json:"title"`
	Content string          `json:"content"`
}

// Server fabricates feed responses. It keeps no state besides id counters.
type Server struct {
	cfg      ServerConfig
	router   chi.Router
	registry *prometheus.Registry
	requests *prometheus.CounterVec

	nextUser atomic.Int64
	nextPost atomic.Int64
}

func New(cfg ServerConfig) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		cfg:      cfg,
		registry: reg,
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedload_mock",
			Name:      "requests_total",
			Help:      "Requests served by the mock feed server",
		}, []string{"route", "status"}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Group(func(r chi.Router) {
		r.Use(s.simulate)
		r.Get("/feed", s.feedByQuery)
		r.Get("/feed/{userID}", s.feedByPath)
		r.Post("/users", s.createUser)
		r.Post("/posts", s.createPost)
	})
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("mock feed server listening")
	fmt.Printf("👻 Mock feed server running on http://localhost%s\n", addr)
	fmt.Println("   Endpoints: GET /feed?user_id=, GET /feed/{userId}, POST /users, POST /posts, /metrics")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// simulate applies the configured latency and failure injection.
func (s *Server) simulate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.MaxLatency > 0 {
			delay := s.cfg.MinLatency
			if spread := s.cfg.MaxLatency - s.cfg.MinLatency; spread > 0 {
				delay += time.Duration(rand.Int64N(int64(spread)))
			}
			time.Sleep(delay)
		}

		route := r.Method + " " + r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = r.Method + " " + rctx.RoutePattern()
		}

		if s.cfg.FailureRate > 0 && rand.Float64() < s.cfg.FailureRate {
			s.requests.WithLabelValues(route, "500").Inc()
			http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.requests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}

func (s *Server) feedByQuery(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user_id")
	if user == "" {
		user = "unknown"
	}
	writeJSON(w, http.StatusOK, Feed(user, time.Now()))
}

func (s *Server) feedByPath(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Feed(chi.URLParam(r, "userID"), time.Now()))
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var u newUser
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil || u.Name == "" || u.Email == "" {
		http.Error(w, "invalid user", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       s.nextUser.Add(1),
		"name":     u.Name,
		"email":    u.Email,
		"location": u.Location,
	})
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	var p newPost
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || len(p.UserID) == 0 || p.Title == "" {
		http.Error(w, "invalid post", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      s.nextPost.Add(1),
		"userId":  p.UserID,
		"title":   p.Title,
		"content": p.Content,
	})
}

// Feed fabricates the page for user: newest first, one minute apart.
func Feed(user string, now time.Time) []Post {
	posts := make([]Post, PostsPerFeed)
	for i := range posts {
		posts[i] = Post{
			ID:        i + 1,
			UserID:    user,
			Timestamp: now.Add(-time.Duration(i) * time.Minute).UnixMilli(),
			ImageURL:  fmt.Sprintf("https://picsum.photos/seed/%s_%d/200/300", user, i),
		}
	}
	return posts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
