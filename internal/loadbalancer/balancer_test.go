package loadbalancer_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/session-gateway/internal/loadbalancer"
	"github.com/ddevcap/session-gateway/internal/registry"
	"github.com/ddevcap/session-gateway/internal/upstream"
)

func sessionsServer(ids ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := `{"sessions":[`
		for i, id := range ids {
			if i > 0 {
				body += ","
			}
			body += `{"id":"` + id + `"}`
		}
		body += `]}`
		_, _ = w.Write([]byte(body))
	}))
}

func newLB(reg *registry.Registry, client *upstream.Client) *loadbalancer.LoadBalancer {
	return loadbalancer.New(reg, client, loadbalancer.Config{
		MaxRetries:     3,
		RetryDelay:     10 * time.Millisecond,
		RequestTimeout: time.Second,
	}, nil)
}

var _ = Describe("SelectOptimalBackend", func() {
	var client *upstream.Client

	BeforeEach(func() {
		client = upstream.NewClient()
	})

	It("never selects a FULL backend", func() {
		srvHealthy := sessionsServer("s1")
		defer srvHealthy.Close()

		reg := registry.New([]string{"http://full-dummy", srvHealthy.URL}, client, time.Minute, 25)
		defer reg.Close()

		Expect(reg.UpdateStatus("server-1", registry.StatusFull, registry.StatusPatch{})).To(Succeed())

		lb := newLB(reg, client)
		backend, err := lb.SelectOptimalBackend(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(backend.ID).To(Equal("server-2"))
	})

	It("round-robins across ties: three selections over two tied backends visit both", func() {
		srvA := sessionsServer("s1", "s2", "s3")
		defer srvA.Close()
		srvB := sessionsServer("s1", "s2", "s3")
		defer srvB.Close()

		reg := registry.New([]string{srvA.URL, srvB.URL}, client, time.Minute, 25)
		defer reg.Close()

		lb := newLB(reg, client)

		seen := map[string]int{}
		for i := 0; i < 3; i++ {
			backend, err := lb.SelectOptimalBackend(context.Background())
			Expect(err).NotTo(HaveOccurred())
			seen[backend.ID]++
		}
		Expect(seen).To(HaveKey("server-1"))
		Expect(seen).To(HaveKey("server-2"))
	})

	It("classifies ALL_FULL when every backend is at or above capacity", func() {
		reg := registry.New([]string{"http://a", "http://b"}, client, time.Minute, 25)
		defer reg.Close()
		Expect(reg.UpdateStatus("server-1", registry.StatusFull, registry.StatusPatch{})).To(Succeed())
		Expect(reg.UpdateStatus("server-2", registry.StatusFull, registry.StatusPatch{})).To(Succeed())

		lb := newLB(reg, client)
		_, err := lb.SelectOptimalBackend(context.Background())
		Expect(err).To(MatchError(loadbalancer.ErrAllFull))
	})

	It("classifies ALL_UNAVAILABLE when every backend is UNHEALTHY", func() {
		reg := registry.New([]string{"http://a", "http://b"}, client, time.Minute, 25)
		defer reg.Close()
		Expect(reg.UpdateStatus("server-1", registry.StatusUnhealthy, registry.StatusPatch{})).To(Succeed())
		Expect(reg.UpdateStatus("server-2", registry.StatusUnhealthy, registry.StatusPatch{})).To(Succeed())

		lb := newLB(reg, client)
		_, err := lb.SelectOptimalBackend(context.Background())
		Expect(err).To(MatchError(loadbalancer.ErrAllUnavailable))
	})

	It("classifies NO_ACTIVE_SERVERS when neither uniformly full nor unhealthy", func() {
		reg := registry.New([]string{"http://a", "http://b"}, client, time.Minute, 25)
		defer reg.Close()
		Expect(reg.UpdateStatus("server-1", registry.StatusFull, registry.StatusPatch{})).To(Succeed())
		Expect(reg.UpdateStatus("server-2", registry.StatusUnhealthy, registry.StatusPatch{})).To(Succeed())

		lb := newLB(reg, client)
		_, err := lb.SelectOptimalBackend(context.Background())
		Expect(err).To(MatchError(loadbalancer.ErrNoActiveServers))
	})

	It("excludes a backend whose session count cannot be fetched, without marking it unhealthy", func() {
		// A malformed /sessions body is a parse failure, not a transport
		// failure, so it counts as +Inf for this selection without the
		// registry flipping the backend's status.
		srvBroken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer srvBroken.Close()
		srvHealthy := sessionsServer()
		defer srvHealthy.Close()

		reg := registry.New([]string{srvBroken.URL, srvHealthy.URL}, client, time.Minute, 25)
		defer reg.Close()

		lb := newLB(reg, client)
		backend, err := lb.SelectOptimalBackend(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(backend.ID).To(Equal("server-2"))

		b, getErr := reg.Get("server-1")
		Expect(getErr).NotTo(HaveOccurred())
		Expect(b.Status).To(Equal(registry.StatusHealthy))
	})
})

var _ = Describe("ForwardRequest", func() {
	var client *upstream.Client

	BeforeEach(func() {
		client = upstream.NewClient()
	})

	It("rewrites an exact /pair/<n> path with a trailing slash", func() {
		var gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		reg := registry.New([]string{srv.URL}, client, time.Minute, 25)
		defer reg.Close()
		backend, err := reg.Get("server-1")
		Expect(err).NotTo(HaveOccurred())

		lb := newLB(reg, client)
		_, err = lb.ForwardRequest(context.Background(), loadbalancer.Request{
			Method: http.MethodGet,
			Path:   "/pair/33612345678",
		}, backend, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(gotPath).To(Equal("/pair/33612345678/"))
	})

	It("does not rewrite a path that isn't an exact /pair/<n> match", func() {
		var gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		reg := registry.New([]string{srv.URL}, client, time.Minute, 25)
		defer reg.Close()
		backend, err := reg.Get("server-1")
		Expect(err).NotTo(HaveOccurred())

		lb := newLB(reg, client)
		_, err = lb.ForwardRequest(context.Background(), loadbalancer.Request{
			Method: http.MethodGet,
			Path:   "/sessions",
		}, backend, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(gotPath).To(Equal("/sessions"))
	})

	It("retries on a transport failure, marking the original backend UNHEALTHY exactly once", func() {
		// server-2 must answer the reselection's /sessions probe with a valid
		// listing, or it is excluded and the retry has nowhere to go.
		srvB := sessionsServer()
		defer srvB.Close()

		reg := registry.New([]string{"http://127.0.0.1:1", srvB.URL}, client, time.Minute, 25)
		defer reg.Close()
		backendA, err := reg.Get("server-1")
		Expect(err).NotTo(HaveOccurred())

		lb := newLB(reg, client)
		result, err := lb.ForwardRequest(context.Background(), loadbalancer.Request{
			Method: http.MethodGet,
			Path:   "/sessions",
		}, backendA, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Backend.ID).To(Equal("server-2"))

		a, getErr := reg.Get("server-1")
		Expect(getErr).NotTo(HaveOccurred())
		Expect(a.Status).To(Equal(registry.StatusUnhealthy))
		Expect(a.Counters.Failures).To(Equal(1))
	})

	It("issues at most MAX_RETRIES+1 attempts before giving up", func() {
		// Each backend answers /sessions instantly (so it stays HEALTHY and
		// selectable) but stalls on any other path past the per-request
		// timeout, so every forwarded attempt times out and marks its
		// backend UNHEALTHY in turn.
		urls := make([]string, 4)
		for i := range urls {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/sessions" {
					_, _ = w.Write([]byte(`{"sessions":[]}`))
					return
				}
				time.Sleep(200 * time.Millisecond)
			}))
			defer srv.Close()
			urls[i] = srv.URL
		}

		reg := registry.New(urls, client, time.Minute, 25)
		defer reg.Close()
		backend, err := reg.Get("server-1")
		Expect(err).NotTo(HaveOccurred())

		lb := loadbalancer.New(reg, client, loadbalancer.Config{
			MaxRetries:     3,
			RetryDelay:     5 * time.Millisecond,
			RequestTimeout: 30 * time.Millisecond,
		}, nil)

		_, err = lb.ForwardRequest(context.Background(), loadbalancer.Request{
			Method: http.MethodGet,
			Path:   "/slow",
		}, backend, 0)
		Expect(err).To(HaveOccurred())

		failing := 0
		for _, b := range reg.AllBackends() {
			if b.Status == registry.StatusUnhealthy {
				failing++
				Expect(b.Counters.Failures).To(Equal(1))
			}
		}
		Expect(failing).To(Equal(4)) // MAX_RETRIES+1 attempts, one backend burned per attempt
	})
})
