package healthmonitor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/session-gateway/internal/healthmonitor"
	"github.com/ddevcap/session-gateway/internal/registry"
	"github.com/ddevcap/session-gateway/internal/upstream"
)

var _ = Describe("Monitor", func() {
	var client *upstream.Client

	BeforeEach(func() {
		client = upstream.NewClient()
	})

	It("converges a backend to HEALTHY with the observed count when under capacity", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"sessions":[{"id":"s1"},{"id":"s2"}]}`))
		}))
		defer srv.Close()

		reg := registry.New([]string{srv.URL}, client, time.Minute, 5)
		defer reg.Close()

		mon := healthmonitor.New(reg, client, time.Hour, time.Second, nil)
		b, err := mon.CheckServer(context.Background(), "server-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Status).To(Equal(registry.StatusHealthy))
		Expect(b.SessionCount).To(Equal(2))
	})

	It("converges a backend to FULL when the observed count is at or above capacity", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"sessions":[{"id":"s1"},{"id":"s2"}]}`))
		}))
		defer srv.Close()

		reg := registry.New([]string{srv.URL}, client, time.Minute, 2)
		defer reg.Close()

		mon := healthmonitor.New(reg, client, time.Hour, time.Second, nil)
		b, err := mon.CheckServer(context.Background(), "server-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Status).To(Equal(registry.StatusFull))
	})

	It("marks a backend UNHEALTHY on a probe failure without aborting other probes", func() {
		srvGood := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"sessions":[]}`))
		}))
		defer srvGood.Close()

		reg := registry.New([]string{"http://127.0.0.1:1", srvGood.URL}, client, time.Minute, 25)
		defer reg.Close()

		mon := healthmonitor.New(reg, client, time.Hour, 200*time.Millisecond, nil)
		mon.Start(context.Background())
		defer mon.Stop()

		Eventually(func() registry.Status {
			b, _ := reg.Get("server-1")
			return b.Status
		}, 2*time.Second, 50*time.Millisecond).Should(Equal(registry.StatusUnhealthy))

		b, err := reg.Get("server-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Status).To(Equal(registry.StatusHealthy))
	})

	It("populates the session index with every observed session", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"sessions":[{"id":"sess-1"},{"sessionId":"sess-2"}]}`))
		}))
		defer srv.Close()

		reg := registry.New([]string{srv.URL}, client, time.Minute, 25)
		defer reg.Close()

		mon := healthmonitor.New(reg, client, time.Hour, time.Second, nil)
		_, err := mon.CheckServer(context.Background(), "server-1")
		Expect(err).NotTo(HaveOccurred())

		id, ok := reg.Index().Lookup("sess-1")
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal("server-1"))
		id, ok = reg.Index().Lookup("sess-2")
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal("server-1"))
	})

	It("is idempotent: a second Start call is a no-op", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"sessions":[]}`))
		}))
		defer srv.Close()

		reg := registry.New([]string{srv.URL}, client, time.Minute, 25)
		defer reg.Close()

		mon := healthmonitor.New(reg, client, time.Hour, time.Second, nil)
		mon.Start(context.Background())
		mon.Start(context.Background())
		mon.Stop()
	})

	It("returns an error from CheckServer for an unknown backend id", func() {
		reg := registry.New([]string{"http://a"}, client, time.Minute, 25)
		defer reg.Close()

		mon := healthmonitor.New(reg, client, time.Hour, time.Second, nil)
		_, err := mon.CheckServer(context.Background(), "server-99")
		Expect(err).To(HaveOccurred())
	})
})
