package publication

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bazobehram/dweb-hosting-network-sub000/internal/config"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/identity"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/peersession"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/registry"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/scheduler"
)

// inMemoryRegistry is a minimal stateful stand-in for the registry
// service, just enough surface for Controller.Publish's round trip.
type inMemoryRegistry struct {
	mu       sync.Mutex
	manifest *registry.ManifestRecord
	domains  map[string]*registry.DomainRecord
}

func newInMemoryRegistry() *inMemoryRegistry {
	return &inMemoryRegistry{domains: make(map[string]*registry.DomainRecord)}
}

func (r *inMemoryRegistry) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()

		switch {
		case req.Method == http.MethodPost && req.URL.Path == "/manifests":
			var rec registry.ManifestRecord
			_ = json.NewDecoder(req.Body).Decode(&rec)
			r.manifest = &rec
			_ = json.NewEncoder(w).Encode(rec)

		case req.Method == http.MethodPatch && strings.HasSuffix(req.URL.Path, "/replicas"):
			w.WriteHeader(http.StatusNoContent)

		case req.Method == http.MethodPost && req.URL.Path == "/domains":
			var rec registry.DomainRecord
			_ = json.NewDecoder(req.Body).Decode(&rec)
			r.domains[rec.Domain] = &rec
			w.WriteHeader(http.StatusCreated)

		case req.Method == http.MethodGet && strings.HasPrefix(req.URL.Path, "/domains/"):
			name := strings.TrimPrefix(req.URL.Path, "/domains/")
			rec, ok := r.domains[name]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(rec)

		case req.Method == http.MethodPatch && strings.HasPrefix(req.URL.Path, "/domains/"):
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

type fakeProvider struct {
	sessions map[string]*peersession.FakeSession
}

func (p *fakeProvider) Session(peerID string) (peersession.Session, bool) {
	s, ok := p.sessions[peerID]
	return s, ok
}

func autoAck(t *testing.T, sched *scheduler.Scheduler, sessions map[string]*peersession.FakeSession) {
	t.Helper()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })

	for id, sess := range sessions {
		id, sess := id, sess
		sess.SetListener(sched)
		go func() {
			acked := make(map[int]bool)
			ticker := time.NewTicker(2 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					for _, v := range sess.SentJSON {
						up, ok := v.(peersession.ChunkUpload)
						if !ok || acked[up.ChunkIndex] {
							continue
						}
						acked[up.ChunkIndex] = true
						body, _ := json.Marshal(peersession.ChunkUploadAck{
							Type:       peersession.TypeChunkUploadAck,
							ManifestID: up.ManifestID,
							ChunkIndex: up.ChunkIndex,
							PeerID:     id,
							Status:     peersession.AckStatusOK,
						})
						sched.OnEvent(id, peersession.Event{
							Kind:    peersession.EventMessage,
							Message: peersession.Message{Kind: peersession.MessageText, Data: body},
						})
					}
				}
			}
		}()
	}
}

func TestPublishHappyPathBindsDomain(t *testing.T) {
	reg := newInMemoryRegistry()
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	regClient := registry.NewClient(srv.URL, "", nil)

	sessions := map[string]*peersession.FakeSession{
		"peerA": peersession.NewFakeSession("peerA"),
		"peerB": peersession.NewFakeSession("peerB"),
	}
	provider := &fakeProvider{sessions: sessions}

	cfg := config.DefaultEngineConfig()
	cfg.AckTimeout = 100 * time.Millisecond
	cfg.MaxReplicaTargets = 2
	cfg.AckQuorum = 2

	sched := scheduler.New(cfg, zap.NewNop(), nil, provider, regClient, nil)
	autoAck(t, sched, sessions)

	ctrl := New(cfg, zap.NewNop(), regClient, sched)

	id, err := identity.CreateIdentity()
	require.NoError(t, err)

	candidates := []scheduler.Peer{
		{PeerID: "peerA", LastSeen: time.Now()},
		{PeerID: "peerB", LastSeen: time.Now()},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	res, err := ctrl.Publish(ctx, id, "greeting.txt", "", []byte("hello world"), 4, "example.dweb", scheduler.ModeAuto, candidates, nil)
	require.NoError(t, err)
	assert.Equal(t, scheduler.OutcomeBound, res.Outcome)
	assert.Equal(t, "example.dweb", res.Domain)

	reg.mu.Lock()
	_, bound := reg.domains["example.dweb"]
	reg.mu.Unlock()
	assert.True(t, bound)
}

func TestPublishEmptyFileBindsImmediately(t *testing.T) {
	reg := newInMemoryRegistry()
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	regClient := registry.NewClient(srv.URL, "", nil)
	cfg := config.DefaultEngineConfig()
	sched := scheduler.New(cfg, zap.NewNop(), nil, &fakeProvider{sessions: map[string]*peersession.FakeSession{}}, regClient, nil)
	ctrl := New(cfg, zap.NewNop(), regClient, sched)

	id, err := identity.CreateIdentity()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := ctrl.Publish(ctx, id, "empty.txt", "", nil, 4, "empty.dweb", scheduler.ModeAuto, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, scheduler.OutcomeBound, res.Outcome)
}

func TestPublishQuorumNotMetWhenNoPeersAvailable(t *testing.T) {
	reg := newInMemoryRegistry()
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	regClient := registry.NewClient(srv.URL, "", nil)
	cfg := config.DefaultEngineConfig()
	cfg.AckTimeout = 30 * time.Millisecond
	cfg.MaxRetries = 0
	sched := scheduler.New(cfg, zap.NewNop(), nil, &fakeProvider{sessions: map[string]*peersession.FakeSession{}}, regClient, nil)
	ctrl := New(cfg, zap.NewNop(), regClient, sched)

	id, err := identity.CreateIdentity()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := ctrl.Publish(ctx, id, "f.bin", "", []byte("data"), 4, "unreachable.dweb", scheduler.ModeAuto, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, scheduler.OutcomeFailed, res.Outcome)
}

func TestPublishPartialWhenOnlyOnePeerOfTwoReplicates(t *testing.T) {
	reg := newInMemoryRegistry()
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	regClient := registry.NewClient(srv.URL, "", nil)

	sessions := map[string]*peersession.FakeSession{
		"peerA": peersession.NewFakeSession("peerA"),
		"peerB": peersession.NewFakeSession("peerB"),
	}
	provider := &fakeProvider{sessions: sessions}

	cfg := config.DefaultEngineConfig()
	cfg.AckTimeout = 30 * time.Millisecond
	cfg.MaxRetries = 0
	cfg.MaxReplicaTargets = 2
	cfg.AckQuorum = 2

	sched := scheduler.New(cfg, zap.NewNop(), nil, provider, regClient, nil)

	// only peerA ever acks; peerB never responds and exhausts retries.
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	sessions["peerA"].SetListener(sched)
	sessions["peerB"].SetListener(sched)
	go func() {
		acked := make(map[int]bool)
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for _, v := range sessions["peerA"].SentJSON {
					up, ok := v.(peersession.ChunkUpload)
					if !ok || acked[up.ChunkIndex] {
						continue
					}
					acked[up.ChunkIndex] = true
					body, _ := json.Marshal(peersession.ChunkUploadAck{
						Type:       peersession.TypeChunkUploadAck,
						ManifestID: up.ManifestID,
						ChunkIndex: up.ChunkIndex,
						PeerID:     "peerA",
						Status:     peersession.AckStatusOK,
					})
					sched.OnEvent("peerA", peersession.Event{
						Kind:    peersession.EventMessage,
						Message: peersession.Message{Kind: peersession.MessageText, Data: body},
					})
				}
			}
		}
	}()

	ctrl := New(cfg, zap.NewNop(), regClient, sched)

	id, err := identity.CreateIdentity()
	require.NoError(t, err)

	candidates := []scheduler.Peer{
		{PeerID: "peerA", LastSeen: time.Now()},
		{PeerID: "peerB", LastSeen: time.Now()},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	res, err := ctrl.Publish(ctx, id, "f.bin", "", []byte("hello world"), 4, "partial.dweb", scheduler.ModeAuto, candidates, nil)
	require.NoError(t, err)
	assert.Equal(t, scheduler.OutcomePartial, res.Outcome)
}
