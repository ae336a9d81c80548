// Package registryserver implements a reference in-memory HTTP server
// for the registry REST contract (spec.md §6), used by cmd/registryserver
// and by integration tests that want a real wire-level registry without
// standing up external infrastructure.
package registryserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/bazobehram/dweb-hosting-network-sub000/internal/config"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/identity"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/registry"
)

// Server is a gorilla/mux-routed, mutex-guarded, process-memory-only
// registry. Restarting the process loses all state; that is acceptable
// for its role as a reference/test double, not a production registry.
type Server struct {
	log    *zap.Logger
	router *mux.Router

	mu        sync.RWMutex
	manifests map[string]*registry.ManifestRecord
	domains   map[string]*registry.DomainRecord
}

// New creates a Server with its routes wired.
func New(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		log:       log,
		router:    mux.NewRouter(),
		manifests: make(map[string]*registry.ManifestRecord),
		domains:   make(map[string]*registry.DomainRecord),
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("registry server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, s)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)

	s.router.HandleFunc("/manifests", s.handleRegisterManifest).Methods(http.MethodPost)
	s.router.HandleFunc("/manifests/{id}", s.handleGetManifest).Methods(http.MethodGet)
	s.router.HandleFunc("/manifests/{id}/replicas", s.handleUpdateReplica).Methods(http.MethodPatch)
	s.router.HandleFunc("/manifests/{id}/chunks/{index}/pointer", s.handleUpdatePointer).Methods(http.MethodPatch)

	s.router.HandleFunc("/domains", s.handleRegisterDomain).Methods(http.MethodPost)
	s.router.HandleFunc("/domains", s.handleListDomains).Methods(http.MethodGet)
	s.router.HandleFunc("/domains/{name}", s.handleGetDomain).Methods(http.MethodGet)
	s.router.HandleFunc("/domains/{name}", s.handleUpdateDomain).Methods(http.MethodPatch)
	s.router.HandleFunc("/domains/{name}", s.handleDeleteDomain).Methods(http.MethodDelete)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleRegisterManifest(w http.ResponseWriter, r *http.Request) {
	var rec registry.ManifestRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if rec.ManifestID == "" {
		http.Error(w, "manifestId is required", http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	if _, exists := s.manifests[rec.ManifestID]; exists {
		s.mu.Unlock()
		http.Error(w, "manifest already registered", http.StatusConflict)
		return
	}
	s.manifests[rec.ManifestID] = &rec
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	rec, ok := s.manifests[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "manifest not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateReplica(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var update registry.ReplicaUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.manifests[id]
	if !ok {
		http.Error(w, "manifest not found", http.StatusNotFound)
		return
	}

	for _, idx := range update.ChunkIndexes {
		if idx < 0 || idx >= len(rec.ChunkReplicas) {
			continue
		}
		if !containsString(rec.ChunkReplicas[idx], update.PeerID) {
			rec.ChunkReplicas[idx] = append(rec.ChunkReplicas[idx], update.PeerID)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdatePointer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		http.Error(w, "invalid chunk index", http.StatusBadRequest)
		return
	}

	var update registry.PointerUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.manifests[id]
	if !ok {
		http.Error(w, "manifest not found", http.StatusNotFound)
		return
	}
	if index < 0 || index >= rec.ChunkCount {
		http.Error(w, "chunk index out of range", http.StatusUnprocessableEntity)
		return
	}

	if len(rec.ChunkPointers) != rec.ChunkCount {
		rec.ChunkPointers = make([]*string, rec.ChunkCount)
	}
	pointer := update.Pointer
	rec.ChunkPointers[index] = &pointer
	if update.RemoveData && len(rec.ChunkData) == rec.ChunkCount {
		rec.ChunkData[index] = nil
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegisterDomain(w http.ResponseWriter, r *http.Request) {
	var rec registry.DomainRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if rec.Domain == "" {
		http.Error(w, "domain is required", http.StatusUnprocessableEntity)
		return
	}
	domain, err := registry.NormalizeDomain(rec.Domain)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	rec.Domain = domain
	if rec.ManifestID == "" {
		rec.ManifestID = registry.DomainUnbound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.domains[rec.Domain]; exists {
		http.Error(w, "domain already registered", http.StatusConflict)
		return
	}

	if rec.ManifestID != registry.DomainUnbound {
		owner := identity.OwnerIDOf(rec.PublicKey)
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = time.Now()
		}
		if !identity.Verify(rec.PublicKey, registry.BindingPayload(rec.Domain, owner, rec.ManifestID, rec.UpdatedAt), rec.Signature) {
			http.Error(w, "domain binding signature does not verify", http.StatusUnauthorized)
			return
		}
		manifest, ok := s.manifests[rec.ManifestID]
		if !ok {
			http.Error(w, "manifest not found", http.StatusUnprocessableEntity)
			return
		}
		if !quorumMet(manifest) {
			http.Error(w, "replica quorum not met for manifest", http.StatusConflict)
			return
		}
		rec.Owner = owner
	} else {
		rec.Owner = ""
		rec.Signature = nil
		rec.PublicKey = nil
		rec.UpdatedAt = time.Now()
	}

	s.domains[rec.Domain] = &rec

	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(mux.Vars(r)["name"])

	s.mu.RLock()
	rec, ok := s.domains[name]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "domain not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateDomain(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(mux.Vars(r)["name"])

	var diff registry.DomainDiff
	if err := json.NewDecoder(r.Body).Decode(&diff); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.domains[name]
	if !ok {
		http.Error(w, "domain not found", http.StatusNotFound)
		return
	}

	if diff.ManifestID == nil {
		rec.UpdatedAt = time.Now()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Any transition to a new manifest (or owner) must be signed by the
	// key making the request, and — per invariant D1 — once a domain is
	// bound, only the current owner's key may move it again.
	if len(diff.Signature) == 0 || len(diff.PublicKey) == 0 {
		http.Error(w, "signature and public key are required to rebind a domain", http.StatusBadRequest)
		return
	}
	requester := identity.OwnerIDOf(diff.PublicKey)
	if diff.Timestamp.IsZero() {
		diff.Timestamp = time.Now()
	}
	if !identity.Verify(diff.PublicKey, registry.BindingPayload(name, requester, *diff.ManifestID, diff.Timestamp), diff.Signature) {
		http.Error(w, "domain binding signature does not verify", http.StatusUnauthorized)
		return
	}
	if rec.ManifestID != registry.DomainUnbound && rec.Owner != "" && requester != rec.Owner {
		http.Error(w, "only the current owner may rebind this domain", http.StatusForbidden)
		return
	}

	if *diff.ManifestID != registry.DomainUnbound {
		manifest, ok := s.manifests[*diff.ManifestID]
		if !ok {
			http.Error(w, "manifest not found", http.StatusUnprocessableEntity)
			return
		}
		if !quorumMet(manifest) {
			http.Error(w, "replica quorum not met for manifest", http.StatusConflict)
			return
		}
	}

	rec.ManifestID = *diff.ManifestID
	rec.Signature = diff.Signature
	rec.PublicKey = diff.PublicKey
	rec.Owner = requester
	rec.UpdatedAt = diff.Timestamp

	w.WriteHeader(http.StatusNoContent)
}

// quorumMet implements the registry's own independent policy check for
// invariant D1/INV-4: a manifest with no chunks is vacuously replicated,
// otherwise a peer counts toward quorum only once it holds every chunk,
// and the origin peer never counts — quorum means distinct remote
// replicas (spec.md glossary, §8 scenario 4).
func quorumMet(rec *registry.ManifestRecord) bool {
	if rec.ChunkCount == 0 {
		return true
	}
	if len(rec.ChunkReplicas) != rec.ChunkCount {
		return false
	}
	holds := make(map[string]int, len(rec.ChunkReplicas[0]))
	for _, peers := range rec.ChunkReplicas {
		seen := make(map[string]bool, len(peers))
		for _, peer := range peers {
			if seen[peer] {
				continue
			}
			seen[peer] = true
			holds[peer]++
		}
	}
	fullyReplicated := 0
	for peer, count := range holds {
		if peer == rec.OriginPeerID {
			continue
		}
		if count == rec.ChunkCount {
			fullyReplicated++
		}
	}
	return fullyReplicated >= config.AckQuorumDefault
}

func (s *Server) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(mux.Vars(r)["name"])

	s.mu.Lock()
	delete(s.domains, name)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]registry.DomainRecord, 0, len(s.domains))
	for _, rec := range s.domains {
		out = append(out, *rec)
	}
	writeJSON(w, http.StatusOK, struct {
		Domains []registry.DomainRecord `json:"domains"`
	}{out})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
