// Command originnode runs a single publish cycle: build a manifest from
// an input file, register it with the registry, replicate its chunks to
// a set of peer sessions, and bind a domain once quorum is reached.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bazobehram/dweb-hosting-network-sub000/internal/config"
	"github.com/bazobehram/dweb-hosting-network-sub000/internal/logging"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/identity"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/metrics"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/peersession"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/publication"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/registry"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/scheduler"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/storage"
)

func main() {
	inputFile := flag.String("input", "", "file to publish")
	domain := flag.String("domain", "", "domain name to bind once replication quorum is met")
	dataDir := flag.String("data", "./data", "directory to store/load this node's identity")
	chunkSize := flag.Int("chunksize", 256*1024, "chunk size in bytes")
	registryURL := flag.String("registry", "http://localhost:8081", "registry service base URL")
	storageURL := flag.String("storage", "", "storage service base URL (enables fallback upload when set)")
	peerAddrs := flag.String("peers", "", "comma-separated ws:// addresses of peers to replicate to")
	manual := flag.Bool("manual", false, "use manual peer selection instead of automatic scoring")
	debug := flag.Bool("debug", false, "enable verbose development logging")
	flag.Parse()

	if *inputFile == "" {
		fmt.Println("Error: -input is required")
		flag.Usage()
		os.Exit(1)
	}
	if *domain == "" {
		fmt.Println("Error: -domain is required")
		flag.Usage()
		os.Exit(1)
	}

	if err := os.MkdirAll(*dataDir, 0700); err != nil {
		fmt.Printf("Error creating data directory: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(*debug)
	if err != nil {
		fmt.Printf("Error building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	id, err := loadOrCreateIdentity(*dataDir)
	if err != nil {
		logger.Sugar().Fatalf("identity: %v", err)
	}

	data, err := os.ReadFile(*inputFile)
	if err != nil {
		logger.Sugar().Fatalf("read input file: %v", err)
	}

	cfg := config.DefaultEngineConfig()
	cfg.RegistryBaseURL = *registryURL
	cfg.StorageBaseURL = *storageURL
	cfg.UploadChunksToStorage = *storageURL != ""
	cfg.AutoReplicaSelection = !*manual
	if err := cfg.Validate(); err != nil {
		logger.Sugar().Fatalf("invalid config: %v", err)
	}

	regClient := registry.NewClient(cfg.RegistryBaseURL, cfg.RegistryAPIKey, nil)

	var storageClient *storage.Client
	if cfg.UploadChunksToStorage {
		storageClient = storage.NewClient(cfg.StorageBaseURL, cfg.StorageAPIKey, nil)
	}

	provider := newSessionSet()
	candidates := dialPeers(logger, provider, *peerAddrs)

	m := metrics.New(nil)
	sched := scheduler.New(cfg, logger, m, provider, regClient, storageClient)
	for _, sess := range provider.all() {
		sess.SetListener(sched)
	}

	ctrl := publication.New(cfg, logger, regClient, sched)

	mode := scheduler.ModeAuto
	var manualIDs []string
	if *manual {
		mode = scheduler.ModeManual
		manualIDs = provider.peerIDs()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := ctrl.Publish(ctx, id, filepath.Base(*inputFile), "", data, *chunkSize, *domain, mode, candidates, manualIDs)
	if err != nil {
		logger.Sugar().Fatalf("publish failed: %v", err)
	}

	fmt.Printf("manifest %s outcome=%s domain=%s\n", res.ManifestID, res.Outcome, res.Domain)
}

func loadOrCreateIdentity(dataDir string) (*identity.Identity, error) {
	entries, err := os.ReadDir(filepath.Join(dataDir, "identities"))
	if err == nil {
		for _, e := range entries {
			ownerID := strings.TrimSuffix(e.Name(), ".json")
			id, err := identity.Load(dataDir, ownerID)
			if err == nil {
				return id, nil
			}
		}
	}

	id, err := identity.CreateIdentity()
	if err != nil {
		return nil, err
	}
	if err := identity.Store(dataDir, id); err != nil {
		return nil, err
	}
	return id, nil
}

// sessionSet is a SessionProvider backed by dialed websocket connections,
// satisfying both scheduler.SessionProvider and retriever.SessionProvider.
type sessionSet struct {
	sessions map[string]*peersession.WebsocketSession
}

func newSessionSet() *sessionSet {
	return &sessionSet{sessions: make(map[string]*peersession.WebsocketSession)}
}

func (s *sessionSet) Session(peerID string) (peersession.Session, bool) {
	sess, ok := s.sessions[peerID]
	return sess, ok
}

func (s *sessionSet) all() []*peersession.WebsocketSession {
	out := make([]*peersession.WebsocketSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *sessionSet) peerIDs() []string {
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}

func dialPeers(logger *zap.Logger, set *sessionSet, peerAddrs string) []scheduler.Peer {
	var candidates []scheduler.Peer
	if peerAddrs == "" {
		return candidates
	}

	for _, addr := range strings.Split(peerAddrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		u, err := url.Parse(addr)
		if err != nil {
			logger.Warn("invalid peer address", zap.String("addr", addr), zap.Error(err))
			continue
		}
		peerID := u.Fragment
		if peerID == "" {
			peerID = u.Host
		}

		conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
		if err != nil {
			logger.Warn("dial peer failed", zap.String("addr", addr), zap.Error(err))
			continue
		}

		sess := peersession.NewWebsocketSession(peerID, conn, nil)
		set.sessions[peerID] = sess
		candidates = append(candidates, scheduler.Peer{PeerID: peerID, LastSeen: time.Now()})
	}
	return candidates
}
