package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bazobehram/dweb-hosting-network-sub000/internal/config"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/manifest"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/peersession"
)

func testConfig() *config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	cfg.AckTimeout = 60 * time.Millisecond
	cfg.MaxRetries = 3
	cfg.MaxInflight = 2
	return cfg
}

func buildTestTransfer(t *testing.T, n int) (*manifest.Manifest, *manifest.Transfer) {
	t.Helper()
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	man, xfer, err := manifest.Build("f.bin", "", data, 4)
	require.NoError(t, err)
	return man, xfer
}

// ackAllAsSent drives a goroutine that watches the fake session's sent
// uploads and immediately acks each one, simulating a cooperative peer.
func ackAllAsSent(t *testing.T, j *job, sess *peersession.FakeSession, stop <-chan struct{}) {
	t.Helper()
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
				j.onAck(up.ChunkIndex)
			}
		}
	}
}

func TestJobHappyPathAllChunksAcked(t *testing.T) {
	man, xfer := buildTestTransfer(t, 10) // 3 chunks of size 4
	sess := peersession.NewFakeSession("peer1")
	j := newJob(JobKey{ManifestID: man.ManifestID, PeerID: "peer1"}, sess, man, xfer, testConfig(), zap.NewNop(), nil)

	stop := make(chan struct{})
	go ackAllAsSent(t, j, sess, stop)
	defer close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res := j.run(ctx)
	assert.Len(t, res.acked, xfer.ChunkCount())
	assert.Empty(t, res.failed)
}

func TestJobNackHashMismatchEventuallyFails(t *testing.T) {
	man, xfer := buildTestTransfer(t, 4) // 1 chunk
	sess := peersession.NewFakeSession("peer1")
	cfg := testConfig()
	cfg.MaxRetries = 1
	j := newJob(JobKey{ManifestID: man.ManifestID, PeerID: "peer1"}, sess, man, xfer, cfg, zap.NewNop(), nil)

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		nacked := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if len(sess.SentJSON) > nacked {
					j.onNack(0, peersession.NackReasonHashMismatch)
					nacked = len(sess.SentJSON)
				}
			}
		}
	}()
	defer close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res := j.run(ctx)
	assert.Empty(t, res.acked)
	assert.Equal(t, []int{0}, res.failed)
}

func TestJobTimeoutRetriesThenFails(t *testing.T) {
	man, xfer := buildTestTransfer(t, 4) // 1 chunk, never acked
	sess := peersession.NewFakeSession("peer1")
	cfg := testConfig()
	cfg.MaxRetries = 2 // budget counts attempts: one send plus one retry
	cfg.AckTimeout = 20 * time.Millisecond
	j := newJob(JobKey{ManifestID: man.ManifestID, PeerID: "peer1"}, sess, man, xfer, cfg, zap.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res := j.run(ctx)
	assert.Empty(t, res.acked)
	assert.Equal(t, []int{0}, res.failed)
	assert.GreaterOrEqual(t, len(sess.SentJSON), 2) // initial attempt + at least one retry
}

func TestJobBackpressureDelaysSendUntilBufferDrains(t *testing.T) {
	man, xfer := buildTestTransfer(t, 4)
	sess := peersession.NewFakeSession("peer1")
	sess.SetBufferedAmount(1_000_000)
	j := newJob(JobKey{ManifestID: man.ManifestID, PeerID: "peer1"}, sess, man, xfer, testConfig(), zap.NewNop(), nil)

	done := make(chan struct{})
	go func() {
		time.Sleep(80 * time.Millisecond)
		assert.Empty(t, sess.SentJSON, "must not send while backpressured")
		sess.SetBufferedAmount(0)
		close(done)
	}()

	stop := make(chan struct{})
	go ackAllAsSent(t, j, sess, stop)
	defer close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res := j.run(ctx)

	<-done
	assert.Len(t, res.acked, 1)
}

func TestJobSessionClosedRetriesInFlightSlots(t *testing.T) {
	man, xfer := buildTestTransfer(t, 4)
	sess := peersession.NewFakeSession("peer1")
	cfg := testConfig()
	cfg.MaxRetries = 2
	j := newJob(JobKey{ManifestID: man.ManifestID, PeerID: "peer1"}, sess, man, xfer, cfg, zap.NewNop(), nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		j.onSessionClosed()
		time.Sleep(5 * time.Millisecond)
		j.onAck(0)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res := j.run(ctx)
	assert.Equal(t, []int{0}, res.acked)
}
