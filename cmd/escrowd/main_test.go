package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"Provability/client"
	"Provability/internal/address"
	"Provability/internal/api"
	"Provability/internal/attestation"
	"Provability/internal/commitment"
	"Provability/internal/enclave"
	"Provability/internal/escrow"
	"Provability/internal/genesis"
	"Provability/internal/protocol"
	"Provability/internal/storage"
)

var testLabels = []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrowd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data: /var/lib/escrowd
rate-limit: 5
genesis:
  - address: "0101010101010101010101010101010101010101010101010101010101010101"
    balance: 1000
`), 0o600))

	t.Setenv("ESCROWD_HTTP", "127.0.0.1:9999")
	t.Setenv("ESCROWD_LOG_LEVEL", "debug")

	a := &app{v: newViper()}
	cmd := &cobra.Command{}
	cmd.Flags().String("config", path, "")

	require.NoError(t, a.load(cmd))

	require.Equal(t, "/var/lib/escrowd", a.cfg.Data)
	require.Equal(t, "127.0.0.1:9999", a.cfg.HTTP)
	require.Equal(t, "debug", a.cfg.LogLevel)
	require.Equal(t, 5.0, a.cfg.RateLimit)
	require.Equal(t, 100, a.cfg.RateBurst)
	require.True(t, a.cfg.Metrics)
	require.Len(t, a.cfg.Genesis, 1)
	require.Equal(t, uint64(1000), a.cfg.Genesis[0].Balance)

	_, err := genesis.Parse(a.cfg.Genesis)
	require.NoError(t, err)
}

func TestConfigMissingExplicitFile(t *testing.T) {
	a := &app{v: newViper()}
	cmd := &cobra.Command{}
	cmd.Flags().String("config", filepath.Join(t.TempDir(), "absent.yaml"), "")

	require.Error(t, a.load(cmd))
}

func TestKeygenRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.key")

	out, err := runCmd(t, "keygen", "wallet", path)
	require.NoError(t, err)

	w, err := loadWallet(path)
	require.NoError(t, err)
	require.Equal(t, w.Address().String(), strings.TrimSpace(out))

	_, err = runCmd(t, "keygen", "wallet", path)
	require.Error(t, err)

	attesterPath := filepath.Join(t.TempDir(), "attester.key")
	out, err = runCmd(t, "keygen", "attester", attesterPath)
	require.NoError(t, err)

	key, err := loadAttester(attesterPath)
	require.NoError(t, err)
	require.Equal(t, key.Identity().String(), strings.TrimSpace(out))
}

// TestCommitMatchesEnclave verifies the published commitments are what the enclave checks.
func TestCommitMatchesEnclave(t *testing.T) {
	seed := [32]byte{9}

	c, err := commit(testLabels, seed, 1, protocol.U128(500))
	require.NoError(t, err)

	require.Len(t, c.TrainIndices, 8)
	require.Len(t, c.TestLabels, 2)
	require.Equal(t, uint32(2), c.N)

	for i, idx := range c.TestIndices {
		require.Equal(t, testLabels[idx], c.TestLabels[i])
	}

	testset, evalSpec := enclave.Commitments(c.TestLabels, 1, protocol.U128(500))
	require.Equal(t, testset, c.TestsetCommitment)
	require.Equal(t, evalSpec, c.EvalSpecHash)

	again, err := commit(testLabels, seed, 1, protocol.U128(500))
	require.NoError(t, err)
	require.Equal(t, c, again)

	_, err = commit(nil, seed, 1, protocol.U128(500))
	require.Error(t, err)
}

func TestCommitCommand(t *testing.T) {
	dir := t.TempDir()
	labels := filepath.Join(dir, "labels.json")
	out := filepath.Join(dir, "commit.json")

	raw, _ := json.Marshal(testLabels)
	require.NoError(t, os.WriteFile(labels, raw, 0o600))

	_, err := runCmd(t, "commit", "--labels", labels, "--t2", "12345", "--scale", "10", "-o", out)
	require.NoError(t, err)

	var c Commitment
	require.NoError(t, readJSON(out, &c))
	require.Equal(t, protocol.U128(12345), c.ThresholdT2)
	require.Equal(t, uint32(10), c.Scale)
	require.Len(t, c.Seed, 64)
}

func TestSnapshotExportImport(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	dst := filepath.Join(t.TempDir(), "dst")
	file := filepath.Join(t.TempDir(), "ledger.snap")

	holder := address.Address{1}

	db, err := storage.New(src)
	require.NoError(t, err)
	_, err = escrow.New(db, attestation.NewMock()).ApplyGenesis([32]byte{1}, []escrow.Allocation{{Account: holder, Balance: 77}})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, exportSnapshot(src, file))
	require.NoError(t, importSnapshot(dst, file))

	db, err = storage.New(dst)
	require.NoError(t, err)
	defer db.Close()

	bal, err := escrow.New(db, attestation.NewMock()).Balance(holder)
	require.NoError(t, err)
	require.Equal(t, uint64(77), bal)
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, Config{
			Data:     filepath.Join(t.TempDir(), "db"),
			HTTP:     "127.0.0.1:0",
			Verifier: "bls",
			Genesis:  []genesis.Allocation{{Address: address.Address{1}.String(), Balance: 5}},
		})
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestUnknownVerifier(t *testing.T) {
	_, err := newVerifier("trust-me", "127.0.0.1:8080")
	require.Error(t, err)
}

func TestMockVerifierNeedsLoopback(t *testing.T) {
	for _, addr := range []string{"127.0.0.1:8080", "[::1]:8080", "localhost:0"} {
		_, err := newVerifier("mock", addr)
		require.NoError(t, err, addr)
	}

	for _, addr := range []string{":8080", "0.0.0.0:8080", "10.1.2.3:8080", "example.com:80", "garbage"} {
		_, err := newVerifier("mock", addr)
		require.Error(t, err, addr)
	}

	_, err := newVerifier("bls", ":8080")
	require.NoError(t, err)
}

// TestAttestFinalizes runs commit, submit, attest and finalize against a live API.
func TestAttestFinalizes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{BlobDir: filepath.Join(dir, "blobs")}

	creator, solver := client.NewWallet(), client.NewWallet()

	solverKey := filepath.Join(dir, "solver.key")
	require.NoError(t, os.WriteFile(solverKey, []byte(hex.EncodeToString(solver.Seed())), 0o600))

	attesterKey := filepath.Join(dir, "attester.key")
	_, err := writeSeed(attesterKey)
	require.NoError(t, err)

	key, err := loadAttester(attesterKey)
	require.NoError(t, err)

	db, err := storage.New(filepath.Join(dir, "db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	eng := escrow.New(db, attestation.NewBLSVerifier())
	_, err = eng.ApplyGenesis([32]byte{1}, []escrow.Allocation{{Account: creator.Address(), Balance: 1_000}})
	require.NoError(t, err)

	srv := httptest.NewServer(api.New("", eng).Handler())
	t.Cleanup(srv.Close)
	node := client.New(srv.URL)

	c, err := commit(testLabels, [32]byte{3}, 1, protocol.U128(1_000))
	require.NoError(t, err)

	commitPath := filepath.Join(dir, "commit.json")
	raw, _ := json.Marshal(c)
	require.NoError(t, os.WriteFile(commitPath, raw, 0o600))

	p, err := bountyParams(*c, "", key.Identity().String(), "")
	require.NoError(t, err)
	p.Amount = 600
	p.DeadlineTs = time.Now().Add(time.Hour).Unix()

	created, err := creator.CreateBounty(ctx, node, p)
	require.NoError(t, err)

	// Each prediction is off by 10, so sse = 200 <= t2*n = 2000.
	preds := []int64{c.TestLabels[0] + 10, c.TestLabels[1] - 10}
	predsRaw, _ := json.Marshal(preds)

	store, err := blobStore(cfg)
	require.NoError(t, err)
	uri, err := store.Put(ctx, predsRaw)
	require.NoError(t, err)

	submitted, err := solver.Submit(ctx, node, created.Bounty.Address, commitment.PredsHash(preds), uri)
	require.NoError(t, err)

	out, err := attest(ctx, cfg, attestOptions{
		node:           srv.URL,
		bounty:         created.Bounty.Address.String(),
		submission:     submitted.Submission.Address.String(),
		commitmentPath: commitPath,
		keyPath:        attesterKey,
		ttl:            600,
		walletPath:     solverKey,
	})
	require.NoError(t, err)

	require.True(t, out.Pass)
	require.Equal(t, uint64(200), out.SSE)
	require.NotNil(t, out.Finalized)
	require.Equal(t, uint64(600), out.Finalized.Paid)

	bal, err := node.Balance(ctx, solver.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(600), bal)
}
