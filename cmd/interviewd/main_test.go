package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/hireloop/interviewd/pkg/gateway/config"
	"github.com/hireloop/interviewd/pkg/interview/brain"
	"github.com/hireloop/interviewd/pkg/interview/session"
	"github.com/hireloop/interviewd/pkg/store"
)

func TestRunMainReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, appDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		openStore: func(context.Context, config.Config) (store.Store, func(), error) {
			t.Fatal("openStore should not be called when config load fails")
			return nil, nil, nil
		},
		newGenerator: func(context.Context, config.Config) (*brain.Generator, error) {
			t.Fatal("newGenerator should not be called when config load fails")
			return nil, nil
		},
		signalNotify: func(chan<- os.Signal, ...os.Signal) {},
		signalStop:   func(chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if stderr.String() == "" {
		t.Fatal("expected stderr output for startup error")
	}
}

func TestBuildHTTPServerUsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}

func TestOpenStoreDefaultsToMemory(t *testing.T) {
	t.Parallel()

	st, closeStore, err := openStore(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeStore()
	if _, ok := st.(*store.Memory); !ok {
		t.Fatalf("store is %T, want *store.Memory", st)
	}
}

func TestUpstreamFactoryModes(t *testing.T) {
	t.Parallel()

	pipelineCfg := config.Config{
		UpstreamMode: config.UpstreamPipeline,
		STTAPIKey:    "k",
		TTSAPIKey:    "k",
	}
	factory := newUpstreamFactory(pipelineCfg, nil)
	sess := &store.Session{Role: "SRE", DurationMinutes: 30}
	up, mode, err := factory(context.Background(), sess)
	if err != nil {
		t.Fatalf("pipeline factory: %v", err)
	}
	defer up.Close()
	if mode != session.ModePipeline {
		t.Fatalf("mode=%v, want pipeline", mode)
	}
}
