package state

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestDefaultNATSStoreConfig(t *testing.T) {
	cfg := DefaultNATSStoreConfig()
	if cfg.Bucket != "devsupport" {
		t.Errorf("Bucket = %q", cfg.Bucket)
	}
	if cfg.History != 1 {
		t.Errorf("History = %d", cfg.History)
	}
	if cfg.MaxValueSize != 1024*1024 {
		t.Errorf("MaxValueSize = %d", cfg.MaxValueSize)
	}
}

func TestDefaultNATSConnConfig(t *testing.T) {
	cfg := DefaultNATSConnConfig()
	if cfg.URL != nats.DefaultURL {
		t.Errorf("URL = %q", cfg.URL)
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v", cfg.ConnectTimeout)
	}
}

func TestNewNATSStore_NilConn(t *testing.T) {
	_, err := NewNATSStore(context.Background(), NATSStoreConfig{})
	if err == nil {
		t.Fatal("expected error for nil connection")
	}
}

func TestConnectNATS_Unreachable(t *testing.T) {
	_, err := ConnectNATS(NATSConnConfig{
		URL:            "nats://127.0.0.1:1",
		ConnectTimeout: 200 * time.Millisecond,
		MaxReconnects:  -1,
	})
	if err == nil {
		t.Fatal("expected connect error")
	}
}

func TestWithTimeout_KeepsCallerDeadline(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	ctx, cancel2 := withTimeout(parent, time.Millisecond)
	defer cancel2()

	want, _ := parent.Deadline()
	got, _ := ctx.Deadline()
	if !got.Equal(want) {
		t.Errorf("deadline = %v, want caller's %v", got, want)
	}

	ctx3, cancel3 := withTimeout(context.Background(), time.Minute)
	defer cancel3()
	if _, ok := ctx3.Deadline(); !ok {
		t.Error("expected a deadline when the caller has none")
	}
}
