package sink

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/bft-labs/sqlreplay/internal/domain"
)

func TestFileSink_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "latencies")
	s, err := CreateFile(path)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	err = s.Write([]domain.LatencySample{
		{DurationMicros: 70123},
		{DurationMicros: 42, Category: "read"},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got, want := string(b), "70123\nread,42\n"; got != want {
		t.Errorf("contents = %q, want %q", got, want)
	}
	if s.Count() != 2 {
		t.Errorf("Count = %d, want 2", s.Count())
	}
	if err := s.Write(nil); err == nil {
		t.Error("Write after Close error = nil, want error")
	}
}

func TestFileSink_ConcurrentSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latencies")
	s, err := CreateFile(path)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			batch := make([]domain.LatencySample, 50)
			for i := range batch {
				batch[i] = domain.LatencySample{DurationMicros: int64(w)}
			}
			if err := s.Write(batch); err != nil {
				t.Errorf("Write: %v", err)
			}
		}(w)
	}
	wg.Wait()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 400 {
		t.Fatalf("lines = %d, want 400", len(lines))
	}
	// Each session's batch is contiguous.
	for i := 0; i < len(lines); i += 50 {
		block := append([]string(nil), lines[i:i+50]...)
		sort.Strings(block)
		if block[0] != block[49] {
			t.Errorf("block at %d interleaves sessions: %v..%v", i, block[0], block[49])
		}
	}
}

func TestParseS3Ref(t *testing.T) {
	tests := []struct {
		ref        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{ref: "s3://bench/runs/a.lat", wantBucket: "bench", wantKey: "runs/a.lat"},
		{ref: "bench/runs/a.lat", wantErr: true},
		{ref: "s3://bench", wantErr: true},
		{ref: "s3://bench/", wantErr: true},
		{ref: "s3:///key", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			bucket, key, err := ParseS3Ref(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseS3Ref(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
			if bucket != tt.wantBucket || key != tt.wantKey {
				t.Errorf("ParseS3Ref(%q) = %q, %q, want %q, %q", tt.ref, bucket, key, tt.wantBucket, tt.wantKey)
			}
		})
	}
}

func TestUploadFile_BadRef(t *testing.T) {
	u, err := NewS3Uploader(context.Background(), S3Config{
		Endpoint:  "127.0.0.1:9",
		AccessKey: "key",
		SecretKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3Uploader: %v", err)
	}
	if err := u.UploadFile(context.Background(), "unused", "not-a-ref"); err == nil {
		t.Error("UploadFile error = nil, want bad ref error")
	}
}
