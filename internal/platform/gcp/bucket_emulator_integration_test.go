package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/price-summarizer/internal/platform/logger"
)

func TestBucketServiceEmulatorRoundTrip(t *testing.T) {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("PS_RUN_GCS_EMULATOR_INTEGRATION")), "true") {
		t.Skip("set PS_RUN_GCS_EMULATOR_INTEGRATION=true to run emulator integration tests")
	}

	emulatorHost := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST"))
	if emulatorHost == "" {
		emulatorHost = "http://127.0.0.1:4443"
	}
	emulatorHost = strings.TrimRight(emulatorHost, "/")

	if !isEmulatorReachable(t, emulatorHost) {
		t.Skipf("storage emulator not reachable at %s", emulatorHost)
	}

	suffix := time.Now().UnixNano()
	inputBucket := fmt.Sprintf("ps-it-input-%d", suffix)
	createBucketIfMissing(t, emulatorHost, inputBucket)
	t.Setenv("STORAGE_EMULATOR_HOST", emulatorHost)

	ctx := context.Background()
	bucket, err := NewBucketServiceWithConfig(ctx, logger.Nop(), ObjectStorageConfig{
		Mode:         ObjectStorageModeGCSEmulator,
		EmulatorHost: emulatorHost,
	})
	if err != nil {
		t.Fatalf("NewBucketServiceWithConfig: %v", err)
	}
	defer bucket.Close()

	key := fmt.Sprintf("it/%d/prices.csv", suffix)
	body := "year,brand,price\n2020,A,10\n"
	if err := bucket.Upload(ctx, inputBucket, key, strings.NewReader(body), ""); err != nil {
		t.Fatalf("Upload(%s): %v", key, err)
	}

	got, err := downloadWithRetry(ctx, bucket, inputBucket, key, 5*time.Second)
	if err != nil {
		t.Fatalf("downloadWithRetry(%s): %v", key, err)
	}
	if string(got) != body {
		t.Fatalf("download body: want=%q got=%q", body, string(got))
	}

	attrs, err := bucket.GetObjectAttrs(ctx, inputBucket, key)
	if err != nil {
		t.Fatalf("GetObjectAttrs: %v", err)
	}
	if attrs.Size != int64(len(body)) {
		t.Fatalf("attrs size: want=%d got=%d", len(body), attrs.Size)
	}

	var sink bytes.Buffer
	if _, err := bucket.Download(ctx, inputBucket, key+".missing", &sink); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Download(missing): want=ErrObjectNotFound got=%v", err)
	}
}

func isEmulatorReachable(t *testing.T, emulatorHost string) bool {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(emulatorHost + "/storage/v1/b?project=local-dev")
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func createBucketIfMissing(t *testing.T, emulatorHost string, bucket string) {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"name": bucket})
	if err != nil {
		t.Fatalf("json.Marshal(bucket): %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(
		http.MethodPost,
		emulatorHost+"/storage/v1/b?project=local-dev",
		bytes.NewReader(payload),
	)
	if err != nil {
		t.Fatalf("http.NewRequest(create bucket): %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("create bucket %q: %v", bucket, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusConflict {
		return
	}
	b, _ := io.ReadAll(resp.Body)
	t.Fatalf("create bucket %q failed: status=%d body=%s", bucket, resp.StatusCode, strings.TrimSpace(string(b)))
}

func downloadWithRetry(
	ctx context.Context,
	bucket BucketService,
	name string,
	key string,
	timeout time.Duration,
) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		var buf bytes.Buffer
		_, err := bucket.Download(ctx, name, key, &buf)
		if err == nil {
			return buf.Bytes(), nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return nil, lastErr
		}
		time.Sleep(100 * time.Millisecond)
	}
}
