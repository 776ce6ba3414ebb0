package attachments

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCleanFileName(t *testing.T) {
	cases := map[string]string{
		"report.pdf":            "report.pdf",
		"../../etc/passwd":      "passwd",
		`C:\Users\me\plan.xlsx`: "plan.xlsx",
		"my file (final).docx":  "my_file_final_.docx",
		"":                      "file",
		"...":                   "file",
	}
	for in, want := range cases {
		if got := CleanFileName(in); got != want {
			t.Errorf("CleanFileName(%q) = %q, want %q", in, got, want)
		}
	}
	if got := CleanFileName(strings.Repeat("a", 300) + ".txt"); len(got) != 120 || !strings.HasSuffix(got, ".txt") {
		t.Fatalf("long names must keep their extension, got %d chars", len(got))
	}
}

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("t1", "a1", "../x y.png"); got != "tasks/t1/a1/x_y.png" {
		t.Fatalf("ObjectKey = %q", got)
	}
}

func TestDisabledStore(t *testing.T) {
	var store ObjectStore = Disabled{}
	ctx := context.Background()
	if err := store.Put(ctx, "k", strings.NewReader("x"), 1, "text/plain"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Put = %v", err)
	}
	if _, err := store.URL(ctx, "k", "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("URL = %v", err)
	}
	if err := store.Remove(ctx, "k"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Remove = %v", err)
	}
}

func TestMinioStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping object storage test in short mode")
	}
	endpoint := os.Getenv("TASKFLOW_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("TASKFLOW_TEST_S3_ENDPOINT is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	store, err := NewMinioStore(ctx, Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("TASKFLOW_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("TASKFLOW_TEST_S3_SECRET_KEY"),
		Bucket:    "taskflow-test-" + uuid.NewString()[:8],
	}, nil)
	if err != nil {
		t.Fatalf("NewMinioStore: %v", err)
	}

	key := ObjectKey("t1", uuid.NewString(), "notes.txt")
	body := "sprint retro notes"
	if err := store.Put(ctx, key, strings.NewReader(body), int64(len(body)), "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	link, err := store.URL(ctx, key, "notes.txt")
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	resp, err := http.Get(link)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	if err := store.Remove(ctx, key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}
