package convert

import (
	"errors"
	"testing"

	"github.com/yungbote/price-summarizer/internal/events"
)

func TestOutputNaming(t *testing.T) {
	n := DefaultNaming()
	out, err := n.Output(events.ObjectRef{Bucket: "prices-input-dev", Key: "2024/q1.csv"})
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if out.Bucket != "prices-output-dev" || out.Key != "2024/q1.json" {
		t.Fatalf("Output: want=%s got=%s", "prices-output-dev/2024/q1.json", out.String())
	}
}

func TestOutputNamingExplicitBucket(t *testing.T) {
	n := Naming{OutputBucket: "summaries"}
	out, err := n.Output(events.ObjectRef{Bucket: "anything", Key: "a.CSV"})
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if out.Bucket != "summaries" || out.Key != "a.json" {
		t.Fatalf("Output: got=%s", out.String())
	}
}

func TestOutputNamingUnresolved(t *testing.T) {
	cases := []struct {
		name   string
		naming Naming
		bucket string
	}{
		{"no marker in bucket", DefaultNaming(), "prices"},
		{"explicit equals input", Naming{OutputBucket: "prices"}, "prices"},
		{"no marker configured", Naming{}, "prices-input-dev"},
	}
	for _, tc := range cases {
		if _, err := tc.naming.OutputBucketFor(tc.bucket); !errors.Is(err, ErrOutputBucketUnresolved) {
			t.Fatalf("%s: want=ErrOutputBucketUnresolved got=%v", tc.name, err)
		}
	}
}

func TestReplaceExt(t *testing.T) {
	cases := map[string]string{
		"a.csv":           "a.json",
		"dir.csv/b.CSV":   "dir.csv/b.json",
		"x.csv.csv":       "x.csv.json",
		"no-extension":    "no-extension.json",
		"2024/preços.csv": "2024/preços.json",
	}
	for in, want := range cases {
		if got := ReplaceExt(in, ".json"); got != want {
			t.Fatalf("ReplaceExt(%q): want=%q got=%q", in, want, got)
		}
	}
	if got := ChartKey("a/b.csv"); got != "a/b.png" {
		t.Fatalf("ChartKey: got=%q", got)
	}
}
