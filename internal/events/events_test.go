package events

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeS3Notification(t *testing.T) {
	body := `{
	  "Records": [{
	    "eventName": "ObjectCreated:Put",
	    "s3": {
	      "bucket": {"name": "prices-input-dev"},
	      "object": {"key": "uploads/tabela+fipe%C3%A7.csv"}
	    }
	  }]
	}`
	ref, err := Decode([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, ObjectRef{Bucket: "prices-input-dev", Key: "uploads/tabela fipeç.csv", Source: SourceS3}, ref)
}

func TestDecodeS3NotificationVersion(t *testing.T) {
	cases := []struct {
		object string
		want   string
	}{
		{`{"key":"p.csv","versionId":"3HL4kqtJ","sequencer":"0055AED6DCD90281E5","eTag":"d41d8cd9"}`, "v:3HL4kqtJ"},
		{`{"key":"p.csv","sequencer":"0055AED6DCD90281E5","eTag":"d41d8cd9"}`, "s:0055AED6DCD90281E5"},
		{`{"key":"p.csv","eTag":"d41d8cd9"}`, "e:d41d8cd9"},
		{`{"key":"p.csv"}`, ""},
	}
	for _, tc := range cases {
		body := `{"Records":[{"s3":{"bucket":{"name":"in"},"object":` + tc.object + `}}]}`
		ref, err := Decode([]byte(body))
		require.NoError(t, err)
		if ref.Version != tc.want {
			t.Fatalf("Version(%s): want=%q got=%q", tc.object, tc.want, ref.Version)
		}
		if ref.Deduplicable() != (tc.want != "") {
			t.Fatalf("Deduplicable(%s): got=%v", tc.object, ref.Deduplicable())
		}
	}
}

func TestObjectRefDeduplicable(t *testing.T) {
	cases := []struct {
		name string
		ref  ObjectRef
		want bool
	}{
		{"gcs generation", ObjectRef{Bucket: "b", Key: "k", Generation: 7, Source: SourceGCS}, true},
		{"s3 sequencer", ObjectRef{Bucket: "b", Key: "k", Version: "s:01", Source: SourceS3}, true},
		{"unversioned", ObjectRef{Bucket: "b", Key: "k", Source: SourceS3}, false},
		{"direct with generation", ObjectRef{Bucket: "b", Key: "k", Generation: 7, Source: SourceDirect}, false},
	}
	for _, tc := range cases {
		if got := tc.ref.Deduplicable(); got != tc.want {
			t.Fatalf("%s: want=%v got=%v", tc.name, tc.want, got)
		}
	}
	assert.Equal(t, "7", ObjectRef{Generation: 7, Version: "s:01"}.VersionTag())
}

func TestDecodeS3NotificationWithoutRecords(t *testing.T) {
	_, err := Decode([]byte(`{"Records": []}`))
	assert.True(t, errors.Is(err, ErrMissingObject))
}

func TestDecodeGCSObject(t *testing.T) {
	ref, err := Decode([]byte(`{"kind":"storage#object","bucket":"prices-input-dev","name":"a/b.csv","generation":"1712345678901234"}`))
	require.NoError(t, err)
	assert.Equal(t, "prices-input-dev", ref.Bucket)
	assert.Equal(t, "a/b.csv", ref.Key)
	assert.Equal(t, int64(1712345678901234), ref.Generation)
	assert.Equal(t, SourceGCS, ref.Source)
}

func TestDecodePubSubAttributes(t *testing.T) {
	body := `{"message":{"attributes":{"bucketId":"in","objectId":"x.csv","objectGeneration":"7"},"data":""},"subscription":"projects/p/subscriptions/s"}`
	ref, err := Decode([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, ObjectRef{Bucket: "in", Key: "x.csv", Generation: 7, Source: SourcePubSub}, ref)
}

func TestDecodePubSubData(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte(`{"bucket":"in","name":"y.csv","generation":3}`))
	ref, err := Decode([]byte(`{"message":{"data":"` + data + `"}}`))
	require.NoError(t, err)
	assert.Equal(t, ObjectRef{Bucket: "in", Key: "y.csv", Generation: 3, Source: SourcePubSub}, ref)
}

func TestDecodePubSubBadData(t *testing.T) {
	_, err := Decode([]byte(`{"message":{"data":"%%%"}}`))
	assert.True(t, errors.Is(err, ErrUnsupportedEvent))
}

func TestDecodeCloudEvent(t *testing.T) {
	body := `{
	  "specversion": "1.0",
	  "type": "google.cloud.storage.object.v1.finalized",
	  "source": "//storage.googleapis.com/projects/_/buckets/in",
	  "subject": "objects/z.csv",
	  "data": {"bucket": "in", "name": "z.csv"}
	}`
	ref, err := Decode([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, ObjectRef{Bucket: "in", Key: "z.csv", Source: SourceCloudEvent}, ref)
}

func TestDecodeCloudEventFallsBackToSubject(t *testing.T) {
	body := `{"specversion":"1.0","source":"//storage.googleapis.com/projects/_/buckets/in","subject":"objects/dir/z.csv"}`
	ref, err := Decode([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "in", ref.Bucket)
	assert.Equal(t, "dir/z.csv", ref.Key)
}

func TestDecodeDirect(t *testing.T) {
	ref, err := Decode([]byte(`{"bucket":" in ","key":"k.csv"}`))
	require.NoError(t, err)
	assert.Equal(t, ObjectRef{Bucket: "in", Key: "k.csv", Source: SourceDirect}, ref)

	_, err = Decode([]byte(`{"bucket":"in"}`))
	assert.True(t, errors.Is(err, ErrMissingObject))
}

func TestDecodeUnsupported(t *testing.T) {
	for _, body := range []string{"", "   ", "[]", "not json", `{"hello":"world"}`, `{"broken":`} {
		_, err := Decode([]byte(body))
		if !errors.Is(err, ErrUnsupportedEvent) {
			t.Fatalf("Decode(%q): want=ErrUnsupportedEvent got=%v", body, err)
		}
	}
}
