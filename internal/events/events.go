// Package events turns storage notifications into the object they point at.
package events

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported event payload")
	ErrMissingObject    = errors.New("event does not name a bucket and key")
)

type Source string

const (
	SourceS3         Source = "s3"
	SourceGCS        Source = "gcs"
	SourcePubSub     Source = "pubsub"
	SourceCloudEvent Source = "cloudevent"
	SourceDirect     Source = "direct"
	SourceQueue      Source = "amqp"
)

// ObjectRef names one object in a bucket. Generation is the GCS object
// generation; Version is the opaque S3 version (versionId, sequencer or eTag).
type ObjectRef struct {
	Bucket     string `json:"bucket"`
	Key        string `json:"key"`
	Generation int64  `json:"generation,omitempty"`
	Version    string `json:"version,omitempty"`
	Source     Source `json:"source,omitempty"`
}

// VersionTag identifies the object version, or is empty when the trigger did
// not say which upload it refers to.
func (o ObjectRef) VersionTag() string {
	if o.Generation > 0 {
		return strconv.FormatInt(o.Generation, 10)
	}
	return strings.TrimSpace(o.Version)
}

// Deduplicable reports whether repeats of this ref are redeliveries of one
// upload. Direct requests and unversioned notifications are always reprocessed.
func (o ObjectRef) Deduplicable() bool {
	return o.Source != SourceDirect && o.VersionTag() != ""
}

func (o ObjectRef) String() string {
	return fmt.Sprintf("%s/%s", o.Bucket, o.Key)
}

func (o ObjectRef) Valid() bool {
	return strings.TrimSpace(o.Bucket) != "" && strings.TrimSpace(o.Key) != ""
}

type s3Notification struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key       string `json:"key"`
				VersionID string `json:"versionId"`
				ETag      string `json:"eTag"`
				Sequencer string `json:"sequencer"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

type gcsObject struct {
	Kind       string          `json:"kind"`
	Bucket     string          `json:"bucket"`
	Name       string          `json:"name"`
	Generation json.RawMessage `json:"generation"`
}

type pubsubPush struct {
	Message *struct {
		Attributes map[string]string `json:"attributes"`
		Data       string            `json:"data"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type cloudEvent struct {
	SpecVersion string          `json:"specversion"`
	Type        string          `json:"type"`
	Source      string          `json:"source"`
	Subject     string          `json:"subject"`
	Data        json.RawMessage `json:"data"`
}

type directRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Decode recognizes S3 notifications, GCS object resources, Pub/Sub push
// envelopes, structured CloudEvents and plain {"bucket","key"} requests.
func Decode(body []byte) (ObjectRef, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return ObjectRef{}, ErrUnsupportedEvent
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return ObjectRef{}, fmt.Errorf("%w: %v", ErrUnsupportedEvent, err)
	}

	switch {
	case has(fields, "Records"):
		return decodeS3(body)
	case has(fields, "message"):
		return decodePubSub(body)
	case has(fields, "specversion"):
		return decodeCloudEvent(body)
	case has(fields, "name") && has(fields, "bucket"):
		ref, err := decodeGCSObject(body)
		ref.Source = SourceGCS
		return ref, err
	case has(fields, "bucket") || has(fields, "key"):
		var req directRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return ObjectRef{}, fmt.Errorf("%w: %v", ErrUnsupportedEvent, err)
		}
		ref := ObjectRef{Bucket: strings.TrimSpace(req.Bucket), Key: strings.TrimSpace(req.Key), Source: SourceDirect}
		return checked(ref)
	default:
		return ObjectRef{}, ErrUnsupportedEvent
	}
}

func has(m map[string]json.RawMessage, k string) bool {
	_, ok := m[k]
	return ok
}

func checked(ref ObjectRef) (ObjectRef, error) {
	if !ref.Valid() {
		return ref, ErrMissingObject
	}
	return ref, nil
}

func decodeS3(body []byte) (ObjectRef, error) {
	var n s3Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return ObjectRef{}, fmt.Errorf("%w: %v", ErrUnsupportedEvent, err)
	}
	if len(n.Records) == 0 {
		return ObjectRef{Source: SourceS3}, ErrMissingObject
	}
	rec := n.Records[0]
	key, err := unescapeS3Key(rec.S3.Object.Key)
	if err != nil {
		return ObjectRef{Source: SourceS3}, fmt.Errorf("%w: object key %q: %v", ErrMissingObject, rec.S3.Object.Key, err)
	}
	return checked(ObjectRef{Bucket: rec.S3.Bucket.Name, Key: key, Version: s3Version(rec.S3.Object.VersionID, rec.S3.Object.Sequencer, rec.S3.Object.ETag), Source: SourceS3})
}

// The sequencer orders PUTs on one key and is stable across redeliveries of
// the same event, so it stands in for versionId on unversioned buckets.
func s3Version(versionID, sequencer, etag string) string {
	switch {
	case strings.TrimSpace(versionID) != "":
		return "v:" + strings.TrimSpace(versionID)
	case strings.TrimSpace(sequencer) != "":
		return "s:" + strings.TrimSpace(sequencer)
	case strings.TrimSpace(etag) != "":
		return "e:" + strings.TrimSpace(etag)
	}
	return ""
}

// S3 notifications URL-encode object keys with '+' for spaces.
func unescapeS3Key(k string) (string, error) {
	return url.QueryUnescape(k)
}

func decodeGCSObject(body []byte) (ObjectRef, error) {
	var obj gcsObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return ObjectRef{}, fmt.Errorf("%w: %v", ErrUnsupportedEvent, err)
	}
	return checked(ObjectRef{
		Bucket:     obj.Bucket,
		Key:        obj.Name,
		Generation: parseGeneration(obj.Generation),
	})
}

// GCS sends generation as a decimal string; some emulators send a number.
func parseGeneration(raw json.RawMessage) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func decodePubSub(body []byte) (ObjectRef, error) {
	var push pubsubPush
	if err := json.Unmarshal(body, &push); err != nil || push.Message == nil {
		return ObjectRef{}, fmt.Errorf("%w: malformed pubsub envelope", ErrUnsupportedEvent)
	}
	attrs := push.Message.Attributes
	if attrs["bucketId"] != "" && attrs["objectId"] != "" {
		gen, _ := strconv.ParseInt(attrs["objectGeneration"], 10, 64)
		return checked(ObjectRef{
			Bucket:     attrs["bucketId"],
			Key:        attrs["objectId"],
			Generation: gen,
			Source:     SourcePubSub,
		})
	}
	if push.Message.Data == "" {
		return ObjectRef{Source: SourcePubSub}, ErrMissingObject
	}
	data, err := base64.StdEncoding.DecodeString(push.Message.Data)
	if err != nil {
		return ObjectRef{Source: SourcePubSub}, fmt.Errorf("%w: message data: %v", ErrUnsupportedEvent, err)
	}
	ref, err := decodeGCSObject(data)
	ref.Source = SourcePubSub
	return ref, err
}

func decodeCloudEvent(body []byte) (ObjectRef, error) {
	var ce cloudEvent
	if err := json.Unmarshal(body, &ce); err != nil {
		return ObjectRef{}, fmt.Errorf("%w: %v", ErrUnsupportedEvent, err)
	}
	if len(ce.Data) > 0 && string(ce.Data) != "null" {
		ref, err := decodeGCSObject(ce.Data)
		ref.Source = SourceCloudEvent
		if err == nil || !errors.Is(err, ErrMissingObject) {
			return ref, err
		}
	}
	// Subject looks like "objects/path/to/file.csv" and source ends with "buckets/<name>".
	bucket := ""
	if i := strings.LastIndex(ce.Source, "/buckets/"); i >= 0 {
		bucket = ce.Source[i+len("/buckets/"):]
	}
	key := strings.TrimPrefix(ce.Subject, "objects/")
	return checked(ObjectRef{Bucket: bucket, Key: key, Source: SourceCloudEvent})
}
