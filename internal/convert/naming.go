package convert

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/price-summarizer/internal/events"
)

// ErrOutputBucketUnresolved means no output bucket could be derived that
// differs from the input bucket.
var ErrOutputBucketUnresolved = errors.New("cannot resolve output bucket")

// Naming maps an input object to its summary object.
type Naming struct {
	// OutputBucket wins when set.
	OutputBucket string
	InputMarker  string
	OutputMarker string
}

func DefaultNaming() Naming {
	return Naming{InputMarker: "-input-", OutputMarker: "-output-"}
}

// IsCSVKey reports whether key ends in .csv, ignoring case.
func IsCSVKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".csv")
}

// ReplaceExt swaps a trailing .csv (any case) for ext. Keys without one get
// ext appended.
func ReplaceExt(key, ext string) string {
	if IsCSVKey(key) {
		return key[:len(key)-len(".csv")] + ext
	}
	return key + ext
}

func (n Naming) OutputBucketFor(inputBucket string) (string, error) {
	if b := strings.TrimSpace(n.OutputBucket); b != "" {
		if b == inputBucket {
			return "", fmt.Errorf("%w: output bucket %q is the input bucket", ErrOutputBucketUnresolved, b)
		}
		return b, nil
	}
	if n.InputMarker == "" {
		return "", fmt.Errorf("%w: no output bucket and no input marker", ErrOutputBucketUnresolved)
	}
	out := strings.ReplaceAll(inputBucket, n.InputMarker, n.OutputMarker)
	if out == inputBucket {
		return "", fmt.Errorf("%w: bucket %q does not contain %q", ErrOutputBucketUnresolved, inputBucket, n.InputMarker)
	}
	return out, nil
}

// Output returns the JSON summary object for in.
func (n Naming) Output(in events.ObjectRef) (events.ObjectRef, error) {
	bucket, err := n.OutputBucketFor(in.Bucket)
	if err != nil {
		return events.ObjectRef{}, err
	}
	return events.ObjectRef{Bucket: bucket, Key: ReplaceExt(in.Key, ".json")}, nil
}

// ChartKey is the PNG written next to the JSON summary.
func ChartKey(inputKey string) string {
	return ReplaceExt(inputKey, ".png")
}
