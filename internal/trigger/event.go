// Package trigger turns external events into mission intake input: upload
// notifications handed to `hive mission run` and cron schedules driving
// periodic AWS audits.
package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/mbhatt1/hive-sub000/internal/mission"
	"github.com/mbhatt1/hive-sub000/internal/types"
)

// ParamUpload is the intake parameter carrying the uploaded object.
const ParamUpload = "upload"

// ErrUnrecognizedEvent is returned for payloads that are neither an intake
// document nor a known upload notification.
var ErrUnrecognizedEvent = errors.New("unrecognized trigger event")

// Upload locates an uploaded object.
type Upload struct {
	Bucket string `mapstructure:"bucket" json:"bucket"`
	Key    string `mapstructure:"key" json:"key"`
	Size   int64  `mapstructure:"size" json:"size,omitempty"`
}

type s3Notification struct {
	Records []struct {
		S3 s3Entity `mapstructure:"s3"`
	} `mapstructure:"Records"`
}

type s3Entity struct {
	Bucket struct {
		Name string `mapstructure:"name"`
	} `mapstructure:"bucket"`
	Object struct {
		Key  string `mapstructure:"key"`
		Size int64  `mapstructure:"size"`
	} `mapstructure:"object"`
}

type eventBridgeEvent struct {
	DetailType string   `mapstructure:"detail-type"`
	Detail     s3Entity `mapstructure:"detail"`
}

// ParseUploadEvent converts a trigger payload into mission input. Three shapes
// are accepted: an intake document carrying mission_id, an S3 event
// notification and an EventBridge "Object Created" event. Upload missions get
// a generated id; the first key segment selects the scan type when it names
// one ("aws/..." or "code/..."), otherwise the code path is used.
func ParseUploadEvent(data []byte) (mission.Input, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return mission.Input{}, fmt.Errorf("failed to parse trigger event: %w", err)
	}

	if _, ok := raw["mission_id"]; ok {
		return decodeIntake(raw)
	}

	uploads, err := decodeUploads(raw)
	if err != nil {
		return mission.Input{}, err
	}
	if len(uploads) == 0 {
		return mission.Input{}, ErrUnrecognizedEvent
	}
	if len(uploads) > 1 {
		return mission.Input{}, fmt.Errorf("trigger event carries %d uploads, expected one", len(uploads))
	}
	return UploadInput(uploads[0]), nil
}

// UploadInput builds the intake input for one uploaded object.
func UploadInput(u Upload) mission.Input {
	return mission.Input{
		MissionID: types.NewID(),
		ScanType:  scanTypeFor(u.Key),
		Params: map[string]any{
			ParamUpload: map[string]any{
				"bucket": u.Bucket,
				"key":    u.Key,
				"size":   u.Size,
			},
		},
	}
}

func decodeIntake(raw map[string]any) (mission.Input, error) {
	var in mission.Input
	if err := mapstructure.Decode(raw, &in); err != nil {
		return in, fmt.Errorf("invalid intake document: %w", err)
	}
	return in, nil
}

func decodeUploads(raw map[string]any) ([]Upload, error) {
	switch {
	case raw["Records"] != nil:
		var n s3Notification
		if err := mapstructure.WeakDecode(raw, &n); err != nil {
			return nil, fmt.Errorf("invalid S3 notification: %w", err)
		}
		uploads := make([]Upload, 0, len(n.Records))
		for _, r := range n.Records {
			u, err := r.S3.upload()
			if err != nil {
				return nil, err
			}
			uploads = append(uploads, u)
		}
		return uploads, nil

	case raw["detail"] != nil:
		var e eventBridgeEvent
		if err := mapstructure.WeakDecode(raw, &e); err != nil {
			return nil, fmt.Errorf("invalid EventBridge event: %w", err)
		}
		if e.DetailType != "" && e.DetailType != "Object Created" {
			return nil, fmt.Errorf("%w: detail-type %q", ErrUnrecognizedEvent, e.DetailType)
		}
		u, err := e.Detail.upload()
		if err != nil {
			return nil, err
		}
		return []Upload{u}, nil
	}
	return nil, nil
}

// upload unescapes the object key; S3 notifications deliver keys URL-encoded.
func (e s3Entity) upload() (Upload, error) {
	if e.Bucket.Name == "" || e.Object.Key == "" {
		return Upload{}, fmt.Errorf("upload event is missing bucket or key")
	}
	key, err := url.QueryUnescape(e.Object.Key)
	if err != nil {
		return Upload{}, fmt.Errorf("invalid object key %q: %w", e.Object.Key, err)
	}
	return Upload{Bucket: e.Bucket.Name, Key: key, Size: e.Object.Size}, nil
}

func scanTypeFor(key string) string {
	first, _, _ := strings.Cut(strings.TrimPrefix(key, "/"), "/")
	switch strings.ToLower(first) {
	case mission.ScanTypeAWS:
		return mission.ScanTypeAWS
	default:
		return mission.ScanTypeCode
	}
}
