package detectors

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/live-detect/common"
	"github.com/nvr-ai/live-detect/images"
)

// RemoteDetector posts frames to an HTTP detection service.
//
// The service exposes GET /health and POST /predict, the latter taking a JPEG
// in the multipart field "file" and answering
// {"detections":[{"bbox":[x,y,w,h],"class":"cat","score":0.82}]}.
type RemoteDetector struct {
	client   *http.Client
	endpoint string
	cfg      Config
	relevant map[string]bool
}

type predictResponse struct {
	Detections []common.Detection `json:"detections"`
}

// NewRemoteDetector checks that the service is healthy before returning.
//
// Arguments:
//   - ctx: Bounds the health check.
//   - cfg: The detector configuration. Backend must be BackendRemote.
//   - client: The HTTP client, nil for one using cfg.Timeout.
//
// Returns:
//   - *RemoteDetector: The detector.
//   - error: An error if the service is unreachable or unhealthy.
func NewRemoteDetector(ctx context.Context, cfg Config, client *http.Client) (*RemoteDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	d := &RemoteDetector{
		client:   client,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		cfg:      cfg,
		relevant: cfg.relevantSet(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/health", nil)
	if err != nil {
		return nil, errors.Wrap(err, "create health request")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "detection service unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("detection service unhealthy: %s", resp.Status)
	}

	return d, nil
}

// Detect sends the frame to /predict.
func (d *RemoteDetector) Detect(ctx context.Context, img image.Image) ([]common.Detection, error) {
	encoded, err := images.EncodeJPEG(img, 90)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", encoded.Format.ContentType())

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, errors.Wrap(err, "create form part")
	}
	if _, err := part.Write(encoded.Data); err != nil {
		return nil, errors.Wrap(err, "write image data")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "close writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/predict", &buf)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "http request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Errorf("bad status: %s, error: %s", resp.Status, body)
	}

	var decoded predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}

	bounds := img.Bounds()
	fw, fh := float32(bounds.Dx()), float32(bounds.Dy())

	out := make([]common.Detection, 0, len(decoded.Detections))
	for _, det := range decoded.Detections {
		if det.Score < d.cfg.ConfidenceThreshold {
			continue
		}
		if d.relevant != nil && !d.relevant[det.Class] {
			continue
		}
		det.BBox = det.BBox.Clamp(fw, fh)
		if det.BBox.Area() == 0 {
			continue
		}
		out = append(out, det)
	}
	return out, nil
}

// Close drops idle keep-alive connections.
func (d *RemoteDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
