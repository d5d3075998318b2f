package source

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// gocvDevice reads a VideoCapture on a goroutine and keeps the latest frame.
type gocvDevice struct {
	webcam   *gocv.VideoCapture
	deviceID int
	size     image.Point
	logger   *zap.SugaredLogger

	mu     sync.RWMutex
	latest image.Image
	err    error

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// OpenGoCV returns a DeviceOpener backed by OpenCV video capture.
func OpenGoCV(logger *zap.SugaredLogger) DeviceOpener {
	return func(ctx context.Context, c Constraints) (Device, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		deviceID := c.ResolveDevice()
		webcam, err := gocv.OpenVideoCapture(deviceID)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot open camera device %d", deviceID)
		}
		if !webcam.IsOpened() {
			webcam.Close()
			return nil, errors.Errorf("camera device %d is not available", deviceID)
		}

		if c.Width > 0 && c.Height > 0 {
			webcam.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
			webcam.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
		}

		d := &gocvDevice{
			webcam:   webcam,
			deviceID: deviceID,
			size: image.Pt(
				int(webcam.Get(gocv.VideoCaptureFrameWidth)),
				int(webcam.Get(gocv.VideoCaptureFrameHeight)),
			),
			logger: logger,
			err:    ErrNotReady,
			stop:   make(chan struct{}),
			done:   make(chan struct{}),
		}
		go d.readLoop()

		logger.Infow("camera opened", "device", deviceID, "facing", c.FacingMode, "size", d.size)
		return d, nil
	}
}

func (d *gocvDevice) readLoop() {
	defer close(d.done)

	img := gocv.NewMat()
	defer img.Close()

	for {
		select {
		case <-d.stop:
			return
		default:
		}

		if ok := d.webcam.Read(&img); !ok {
			d.logger.Warnw("camera stopped delivering frames", "device", d.deviceID)
			d.setFrame(nil, ErrClosed)
			return
		}
		if img.Empty() {
			continue
		}

		frame, err := img.ToImage()
		if err != nil {
			d.logger.Debugw("dropping undecodable frame", "device", d.deviceID, "error", err)
			continue
		}
		d.setFrame(frame, nil)
	}
}

func (d *gocvDevice) setFrame(img image.Image, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if img != nil {
		d.latest = img
		if b := img.Bounds(); b.Dx() > 0 && b.Dy() > 0 {
			d.size = b.Size()
		}
	}
	d.err = err
}

func (d *gocvDevice) Latest() (image.Image, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.latest, nil
}

func (d *gocvDevice) Size() image.Point {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.size
}

func (d *gocvDevice) Close() error {
	var err error
	d.once.Do(func() {
		close(d.stop)
		<-d.done
		err = d.webcam.Close()
		d.setFrame(nil, ErrClosed)
		d.logger.Infow("camera released", "device", d.deviceID)
	})
	return err
}
