package inspector

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/unbasical/bundle-ota/internal/pkg/utils/observer"
	"github.com/unbasical/bundle-ota/internal/pkg/utils/readerutils"
)

// DefaultInterval is used by NewDownloadProgressObserver when no interval is given.
const DefaultInterval = 15 * time.Second

// DownloadInspector wraps a download body while it is being consumed.
type DownloadInspector interface {
	// InspectContents returns a reader that passes the content of r through.
	// The returned stop function has to be called once the body was consumed.
	InspectContents(r io.Reader, total int64) (io.Reader, func())
}

// DownloadProgressObserver periodically logs how much of a download has been received.
type DownloadProgressObserver struct {
	interval  time.Duration
	bytesRead atomic.Uint64
}

// NewDownloadProgressObserver creates a DownloadProgressObserver that logs every interval.
func NewDownloadProgressObserver(interval time.Duration) *DownloadProgressObserver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &DownloadProgressObserver{
		interval: interval,
	}
}

// BytesRead returns the number of bytes read by the last inspected download.
func (d *DownloadProgressObserver) BytesRead() uint64 {
	return d.bytesRead.Load()
}

// InspectContents counts the bytes read from r and logs the progress until stop is called.
// total is the expected size, values <= 0 mean unknown.
func (d *DownloadProgressObserver) InspectContents(r io.Reader, total int64) (io.Reader, func()) {
	d.bytesRead.Store(0)
	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		o := observer.IntervalObserver[*atomic.Uint64]{
			Interval: d.interval,
			F: func(p *atomic.Uint64) error {
				logProgress(p.Load(), total)
				return nil
			},
			Observable: &d.bytesRead,
		}
		_ = o.Observe(ctx)
	}()
	stop := sync.OnceFunc(func() {
		cancel()
		wg.Wait()
	})
	return readerutils.NewCountingReader(r, &d.bytesRead), stop
}

func logProgress(read uint64, total int64) {
	if total > 0 {
		log.Debugf("downloaded %d/%d bytes (%.1f%%)", read, total, float64(read)/float64(total)*100)
		return
	}
	log.Debugf("downloaded %d bytes", read)
}
