package accesslog

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	fileDateFormat = ".2006-01-02"
	flushInterval  = time.Second
)

// RotatingWriter is a buffered io.WriteCloser that writes to a dated file
// and opens a new file when the date changes
type RotatingWriter struct {
	dir    string
	prefix string
	suffix string
	header []string

	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	date string
	now  func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewRotatingWriter creates the passed directory if needed and returns a
// RotatingWriter for it. The header lines are written at the start of
// every new file.
func NewRotatingWriter(dir, prefix, suffix string, header ...string) (*RotatingWriter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "could not create access log directory '%s'", dir)
	}
	w := &RotatingWriter{
		dir:    dir,
		prefix: prefix,
		suffix: suffix,
		header: header,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.flushLoop()
	return w, nil
}

// FileName returns the name of the log file for the passed time
func (w *RotatingWriter) FileName(t time.Time) string {
	return filepath.Join(w.dir, w.prefix+t.Format(fileDateFormat)+w.suffix)
}

// Write implements the io.Writer interface
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotate(); err != nil {
		return 0, err
	}
	return w.buf.Write(p)
}

func (w *RotatingWriter) rotate() error {
	now := w.now()
	date := now.Format(fileDateFormat)
	if w.file != nil && date == w.date {
		return nil
	}
	if err := w.closeFile(); err != nil {
		log.WithError(err).Warn("could not close access log file")
	}
	name := w.FileName(now)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return errors.Wrapf(err, "could not open access log file '%s'", name)
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	w.date = date
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		for _, line := range w.header {
			_, _ = w.buf.WriteString(line + "\n")
		}
	}
	return nil
}

// Flush writes buffered data to the current file
func (w *RotatingWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	return errors.WithStack(w.buf.Flush())
}

func (w *RotatingWriter) flushLoop() {
	defer close(w.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				log.WithError(err).Warn("could not flush access log")
			}
		case <-w.stop:
			return
		}
	}
}

func (w *RotatingWriter) closeFile() error {
	if w.file == nil {
		return nil
	}
	err := w.buf.Flush()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	w.buf = nil
	return errors.WithStack(err)
}

// Close flushes and closes the current file and stops the flush loop
func (w *RotatingWriter) Close() (err error) {
	w.closeOnce.Do(
		func() {
			close(w.stop)
			<-w.done
			w.mu.Lock()
			defer w.mu.Unlock()
			err = w.closeFile()
		},
	)
	return
}
