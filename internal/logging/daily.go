package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const dayLayout = "2006-01-02"

// DailyFile is a zapcore.WriteSyncer appending to {dir}/{YYYY-MM-DD}.log.
// The file is reopened on the first write after the local date changes.
type DailyFile struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

// NewDailyFile creates dir if needed
func NewDailyFile(dir string) (*DailyFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DailyFile{dir: dir, now: time.Now}, nil
}

// Path returns the file for the current date, whether or not it exists yet
func (d *DailyFile) Path() string {
	return filepath.Join(d.dir, d.now().Format(dayLayout)+".log")
}

func (d *DailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.rotate(); err != nil {
		return 0, err
	}
	return d.file.Write(p)
}

func (d *DailyFile) rotate() error {
	day := d.now().Format(dayLayout)
	if d.file != nil && day == d.day {
		return nil
	}
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}

	f, err := os.OpenFile(filepath.Join(d.dir, day+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	d.file = f
	d.day = day
	return nil
}

func (d *DailyFile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	return d.file.Sync()
}

func (d *DailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
