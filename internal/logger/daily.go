package logger

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// dailyFile is a zapcore.WriteSyncer that rolls over to <dir>/YYYY-MM-DD.log.
type dailyFile struct {
	mu  sync.Mutex
	dir string
	day string
	f   *os.File
	now func() time.Time
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rotateLocked(d.clock()); err != nil {
		return 0, err
	}
	return d.f.Write(p)
}

func (d *dailyFile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	return d.f.Sync()
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

func (d *dailyFile) rotate(t time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rotateLocked(t)
}

func (d *dailyFile) rotateLocked(t time.Time) error {
	day := t.Format("2006-01-02")
	if d.f != nil && d.day == day {
		return nil
	}
	if d.f != nil {
		_ = d.f.Close()
		d.f = nil
	}
	f, err := os.OpenFile(filepath.Join(d.dir, day+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	d.f = f
	d.day = day
	return nil
}

func (d *dailyFile) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}
