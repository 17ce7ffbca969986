package backup

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Retention per rotation class.
const (
	keepDaily   = 7
	keepWeekly  = 4
	keepMonthly = 6
)

// Integrity is the pre-backup database check.
type Integrity interface {
	IntegrityOK() (bool, error)
	Checkpoint() error
}

// Service rotates copies of the database file into <data>/backups with
// daily, weekly and monthly retention. A backup is only taken after the
// database passes its integrity check.
type Service struct {
	mu        sync.Mutex
	dbPath    string
	backupDir string
	integrity Integrity
}

// NewService builds the rotation service.
func NewService(dbPath, dataDir string, integrity Integrity) (*Service, error) {
	backupDir := filepath.Join(dataDir, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	return &Service{dbPath: dbPath, backupDir: backupDir, integrity: integrity}, nil
}

// Run takes today's backup (if missing) and applies retention. Meant to be
// called from a daily scheduler tick; safe to call more often.
func (s *Service) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	name := s.backupName("daily", now)
	if _, err := os.Stat(filepath.Join(s.backupDir, name)); err == nil {
		return nil // today's backup already exists
	}

	if ok, err := s.integrity.IntegrityOK(); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	} else if !ok {
		return fmt.Errorf("database failed integrity check; refusing to rotate backups")
	}
	if err := s.integrity.Checkpoint(); err != nil {
		log.Printf("[backup] wal checkpoint before backup: %v", err)
	}

	if err := s.copyDatabase(name); err != nil {
		return err
	}
	log.Printf("[backup] wrote %s", name)

	// Promote: Mondays also keep a weekly copy, the 1st a monthly one.
	if now.Weekday() == time.Monday {
		if err := s.copyDatabase(s.backupName("weekly", now)); err != nil {
			log.Printf("[backup] weekly copy failed: %v", err)
		}
	}
	if now.Day() == 1 {
		if err := s.copyDatabase(s.backupName("monthly", now)); err != nil {
			log.Printf("[backup] monthly copy failed: %v", err)
		}
	}

	s.applyRetention("daily", keepDaily)
	s.applyRetention("weekly", keepWeekly)
	s.applyRetention("monthly", keepMonthly)
	return nil
}

func (s *Service) backupName(class string, t time.Time) string {
	return fmt.Sprintf("sublarr_%s_%s.db", class, t.Format("20060102"))
}

func (s *Service) copyDatabase(name string) error {
	src, err := os.Open(s.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer src.Close()

	tmp := filepath.Join(s.backupDir, name+".tmp")
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filepath.Join(s.backupDir, name))
}

func (s *Service) applyRetention(class string, keep int) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		log.Printf("[backup] read backup dir: %v", err)
		return
	}
	prefix := "sublarr_" + class + "_"
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".db") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names))) // date-stamped: newest first
	for _, name := range names[minInt(keep, len(names)):] {
		if err := os.Remove(filepath.Join(s.backupDir, name)); err != nil {
			log.Printf("[backup] remove %s: %v", name, err)
		} else {
			log.Printf("[backup] rotated out %s", name)
		}
	}
}

// List returns the existing backups, newest first.
func (s *Service) List() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "sublarr_") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
