// Package backup snapshots the SQLite database into checksummed
// tar.gz archives and prunes old ones.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Manifest describes one backup archive
type Manifest struct {
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	AppVersion string    `json:"app_version"`
	Database   string    `json:"database"`
	Checksum   string    `json:"checksum"`
}

// Service creates and prunes database backups
type Service struct {
	db         *sql.DB
	backupDir  string
	appVersion string
}

// New creates a backup service writing archives into backupDir
func New(db *sql.DB, backupDir, appVersion string) *Service {
	return &Service{
		db:         db,
		backupDir:  backupDir,
		appVersion: appVersion,
	}
}

// Create snapshots the database into a new archive and returns its path.
// The snapshot uses VACUUM INTO, so it is consistent even while the
// database is in use.
func (s *Service) Create() (string, error) {
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup dir: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_150405")
	snapshotPath := filepath.Join(s.backupDir, fmt.Sprintf(".snapshot_%s.db", timestamp))
	archivePath := filepath.Join(s.backupDir, fmt.Sprintf("pharmacy_backup_%s.tar.gz", timestamp))

	if _, err := s.db.Exec("VACUUM INTO ?", snapshotPath); err != nil {
		return "", fmt.Errorf("failed to snapshot database: %w", err)
	}
	defer os.Remove(snapshotPath)

	checksum, err := fileChecksum(snapshotPath)
	if err != nil {
		return "", err
	}

	manifest := Manifest{
		Version:    "1",
		CreatedAt:  time.Now().UTC(),
		AppVersion: s.appVersion,
		Database:   "pharmacy.db",
		Checksum:   checksum,
	}

	if err := writeArchive(archivePath, snapshotPath, manifest); err != nil {
		os.Remove(archivePath)
		return "", err
	}

	return archivePath, nil
}

// Prune deletes the oldest archives beyond keep
func (s *Service) Prune(keep int) (int, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read backup dir: %w", err)
	}

	var archives []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "pharmacy_backup_") && strings.HasSuffix(name, ".tar.gz") {
			archives = append(archives, name)
		}
	}
	if len(archives) <= keep {
		return 0, nil
	}

	// Timestamped names sort chronologically
	sort.Strings(archives)

	removed := 0
	for _, name := range archives[:len(archives)-keep] {
		if err := os.Remove(filepath.Join(s.backupDir, name)); err != nil {
			return removed, fmt.Errorf("failed to prune %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

// Verify reads an archive and checks the database against its manifest
// checksum
func Verify(archivePath string) (*Manifest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	defer gz.Close()

	var manifest *Manifest
	var dbChecksum string

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive entry: %w", err)
		}

		switch header.Name {
		case "manifest.json":
			manifest = &Manifest{}
			if err := json.NewDecoder(tr).Decode(manifest); err != nil {
				return nil, fmt.Errorf("failed to decode manifest: %w", err)
			}
		case "pharmacy.db":
			h := sha256.New()
			if _, err := io.Copy(h, tr); err != nil {
				return nil, fmt.Errorf("failed to hash database: %w", err)
			}
			dbChecksum = hex.EncodeToString(h.Sum(nil))
		}
	}

	if manifest == nil {
		return nil, fmt.Errorf("archive has no manifest")
	}
	if dbChecksum == "" {
		return nil, fmt.Errorf("archive has no database")
	}
	if dbChecksum != manifest.Checksum {
		return nil, fmt.Errorf("checksum mismatch: archive is corrupt")
	}
	return manifest, nil
}

// Restore extracts and verifies the database from an archive, writing it
// to destPath. The running server must be pointed at the restored file
// after a restart.
func Restore(archivePath, destPath string) error {
	manifest, err := Verify(archivePath)
	if err != nil {
		return err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read archive entry: %w", err)
		}
		if header.Name != manifest.Database {
			continue
		}

		out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", destPath, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("failed to extract database: %w", err)
		}
		return out.Close()
	}

	return fmt.Errorf("database %s not found in archive", manifest.Database)
}

func writeArchive(archivePath, snapshotPath string, manifest Manifest) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := writeTarFile(tw, "manifest.json", manifestData); err != nil {
		return err
	}

	snapshot, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer snapshot.Close()

	info, err := snapshot.Stat()
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    "pharmacy.db",
		Mode:    0o600,
		Size:    info.Size(),
		ModTime: manifest.CreatedAt,
	}); err != nil {
		return err
	}
	if _, err := io.Copy(tw, snapshot); err != nil {
		return fmt.Errorf("failed to write database to archive: %w", err)
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now().UTC(),
	}); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
