package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

const (
	snapshotsDir      = "snapshots"
	latestPointerName = "latest.json"
	manifestName      = "manifest.json"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// LatestManifestKey is the fixed key that always holds a copy of the newest snapshot manifest.
func LatestManifestKey() string {
	return path.Join(snapshotsDir, latestPointerName)
}

func BuildManifestPath(snapshotID string, createdAt time.Time) (string, error) {
	dir, err := snapshotDir(snapshotID, createdAt)
	if err != nil {
		return "", err
	}
	return path.Join(dir, manifestName), nil
}

func BuildTableFilePath(snapshotID, tableName string, createdAt time.Time) (string, error) {
	dir, err := snapshotDir(snapshotID, createdAt)
	if err != nil {
		return "", err
	}
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return path.Join(dir, tableName+".parquet"), nil
}

func snapshotDir(snapshotID string, createdAt time.Time) (string, error) {
	if err := validatePathComponent(snapshotID, "snapshot id"); err != nil {
		return "", err
	}
	ts := createdAt.UTC()
	return path.Join(
		snapshotsDir,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		snapshotID,
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
