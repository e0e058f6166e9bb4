package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/port"
	_ "modernc.org/sqlite"
)

// Inspector reads row counts out of a COLMAP feature database. The file is
// opened read-only and never modified.
type Inspector struct{}

var _ port.FeatureDatabaseInspector = (*Inspector)(nil)

func NewInspector() *Inspector {
	return &Inspector{}
}

func (i *Inspector) Inspect(ctx context.Context, databasePath string) (*port.FeatureDatabaseStats, error) {
	if _, err := os.Stat(databasePath); err != nil {
		return nil, fmt.Errorf("stat feature database: %w", err)
	}

	dsn := (&url.URL{Scheme: "file", Path: databasePath, RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open feature database: %w", err)
	}
	defer db.Close()

	stats := &port.FeatureDatabaseStats{}
	queries := []struct {
		dst   *int
		query string
	}{
		{&stats.Images, `SELECT COUNT(*) FROM images`},
		{&stats.Keypoints, `SELECT COALESCE(SUM(rows), 0) FROM keypoints`},
		{&stats.MatchedPairs, `SELECT COUNT(*) FROM matches WHERE rows > 0`},
		{&stats.VerifiedPairs, `SELECT COUNT(*) FROM two_view_geometries WHERE rows > 0`},
	}
	for _, q := range queries {
		if err := db.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return nil, fmt.Errorf("query feature database: %w", err)
		}
	}
	return stats, nil
}
