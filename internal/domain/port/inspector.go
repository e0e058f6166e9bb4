package port

import "context"

type FeatureDatabaseStats struct {
	Images        int
	Keypoints     int
	MatchedPairs  int
	VerifiedPairs int
}

// FeatureDatabaseInspector reads summary counts from a feature database without modifying it.
type FeatureDatabaseInspector interface {
	Inspect(ctx context.Context, databasePath string) (*FeatureDatabaseStats, error)
}
