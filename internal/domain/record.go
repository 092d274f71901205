package domain

import "time"

// RecordKind identifies the two synchronized record families.
type RecordKind string

const (
	KindActivity     RecordKind = "activity"
	KindDailySummary RecordKind = "daily_summary"
)

// Valid reports whether the kind is one this service synchronizes.
func (k RecordKind) Valid() bool {
	return k == KindActivity || k == KindDailySummary
}

// Activity is the canonical per-workout record stored in Postgres. Natural
// key: (UserID, ExternalID).
type Activity struct {
	UserID          string
	ExternalID      string
	Name            string
	ActivityType    string
	StartTime       time.Time
	DurationSeconds int
	DistanceMeters  float64
	Calories        int
	AvgHeartRate    int
	MaxHeartRate    int
	Steps           int
	ElevationGain   float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DailySummary is the canonical per-day aggregate record. Natural key:
// (UserID, Date); exactly one row per calendar day per user.
type DailySummary struct {
	UserID                  string
	Date                    time.Time
	TotalSteps              int
	TotalDistanceMeters     float64
	TotalCalories           int
	ActiveCalories          int
	BMRCalories             int
	MinHeartRate            int
	MaxHeartRate            int
	RestingHeartRate        int
	AvgStressLevel          int
	FloorsClimbed           int
	MinutesSedentary        int
	MinutesLightlyActive    int
	MinutesModeratelyActive int
	MinutesHighlyActive     int
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Connection captures per-user provider connection state. Disconnecting sets
// Active=false; rows are never deleted so sync history survives re-linking.
type Connection struct {
	UserID          string
	Provider        string
	Active          bool
	HasCredentials  bool
	LastSyncAttempt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ConnectionStatus is the externally visible connection summary.
type ConnectionStatus struct {
	Connected      bool
	IsActive       bool
	HasCredentials bool
	LastSyncTime   *time.Time
}

// Credentials are the plaintext provider credentials. They are only ever held
// in memory; at rest they live encrypted in the connection row.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RemoteActivity is the typed payload returned by the provider client for a
// single activity. Field names follow the provider vocabulary; translation to
// the local schema happens only in the merge path.
type RemoteActivity struct {
	ActivityID      string  `json:"activityId"`
	ActivityName    string  `json:"activityName"`
	ActivityType    string  `json:"activityType"`
	StartTime       string  `json:"startTime"`
	DurationSeconds float64 `json:"durationSeconds"`
	DistanceMeters  float64 `json:"distanceMeters"`
	Calories        float64 `json:"calories"`
	AvgHeartRate    float64 `json:"avgHeartRate"`
	MaxHeartRate    float64 `json:"maxHeartRate"`
	Steps           float64 `json:"steps"`
	ElevationGain   float64 `json:"elevationGain"`
}

// RemoteDailySummary is the typed provider payload for one calendar day.
type RemoteDailySummary struct {
	CalendarDate            string  `json:"calendarDate"`
	TotalSteps              float64 `json:"totalSteps"`
	TotalDistanceMeters     float64 `json:"totalDistanceMeters"`
	TotalKilocalories       float64 `json:"totalKilocalories"`
	ActiveKilocalories      float64 `json:"activeKilocalories"`
	BMRKilocalories         float64 `json:"bmrKilocalories"`
	MinHeartRate            float64 `json:"minHeartRate"`
	MaxHeartRate            float64 `json:"maxHeartRate"`
	RestingHeartRate        float64 `json:"restingHeartRate"`
	AverageStressLevel      float64 `json:"averageStressLevel"`
	FloorsAscended          float64 `json:"floorsAscended"`
	SedentaryMinutes        float64 `json:"sedentaryMinutes"`
	LightlyActiveMinutes    float64 `json:"lightlyActiveMinutes"`
	ModeratelyActiveMinutes float64 `json:"moderatelyActiveMinutes"`
	HighlyActiveMinutes     float64 `json:"highlyActiveMinutes"`
}

// MergeStats reports the outcome of one merge batch. The counts always match
// durably persisted state: a rolled-back batch reports nothing.
type MergeStats struct {
	Inserted int
	Updated  int
}

// Cursor models the pagination token for activity listings.
type Cursor struct {
	StartTime time.Time
	ID        string
}

// SyncResult is the structured outcome of a range sync.
type SyncResult struct {
	Kind     RecordKind
	Imported int
	Updated  int
	Total    int
	Skipped  bool
	Start    time.Time
	End      time.Time
	Message  string
}
