package garmin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/wearable/internal/domain"
)

var testCreds = domain.Credentials{Username: "user", Password: "pw"}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, server.Client(), nil)
}

func TestActivitiesDecodesList(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/wellness/activities", r.URL.Path)
		require.Equal(t, "2024-05-11", r.URL.Query().Get("startDate"))
		require.Equal(t, "2024-05-12", r.URL.Query().Get("endDate"))
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "user", user)
		require.Equal(t, "pw", pass)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"activityId":"101","activityName":"Morning Run","activityType":"running","startTime":"2024-05-11 07:00:00","durationSeconds":1800,"distanceMeters":5000,"calories":320,"avgHeartRate":140,"maxHeartRate":172,"steps":6200,"elevationGain":40},
			{"activityId":"102","activityType":"cycling","startTime":"2024-05-12 08:00:00","durationSeconds":3600}
		]`))
	})

	got, err := client.Activities(context.Background(), testCreds,
		time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, got, 2)
	require.Equal(t, "101", got[0].ActivityID)
	require.Equal(t, "running", got[0].ActivityType)
	require.Equal(t, float64(1800), got[0].DurationSeconds)
}

func TestActivitiesRejectsErrorEnvelope(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"something went wrong"}`))
	})

	_, err := client.Activities(context.Background(), testCreds, time.Now(), time.Now())

	require.ErrorIs(t, err, domain.ErrInvalidResponse)
}

func TestActivitiesMapsRateLimitEnvelope(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Garmin API rate limit reached. Please try again later.","status_code":429}`))
	})

	_, err := client.Activities(context.Background(), testCreds, time.Now(), time.Now())

	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusUnauthorized, domain.ErrAuthenticationFailed},
		{http.StatusForbidden, domain.ErrAuthenticationFailed},
		{http.StatusBadGateway, domain.ErrRemoteUnavailable},
		{http.StatusInternalServerError, domain.ErrRemoteUnavailable},
	}

	for _, tc := range cases {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})

		_, err := client.DailySummaries(context.Background(), testCreds, time.Now(), time.Now())
		require.ErrorIs(t, err, tc.want, "status %d", tc.status)
	}
}

func TestDailySummaryReturnsNilOnNotFound(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	got, err := client.DailySummary(context.Background(), testCreds, time.Now())
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDailySummaryDecodesObject(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/wellness/daily-summaries/2024-05-11", r.URL.Path)
		w.Write([]byte(`{"calendarDate":"2024-05-11","totalSteps":10250,"totalKilocalories":2300,"restingHeartRate":52}`))
	})

	got, err := client.DailySummary(context.Background(), testCreds, time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Equal(t, "2024-05-11", got.CalendarDate)
	require.Equal(t, float64(10250), got.TotalSteps)
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/signin", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := client.Authenticate(context.Background(), testCreds)
	require.ErrorIs(t, err, domain.ErrAuthenticationFailed)
}

func TestTransportFailureIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := NewClient(server.URL, &http.Client{Timeout: time.Second}, nil)

	_, err := client.Activities(context.Background(), testCreds, time.Now(), time.Now())
	require.ErrorIs(t, err, domain.ErrRemoteUnavailable)
	require.True(t, domain.IsRetryable(err))
}
