package behavior

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mededge/pulse/catalog"
)

type fakeCourses struct {
	courses map[int64]catalog.Course
	err     error
}

func (f *fakeCourses) CourseByID(_ context.Context, id int64) (*catalog.Course, error) {
	if f.err != nil {
		return nil, f.err
	}
	if c, ok := f.courses[id]; ok {
		return &c, nil
	}
	return nil, catalog.ErrNotFound
}

type fakeQueue struct {
	published [][]byte
	queue     string
	err       error
}

func (f *fakeQueue) Publish(_ context.Context, queue string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.queue = queue
	f.published = append(f.published, body)
	return nil
}

var testCourse = catalog.Course{
	ID: 9, CourseCode: "MED-CARDIO-1", CourseName: "心内科进阶",
	MedicalDepartment: "心内科", DifficultyLevel: 3,
	SaleStatus: 1, Status: 1,
}

func TestRecordEnrichesAndPublishes(t *testing.T) {
	var courses = &fakeCourses{courses: map[int64]catalog.Course{9: testCourse}}
	var q = new(fakeQueue)
	var rec = NewRecorder(courses, q)

	var req = httptest.NewRequest("POST", "/behavior", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("User-Agent", "test-agent")

	var ok = rec.Record(context.Background(), 42,
		Request{CourseID: 9, ActionType: ActionFavorite}, MetaFromRequest(req))
	require.True(t, ok)
	require.Equal(t, QueueName, q.queue)
	require.Len(t, q.published, 1)

	var ev Event
	require.NoError(t, json.Unmarshal(q.published[0], &ev))
	require.Equal(t, int64(42), ev.UserID)
	require.Equal(t, int64(9), ev.CourseID)
	require.Equal(t, ActionFavorite, ev.ActionType)
	require.Equal(t, 3.0, ev.ActionValue, "favorite takes its default weight")
	require.Equal(t, "MED-CARDIO-1", ev.CourseCode)
	require.Equal(t, "心内科", ev.MedicalDepartment)
	require.Equal(t, 3, ev.DifficultyLevel)
	require.Equal(t, "203.0.113.9", ev.IPAddress, "first forwarded hop wins")
	require.Equal(t, "test-agent", ev.UserAgent)
	require.False(t, ev.CreatedTime.IsZero())
	require.True(t, ev.InsertedTime.IsZero(), "inserted_time is the consumer's to set")
}

func TestRecordExplicitValueOverridesWeight(t *testing.T) {
	var courses = &fakeCourses{courses: map[int64]catalog.Course{9: testCourse}}
	var q = new(fakeQueue)
	var rec = NewRecorder(courses, q)

	var rating = 4.5
	require.True(t, rec.Record(context.Background(), 42,
		Request{CourseID: 9, ActionType: ActionRate, ActionValue: &rating}, ClientMeta{}))

	var ev Event
	require.NoError(t, json.Unmarshal(q.published[0], &ev))
	require.Equal(t, 4.5, ev.ActionValue)
}

func TestRecordRejectsMissingCourse(t *testing.T) {
	var rec = NewRecorder(&fakeCourses{courses: map[int64]catalog.Course{}}, new(fakeQueue))
	require.False(t, rec.Record(context.Background(), 42,
		Request{CourseID: 404, ActionType: ActionView}, ClientMeta{}))
}

func TestRecordReportsFalseOnFailures(t *testing.T) {
	// Lookup failure.
	var rec = NewRecorder(&fakeCourses{err: errors.New("db down")}, new(fakeQueue))
	require.False(t, rec.Record(context.Background(), 42,
		Request{CourseID: 9, ActionType: ActionView}, ClientMeta{}))

	// Publish failure.
	rec = NewRecorder(
		&fakeCourses{courses: map[int64]catalog.Course{9: testCourse}},
		&fakeQueue{err: errors.New("broker down")})
	require.False(t, rec.Record(context.Background(), 42,
		Request{CourseID: 9, ActionType: ActionView}, ClientMeta{}))
}

func TestMetaFromRequestFallsBackToRemoteAddr(t *testing.T) {
	var req = httptest.NewRequest("POST", "/behavior", nil)
	var meta = MetaFromRequest(req)
	require.Equal(t, req.RemoteAddr, meta.IPAddress)
}
