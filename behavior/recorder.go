package behavior

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mededge/pulse/catalog"
)

// QueueName is the durable queue carrying behavior events.
const QueueName = "user_behavior_log_queue"

// Request is a client-supplied behavior report. A nil ActionValue
// takes the default weight for the action.
type Request struct {
	CourseID    int64                  `json:"course_id" validate:"required"`
	ActionType  ActionType             `json:"action_type" validate:"required"`
	ActionValue *float64               `json:"action_value,omitempty"`
	ExtraInfo   map[string]interface{} `json:"extra_info,omitempty"`
}

// ClientMeta is request-derived metadata attached to events.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// MetaFromRequest derives ClientMeta, preferring the first hop of
// X-Forwarded-For over the socket address.
func MetaFromRequest(r *http.Request) ClientMeta {
	var ip = r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ip = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return ClientMeta{IPAddress: ip, UserAgent: r.Header.Get("User-Agent")}
}

// CourseLookup resolves course references during validation.
type CourseLookup interface {
	CourseByID(ctx context.Context, id int64) (*catalog.Course, error)
}

// Queue publishes serialized events.
type Queue interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// Recorder validates, enriches, and publishes behavior events.
type Recorder struct {
	courses CourseLookup
	queue   Queue
}

// NewRecorder builds a Recorder.
func NewRecorder(courses CourseLookup, queue Queue) *Recorder {
	return &Recorder{courses: courses, queue: queue}
}

// Record publishes one behavior event for userID. It reports false,
// never an error, when the event cannot be recorded: a rejected event
// must not fail the request that carried it.
func (r *Recorder) Record(ctx context.Context, userID int64, req Request, meta ClientMeta) bool {
	var course, err = r.courses.CourseByID(ctx, req.CourseID)
	if errors.Is(err, catalog.ErrNotFound) {
		log.WithFields(log.Fields{"user": userID, "course": req.CourseID}).
			Warn("behavior event references a missing course")
		recorded.WithLabelValues("missing_course").Inc()
		return false
	} else if err != nil {
		log.WithFields(log.Fields{"user": userID, "course": req.CourseID, "err": err}).
			Error("failed to validate behavior event course")
		recorded.WithLabelValues("error").Inc()
		return false
	}

	var value float64
	if req.ActionValue != nil {
		value = *req.ActionValue
	} else if w, ok := ActionWeights[req.ActionType]; ok {
		value = w
	} else {
		value = 1.0
	}

	var event = Event{
		UserID:            userID,
		CourseID:          req.CourseID,
		ActionType:        req.ActionType,
		ActionValue:       value,
		CourseCode:        course.CourseCode,
		CourseName:        course.CourseName,
		MedicalDepartment: course.MedicalDepartment,
		DifficultyLevel:   course.DifficultyLevel,
		ExtraInfo:         req.ExtraInfo,
		CreatedTime:       time.Now(),
		IPAddress:         meta.IPAddress,
		UserAgent:         meta.UserAgent,
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.WithFields(log.Fields{"user": userID, "err": err}).
			Error("failed to serialize behavior event")
		recorded.WithLabelValues("error").Inc()
		return false
	}
	if err = r.queue.Publish(ctx, QueueName, body); err != nil {
		log.WithFields(log.Fields{"user": userID, "err": err}).
			Error("failed to publish behavior event")
		recorded.WithLabelValues("error").Inc()
		return false
	}

	log.WithFields(log.Fields{"user": userID, "course": req.CourseID, "action": req.ActionType}).
		Debug("behavior event published")
	recorded.WithLabelValues("published").Inc()
	return true
}
