// Package behavior implements the user behavior event pipeline: an
// HTTP-path recorder that validates and publishes events to a durable
// queue, a consumer that drains the queue into the behavior log, and
// the aggregation read side consumed by the recommender.
package behavior

import (
	"time"
)

// ActionType enumerates the recordable user behaviors.
type ActionType string

const (
	ActionView       ActionType = "view"
	ActionFavorite   ActionType = "favorite"
	ActionUnfavorite ActionType = "unfavorite"
	ActionPurchase   ActionType = "purchase"
	ActionStudy      ActionType = "study"
	ActionRate       ActionType = "rate"
)

// ActionWeights maps each action to its default score contribution.
// Unfavoriting subtracts weight so that favorite-then-unfavorite nets
// out near neutral.
var ActionWeights = map[ActionType]float64{
	ActionView:       1.0,
	ActionFavorite:   3.0,
	ActionUnfavorite: -2.0,
	ActionPurchase:   5.0,
	ActionStudy:      4.0,
	ActionRate:       4.0,
}

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	var _, ok = ActionWeights[a]
	return ok
}

// Event is one behavior log record. It travels the queue as JSON and
// lands in the log collection as BSON, plus an inserted_time stamped
// by the consumer.
type Event struct {
	UserID            int64                  `json:"user_id" bson:"user_id"`
	CourseID          int64                  `json:"course_id" bson:"course_id"`
	ActionType        ActionType             `json:"action_type" bson:"action_type"`
	ActionValue       float64                `json:"action_value" bson:"action_value"`
	CourseCode        string                 `json:"course_code,omitempty" bson:"course_code,omitempty"`
	CourseName        string                 `json:"course_name,omitempty" bson:"course_name,omitempty"`
	MedicalDepartment string                 `json:"medical_department,omitempty" bson:"medical_department,omitempty"`
	DifficultyLevel   int                    `json:"difficulty_level,omitempty" bson:"difficulty_level,omitempty"`
	ExtraInfo         map[string]interface{} `json:"extra_info,omitempty" bson:"extra_info,omitempty"`
	CreatedTime       time.Time              `json:"created_time" bson:"created_time"`
	IPAddress         string                 `json:"ip_address,omitempty" bson:"ip_address,omitempty"`
	UserAgent         string                 `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
	InsertedTime      time.Time              `json:"inserted_time,omitempty" bson:"inserted_time,omitempty"`
}
