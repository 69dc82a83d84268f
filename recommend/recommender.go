// Package recommend implements the item-based collaborative-filtering
// course recommender. Course-course similarity blends behavioral
// cosine similarity (0.7) with catalogue attribute similarity (0.3);
// users with no history, and any internal failure, fall back to
// popularity so the endpoint always answers.
package recommend

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"github.com/mededge/pulse/behavior"
	"github.com/mededge/pulse/catalog"
)

// Recommendation reasons. These strings are part of the API payload.
const (
	ReasonHistory = "recommended from your learning history"
	ReasonPopular = "popular"
)

const (
	behaviorWeight  = 0.7
	attributeWeight = 0.3
)

// Recommendation is one recommended course with its score and reason.
type Recommendation struct {
	CourseID             int64   `json:"course_id"`
	CourseCode           string  `json:"course_code"`
	CourseName           string  `json:"course_name"`
	MedicalDepartment    string  `json:"medical_department"`
	DifficultyLevel      int     `json:"difficulty_level"`
	Price                float64 `json:"price"`
	RecommendationScore  float64 `json:"recommendation_score"`
	RecommendationReason string  `json:"recommendation_reason"`
}

// BehaviorSource is the behavior log aggregation read side.
type BehaviorSource interface {
	UserCourseWeights(ctx context.Context, userID int64) (map[int64]float64, error)
	AllUserCourseWeights(ctx context.Context) (map[int64]map[int64]float64, error)
	CoursePopularity(ctx context.Context) ([]behavior.CourseScore, error)
}

// CourseSource is the catalogue read side.
type CourseSource interface {
	CoursesByIDs(ctx context.Context, ids []int64) (map[int64]catalog.Course, error)
	ActiveCoursesNewest(ctx context.Context, limit int, excludeIDs []int64) ([]catalog.Course, error)
}

// Options tune a Recommender.
type Options struct {
	// MemoTTL bounds staleness of the memoized similarity matrix.
	// Zero means 30s; negative disables memoization.
	MemoTTL time.Duration
}

// Recommender scores courses for a user.
type Recommender struct {
	logs    BehaviorSource
	courses CourseSource
	memo    *expirable.LRU[string, *similarityModel]
}

const memoKey = "hybrid"

// New builds a Recommender.
func New(logs BehaviorSource, courses CourseSource, opts Options) *Recommender {
	var r = &Recommender{logs: logs, courses: courses}
	if opts.MemoTTL >= 0 {
		var ttl = opts.MemoTTL
		if ttl == 0 {
			ttl = 30 * time.Second
		}
		r.memo = expirable.NewLRU[string, *similarityModel](1, nil, ttl)
	}
	return r
}

// Recommend returns at most topN recommendations for userID. Users
// without history get popular courses; so does any request whose
// history-based scoring fails internally.
func (r *Recommender) Recommend(ctx context.Context, userID int64, topN int, excludeInteracted bool) ([]Recommendation, error) {
	if topN <= 0 {
		topN = 10
	}

	var recs, err = r.byHistory(ctx, userID, topN, excludeInteracted)
	if err != nil {
		log.WithFields(log.Fields{"user": userID, "err": err}).
			Warn("history scoring failed; degrading to popularity")
		requests.WithLabelValues("degraded").Inc()
		return r.popular(ctx, topN, nil)
	}
	return recs, nil
}

func (r *Recommender) byHistory(ctx context.Context, userID int64, topN int, excludeInteracted bool) ([]Recommendation, error) {
	var userScores, err = r.logs.UserCourseWeights(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(userScores) == 0 {
		requests.WithLabelValues("cold_start").Inc()
		return r.popular(ctx, topN, nil)
	}

	model, err := r.similarity(ctx)
	if err != nil {
		return nil, err
	}
	if model == nil {
		// Fewer than two courses in the log: nothing to correlate.
		requests.WithLabelValues("sparse").Inc()
		return r.popular(ctx, topN, nil)
	}

	type scored struct {
		id    int64
		score float64
	}
	var candidates []scored
	for i, cid := range model.courseIDs {
		if excludeInteracted {
			if _, ok := userScores[cid]; ok {
				continue
			}
		}
		var score float64
		for interacted, weight := range userScores {
			if j, ok := model.index[interacted]; ok {
				score += model.sim.At(i, j) * weight
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{id: cid, score: score})
		}
	}

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].id < candidates[b].id
	})
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	var ids = make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	details, err := r.courses.CoursesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var recs []Recommendation
	for _, c := range candidates {
		var course, ok = details[c.id]
		if !ok || !course.Active() {
			continue
		}
		recs = append(recs, courseRecommendation(course, round4(c.score), ReasonHistory))
	}
	requests.WithLabelValues("history").Inc()

	if len(recs) < topN {
		var exclude = make(map[int64]bool, len(recs)+len(userScores))
		for _, rec := range recs {
			exclude[rec.CourseID] = true
		}
		for cid := range userScores {
			exclude[cid] = true
		}
		more, err := r.popular(ctx, topN-len(recs), exclude)
		if err != nil {
			return nil, err
		}
		recs = append(recs, more...)
	}
	return recs, nil
}

// popular is the cold-start and under-fill source: whole-log weight
// aggregation first, newest active courses as the final pad.
func (r *Recommender) popular(ctx context.Context, n int, exclude map[int64]bool) ([]Recommendation, error) {
	var scores, err = r.logs.CoursePopularity(ctx)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for _, cs := range scores {
		if exclude[cs.CourseID] {
			continue
		}
		ids = append(ids, cs.CourseID)
		if len(ids) == n {
			break
		}
	}

	details, err := r.courses.CoursesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var recs []Recommendation
	for _, id := range ids {
		var course, ok = details[id]
		if !ok || !course.Active() {
			continue
		}
		recs = append(recs, courseRecommendation(course, 0, ReasonPopular))
	}

	if len(recs) < n {
		var excludeIDs []int64
		for id := range exclude {
			excludeIDs = append(excludeIDs, id)
		}
		for _, rec := range recs {
			excludeIDs = append(excludeIDs, rec.CourseID)
		}
		newest, err := r.courses.ActiveCoursesNewest(ctx, n-len(recs), excludeIDs)
		if err != nil {
			return nil, err
		}
		for _, course := range newest {
			recs = append(recs, courseRecommendation(course, 0, ReasonPopular))
		}
	}
	return recs, nil
}

func courseRecommendation(c catalog.Course, score float64, reason string) Recommendation {
	return Recommendation{
		CourseID:             c.ID,
		CourseCode:           c.CourseCode,
		CourseName:           c.CourseName,
		MedicalDepartment:    c.MedicalDepartment,
		DifficultyLevel:      c.DifficultyLevel,
		Price:                c.Price,
		RecommendationScore:  score,
		RecommendationReason: reason,
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
