package recommend

import (
	"context"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/mededge/pulse/catalog"
)

// similarityModel is the hybrid course-course similarity matrix plus
// its stable course index ordering.
type similarityModel struct {
	courseIDs []int64
	index     map[int64]int
	sim       *mat.Dense
}

// similarity returns the hybrid similarity model, memoized for the
// configured TTL. A nil model (with nil error) means the log holds
// fewer than two courses.
func (r *Recommender) similarity(ctx context.Context) (*similarityModel, error) {
	if r.memo != nil {
		if model, ok := r.memo.Get(memoKey); ok {
			return model, nil
		}
	}

	var weights, err = r.logs.AllUserCourseWeights(ctx)
	if err != nil {
		return nil, err
	}

	var courseSet = make(map[int64]bool)
	var userIDs []int64
	for user, courses := range weights {
		userIDs = append(userIDs, user)
		for course := range courses {
			courseSet[course] = true
		}
	}
	var courseIDs = make([]int64, 0, len(courseSet))
	for course := range courseSet {
		courseIDs = append(courseIDs, course)
	}
	sort.Slice(courseIDs, func(i, j int) bool { return courseIDs[i] < courseIDs[j] })
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	if len(courseIDs) < 2 {
		return nil, nil
	}

	var index = make(map[int64]int, len(courseIDs))
	for i, id := range courseIDs {
		index[id] = i
	}

	// Dense user-course weight matrix with the stable orderings above.
	var m = mat.NewDense(len(userIDs), len(courseIDs), nil)
	for u, user := range userIDs {
		for course, w := range weights[user] {
			m.Set(u, index[course], w)
		}
	}

	behaviorSim := cosineColumns(m)
	attrSim, err := r.attributeSimilarity(ctx, courseIDs)
	if err != nil {
		return nil, err
	}

	var n = len(courseIDs)
	var hybrid = mat.NewDense(n, n, nil)
	hybrid.Scale(behaviorWeight, behaviorSim)
	attrSim.Scale(attributeWeight, attrSim)
	hybrid.Add(hybrid, attrSim)

	var model = &similarityModel{courseIDs: courseIDs, index: index, sim: hybrid}
	if r.memo != nil {
		r.memo.Add(memoKey, model)
	}
	return model, nil
}

// cosineColumns is pairwise cosine similarity of m's columns. Zero
// columns have zero similarity to everything, themselves included.
func cosineColumns(m *mat.Dense) *mat.Dense {
	var _, c = m.Dims()
	var out = mat.NewDense(c, c, nil)

	var norms = make([]float64, c)
	for j := 0; j != c; j++ {
		norms[j] = mat.Norm(m.ColView(j), 2)
	}

	for i := 0; i != c; i++ {
		for j := i; j != c; j++ {
			var sim float64
			if norms[i] > 0 && norms[j] > 0 {
				sim = mat.Dot(m.ColView(i), m.ColView(j)) / (norms[i] * norms[j])
			}
			out.Set(i, j, sim)
			out.Set(j, i, sim)
		}
	}
	return out
}

// attributeSimilarity builds the catalogue attribute similarity matrix
// for the given course ordering. Courses missing from the catalogue
// have zero similarity to everything.
func (r *Recommender) attributeSimilarity(ctx context.Context, courseIDs []int64) (*mat.Dense, error) {
	var courses, err = r.courses.CoursesByIDs(ctx, courseIDs)
	if err != nil {
		return nil, err
	}

	var n = len(courseIDs)
	var out = mat.NewDense(n, n, nil)
	for i := 0; i != n; i++ {
		out.Set(i, i, 1)
		var ci, iOK = courses[courseIDs[i]]
		for j := i + 1; j != n; j++ {
			var sim float64
			if cj, jOK := courses[courseIDs[j]]; iOK && jOK {
				sim = attributePairSimilarity(&ci, &cj)
			}
			out.Set(i, j, sim)
			out.Set(j, i, sim)
		}
	}
	return out, nil
}

// attributePairSimilarity scores two courses' attribute closeness in
// [0, 1]: +0.5 same department, up to +0.3 by difficulty proximity,
// +0.2 matching applicable titles.
func attributePairSimilarity(a, b *catalog.Course) float64 {
	var score float64

	if a.MedicalDepartment == b.MedicalDepartment {
		score += 0.5
	}

	var diff = a.DifficultyLevel - b.DifficultyLevel
	if diff < 0 {
		diff = -diff
	}
	if d := 0.3 - 0.1*float64(diff); d > 0 {
		score += d
	}

	if a.ApplicableTitle != "" && a.ApplicableTitle == b.ApplicableTitle {
		score += 0.2
	}

	if score > 1 {
		score = 1
	}
	return score
}
