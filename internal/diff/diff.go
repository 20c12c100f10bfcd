// Package diff detects new items between two snapshots.
package diff

import "github.com/unishark/portalwatch/internal/watch"

// Result lists the items present in the new snapshot but absent from the
// previous one, keyed per category. FirstRun is set when there was no
// previous snapshot; callers route those items to a distinct summary
// notification instead of the standard new-items alert.
type Result struct {
	FirstRun    bool
	Assignments []watch.Assignment
	Quizzes     []watch.Quiz
	Absences    []watch.Absence
	Courses     []watch.CourseOffering
}

// Count returns the total number of new items across categories.
func (r Result) Count() int {
	return len(r.Assignments) + len(r.Quizzes) + len(r.Absences) + len(r.Courses)
}

// Empty reports whether the diff found nothing new.
func (r Result) Empty() bool {
	return r.Count() == 0
}

// Snapshots compares prev against next by the per-category identity keys.
// A nil prev means first run: every item in next is new.
func Snapshots(prev *watch.Snapshot, next watch.Snapshot) Result {
	if prev == nil {
		return Result{
			FirstRun:    true,
			Assignments: next.Assignments,
			Quizzes:     next.Quizzes,
			Absences:    next.Absences,
			Courses:     next.Offerings,
		}
	}

	res := Result{}

	seen := make(map[string]struct{}, len(prev.Assignments))
	for _, a := range prev.Assignments {
		seen[a.Key()] = struct{}{}
	}
	for _, a := range next.Assignments {
		if _, ok := seen[a.Key()]; !ok {
			res.Assignments = append(res.Assignments, a)
		}
	}

	seen = make(map[string]struct{}, len(prev.Quizzes))
	for _, q := range prev.Quizzes {
		seen[q.Key()] = struct{}{}
	}
	for _, q := range next.Quizzes {
		if _, ok := seen[q.Key()]; !ok {
			res.Quizzes = append(res.Quizzes, q)
		}
	}

	seen = make(map[string]struct{}, len(prev.Absences))
	for _, ab := range prev.Absences {
		seen[ab.Key()] = struct{}{}
	}
	for _, ab := range next.Absences {
		if _, ok := seen[ab.Key()]; !ok {
			res.Absences = append(res.Absences, ab)
		}
	}

	seen = make(map[string]struct{}, len(prev.Offerings))
	for _, c := range prev.Offerings {
		seen[c.Key()] = struct{}{}
	}
	for _, c := range next.Offerings {
		if _, ok := seen[c.Key()]; !ok {
			res.Courses = append(res.Courses, c)
		}
	}

	return res
}
