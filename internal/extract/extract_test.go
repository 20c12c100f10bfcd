package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unishark/portalwatch/internal/watch"
)

const quizzesHTML = `
<html><body>
<section class="course-item">
  <strong class="course-name">Operating Systems</strong>
  <article class="quiz-item">
    <a class="quiz-name">Quiz 1</a>
    <span class="quiz-status">Closed at: Jul 11, 2025 at 10:45 PM</span>
    <span class="graded-status">8/10</span>
  </article>
  <article class="quiz-item">
    <a class="quiz-name">Quiz 2</a>
    <span class="quiz-status">Will be closed after: 1 days, 11 hours</span>
    <span class="graded-status">--</span>
  </article>
</section>
<section class="course-item">
  <strong class="course-name">Databases</strong>
</section>
</body></html>`

func TestQuizzes(t *testing.T) {
	quizzes, err := Quizzes(quizzesHTML)
	require.NoError(t, err)
	require.Len(t, quizzes, 2)

	require.Equal(t, watch.Quiz{
		Course:   "Operating Systems",
		Name:     "Quiz 1",
		ClosedAt: "Jul 11, 2025 at 10:45 PM",
		Grade:    "8/10",
		Graded:   true,
	}, quizzes[0])

	require.Equal(t, "Quiz 2", quizzes[1].Name)
	require.False(t, quizzes[1].Graded)
	require.Equal(t, "Not Graded", quizzes[1].Grade)
	require.Equal(t, "Will be closed after: 1 days, 11 hours", quizzes[1].ClosedAt)
}

const assignmentsHTML = `
<html><body>
<section class="course-item">
  <strong class="course-name">Networks</strong>
  <article class="assignment-item">
    <div class="assign-name">HW2</div>
    <div class="submit-status">Not Submitted</div>
    <div class="assign-status">Closed at: Jul 20, 2025 at 11:59 PM</div>
    <div class="graded-status"></div>
  </article>
</section>
</body></html>`

func TestAssignments(t *testing.T) {
	assignments, err := Assignments(assignmentsHTML)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	require.Equal(t, watch.Assignment{
		Course:       "Networks",
		Name:         "HW2",
		SubmitStatus: "Not Submitted",
		ClosedAt:     "Jul 20, 2025 at 11:59 PM",
		GradeStatus:  "Not Graded Yet",
	}, assignments[0])
}

func TestAssignmentsMissingFieldsGetDefaults(t *testing.T) {
	html := `<section class="course-item"><article class="assignment-item"></article></section>`
	assignments, err := Assignments(html)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	require.Equal(t, "Unknown Course", assignments[0].Course)
	require.Equal(t, "Unnamed Assignment", assignments[0].Name)
	require.Equal(t, "Status Unknown", assignments[0].SubmitStatus)
}

const absencesHTML = `
<html><body>
<div class="panel-group course-grp">
  <a class="accordion-toggle"><span>Operating Systems</span></a>
  <table>
    <tr><td>1</td><td>Lecture</td><td>Sat, 19/07/2025</td><td><i class="fa fa-times text-danger"></i>Absence</td></tr>
    <tr><td>2</td><td>Practical</td><td>Sun, 20/07/2025</td><td>Attended</td></tr>
    <tr><td>3</td><td>Lecture</td></tr>
  </table>
</div>
</body></html>`

func TestAbsences(t *testing.T) {
	absences, err := Absences(absencesHTML)
	require.NoError(t, err)
	require.Len(t, absences, 1)
	require.Equal(t, "Operating Systems", absences[0].Course)
	require.Equal(t, "Lecture", absences[0].Kind)
	require.Equal(t, "Sat, 19/07/2025", absences[0].Date)
	require.Contains(t, absences[0].Status, "Absence")
}

const registrationHTML = `
<html><body>
<span id="lbl-reg-end-date">Sep 15, 2025</span>
<article class="course-item">
  <div class="course-name">Compilers</div>
  <span class="course-hours">3</span>
  <span class="course-fees">1200</span>
  <div class="course-group">G1</div>
</article>
<article class="course-item"><span class="course-hours">2</span></article>
</body></html>`

func TestCourseRegistration(t *testing.T) {
	reg, err := CourseRegistration(registrationHTML)
	require.NoError(t, err)
	require.Equal(t, "Sep 15, 2025", reg.EndDate)
	require.Len(t, reg.Courses, 1)
	require.Equal(t, watch.CourseOffering{Name: "Compilers", Hours: "3", Fees: "1200", Group: "G1"}, reg.Courses[0])
}

func TestEmptyPages(t *testing.T) {
	quizzes, err := Quizzes("<html><body></body></html>")
	require.NoError(t, err)
	require.Empty(t, quizzes)

	absences, err := Absences("<html></html>")
	require.NoError(t, err)
	require.Empty(t, absences)
}
